package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tywin1104/crew-gatekeeper/broker"
	"github.com/tywin1104/crew-gatekeeper/cache"
	"github.com/tywin1104/crew-gatekeeper/config"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/discord"
	"github.com/tywin1104/crew-gatekeeper/mailer"
	"github.com/tywin1104/crew-gatekeeper/relay"
	"github.com/tywin1104/crew-gatekeeper/server"
	"github.com/tywin1104/crew-gatekeeper/server/auth"
	"github.com/tywin1104/crew-gatekeeper/server/realtime"
	"github.com/tywin1104/crew-gatekeeper/watcher"
	"github.com/tywin1104/crew-gatekeeper/worker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 10 * time.Second

func init() {
	// Set up logrus logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

func main() {
	v := viper.New()
	c, err := config.LoadConfig(v, os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal("Unable to load config: " + err.Error())
	}
	logger := log.StandardLogger()
	watcher.ApplyLogLevel(logger, c)
	if v.ConfigFileUsed() != "" {
		watcher.WatchConfig(v, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := setupStore(ctx, c)
	passes := setupPassStore(ctx, c)

	hub := realtime.NewHub(log.WithField("origin", "realtime"))
	go hub.Run(ctx)

	// Notifications go to a Discord channel or to the ops' mailboxes
	var notifier relay.Notifier
	var mail *mailer.Notifier
	var dg *discordgo.Session
	switch c.Notifier {
	case config.NotifierDiscord:
		dg, err = discordgo.New("Bot " + c.Discord.Token)
		if err != nil {
			log.Fatal("Unable to create discord session: " + err.Error())
		}
		dg.Identify.Intents = discordgo.IntentsGuilds
		notifier = discord.NewNotifier(dg, c.Discord.ChannelID, log.WithField("origin", "discord"))
	case config.NotifierMail:
		mail = mailer.NewNotifier(mailer.Config{
			Server:     c.SMTPServer,
			Port:       c.SMTPPort,
			Email:      c.SMTPEmail,
			Password:   c.SMTPPassword,
			Ops:        c.Ops,
			PassPhrase: c.PassPhrase,
			WebsiteURL: c.WebsiteURL,
		}, log.WithField("origin", "mailer"))
		notifier = mail
	}

	var relayOpts []relay.Option
	var b *broker.Service
	if c.Dispatch == config.DispatchQueue {
		b, err = broker.NewService(c.RabbitmqConnStr, c.TaskQueueName, log.WithField("origin", "broker"))
		if err != nil {
			log.Fatal("Unable to setup broker: " + err.Error())
		}
		defer b.Close()
		log.Info("RabbitMQ connection established")
		go b.WatchForReconnect(ctx)
		relayOpts = append(relayOpts, relay.WithQueue(b))
	}
	relaySvc := relay.NewService(store, passes, notifier, hub, log.WithField("origin", "relay"), relayOpts...)

	if b != nil {
		w := worker.NewWorker(b, relaySvc, log.WithField("origin", "worker"))
		go w.Start(ctx)
	}

	if dg != nil {
		listener := discord.NewListener(dg, relaySvc, log.WithField("origin", "discord"))
		dg.AddHandler(listener.HandleInteraction)
		if err := dg.Open(); err != nil {
			log.Fatal("Unable to open discord session: " + err.Error())
		}
		defer dg.Close()
		log.Info("Discord session opened")
	}

	var serverOpts []server.Option
	if mail != nil {
		serverOpts = append(serverOpts, server.WithOps(mail))
	}
	if c.RecaptchaPrivateKey != "" {
		serverOpts = append(serverOpts, server.WithRecaptcha(server.NewRecaptchaVerifier(c.RecaptchaPrivateKey)))
	}
	sessions := auth.NewSessions(c.SessionSecret, strings.HasPrefix(c.WebsiteURL, "https://"))
	oauth := auth.NewDiscord(c.Discord.ClientID, c.Discord.ClientSecret, c.WebsiteURL+"/login")

	httpServer := server.NewService(relaySvc, hub, sessions, oauth, c, log.WithField("origin", "server"), serverOpts...)
	if err := httpServer.Listen(ctx, c.APIPort); err != nil {
		log.Fatal("http server stopped: " + err.Error())
	}
	log.Info("Bye")
}

func setupStore(ctx context.Context, c *config.Config) db.Store {
	if c.Store != config.StoreMongo {
		log.Warn("Using the in-memory submission store, submissions are lost on restart")
		return db.NewMemoryStore()
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(c.MongodbConnStr))
	if err != nil {
		log.Fatal("Unable to connect to mongodb: " + err.Error())
	}
	svc := db.NewService(client, c.MongodbName)
	if err := svc.Ping(connectCtx); err != nil {
		log.Fatal("Unable to reach mongodb: " + err.Error())
	}
	if err := svc.EnsureIndexes(connectCtx); err != nil {
		log.Fatal("Unable to create mongodb indexes: " + err.Error())
	}
	log.Info("Mongodb connection established")
	return svc
}

func setupPassStore(ctx context.Context, c *config.Config) cache.PassStore {
	if c.PassStore != config.StoreRedis {
		return cache.NewMemoryPassStore(c.PassTTL)
	}
	svc := cache.NewService(cache.NewPool(c.RedisConnStr), c.PassTTL, log.WithField("origin", "cache"))
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := svc.Ping(pingCtx); err != nil {
		log.Fatal("Unable to connect to redis: " + err.Error())
	}
	log.Info("Redis connection established")
	return svc
}
