package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/config"
	"github.com/tywin1104/crew-gatekeeper/relay"
	"github.com/tywin1104/crew-gatekeeper/server/auth"
	"github.com/tywin1104/crew-gatekeeper/server/realtime"
	"github.com/urfave/negroni"
)

const shutdownTimeout = 10 * time.Second

// OpChecker reports whether an e-mail belongs to a configured op
type OpChecker interface {
	IsOp(email string) bool
}

// Service is the web front door: pages, the session gate, the recruitment
// form, login, realtime endpoints and the admin API
type Service struct {
	relay     *relay.Service
	hub       *realtime.Hub
	sessions  *auth.Sessions
	oauth     *auth.Discord
	ops       OpChecker
	recaptcha RecaptchaVerifier
	c         *config.Config
	router    *mux.Router
	logger    *logrus.Entry

	pageGate  *jwtmiddleware.JWTMiddleware
	apiGate   *jwtmiddleware.JWTMiddleware
	adminGate *jwtmiddleware.JWTMiddleware
}

// Option configures the server
type Option func(*Service)

// WithOps enables the e-mail decision links for the given ops
func WithOps(ops OpChecker) Option {
	return func(svc *Service) {
		svc.ops = ops
	}
}

// WithRecaptcha requires a verified reCAPTCHA response on form submission
func WithRecaptcha(verify RecaptchaVerifier) Option {
	return func(svc *Service) {
		svc.recaptcha = verify
	}
}

// NewService creates the http service and registers all routes
func NewService(r *relay.Service, hub *realtime.Hub, sessions *auth.Sessions, oauth *auth.Discord, c *config.Config, logger *logrus.Entry, opts ...Option) *Service {
	svc := &Service{
		relay:    r,
		hub:      hub,
		sessions: sessions,
		oauth:    oauth,
		c:        c,
		router:   mux.NewRouter().StrictSlash(true),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.pageGate = sessions.Middleware(svc.redirectToLogin)
	svc.apiGate = sessions.Middleware(svc.unauthorized)
	svc.adminGate = svc.GetAuthMiddleware()
	svc.routes()
	return svc
}

func (svc *Service) routes() {
	// Public pages
	for _, page := range []string{"crew", "infractions", "protocols", "rules"} {
		svc.router.HandleFunc("/"+page, svc.handlePage(page)).Methods("GET")
	}
	svc.router.HandleFunc("/", svc.handlePage("index")).Methods("GET")

	// Pages behind the session gate
	svc.router.Handle("/recruitment", svc.pageGate.Handler(svc.handleRecruitmentPage())).Methods("GET")
	svc.router.Handle("/quiz", svc.pageGate.Handler(svc.handleQuiz())).Methods("GET")
	svc.router.Handle("/api/recruitment", svc.apiGate.Handler(svc.handleSubmit())).Methods("POST")

	svc.router.HandleFunc("/login", svc.handleLogin()).Methods("GET")
	svc.router.HandleFunc("/logout", svc.handleLogout()).Methods("GET")

	// Realtime decision flags, server to client only
	svc.router.Handle("/events", svc.hub).Methods("GET")
	svc.router.HandleFunc("/ws", svc.hub.WebsocketHandler()).Methods("GET")

	// Decision links sent to ops by e-mail
	svc.router.HandleFunc("/api/decisions/{token}", svc.handleDecisionPage()).Methods("GET")
	svc.router.HandleFunc("/api/decisions/{token}", svc.handleDecisionLink()).Methods("POST")

	// Admin signin and endpoints for internal consumption only
	svc.router.HandleFunc("/api/auth/", svc.HandleAdminSignin()).Methods("POST")
	internal := svc.router.PathPrefix("/api/internal").Subrouter()
	internal.Handle("/submissions", svc.adminOnly(svc.handleGetSubmissions())).Methods("GET")
	internal.Handle("/submissions/{id}", svc.adminOnly(svc.handleGetSubmission())).Methods("GET")
	internal.Handle("/submissions/{id}", svc.adminOnly(svc.handleDecideSubmission())).Methods("PATCH")
	internal.Handle("/stats", svc.adminOnly(svc.HandleGetAggregateStats())).Methods("GET")

	svc.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	svc.router.HandleFunc("/healthz", svc.handleHealth()).Methods("GET")
}

// adminOnly chains the admin jwt check in front of handler
func (svc *Service) adminOnly(handler http.Handler) http.Handler {
	return negroni.New(
		negroni.HandlerFunc(svc.adminGate.HandlerWithNext),
		negroni.Wrap(handler),
	)
}

// Handler returns the router wrapped with panic recovery, CORS and access logging
func (svc *Service) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{svc.c.WebsiteURL},
		AllowedMethods:   []string{"GET", "POST", "PATCH"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	recovery := negroni.NewRecovery()
	recovery.PrintStack = false
	n := negroni.New(recovery)
	n.UseHandler(c.Handler(svc.router))

	// capture http related metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(n, w, r)
		svc.logger.Infof("%s %s (code=%d dt=%s)",
			r.Method,
			r.URL.Path,
			m.Code,
			m.Duration,
		)
	})
}

// Listen serves http on port until ctx is cancelled, then shuts down gracefully
func (svc *Service) Listen(ctx context.Context, port string) error {
	log := svc.logger
	srv := &http.Server{
		Addr:              port,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Long lived realtime requests end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	log.WithFields(logrus.Fields{
		"port": port,
	}).Info("The http server starts listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down the http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (svc *Service) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
