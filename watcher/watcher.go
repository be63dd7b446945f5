package watcher

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tywin1104/crew-gatekeeper/config"
)

// ApplyLogLevel sets the logger level from the configuration, keeping the
// current level when the value is not a valid logrus level
func ApplyLogLevel(log *logrus.Logger, c *config.Config) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithFields(logrus.Fields{
			"err": err.Error(),
		}).Warn("Invalid logLevel, keeping the current level")
		return
	}
	log.SetLevel(level)
}

// HandleConfigChange re-validates the configuration after a change. Only the
// log level is applied live; everything else needs a restart.
func HandleConfigChange(v *viper.Viper, log *logrus.Logger, e fsnotify.Event) {
	log.WithFields(logrus.Fields{
		"file": e.Name,
		"op":   e.Op.String(),
	}).Info("Config file changed")
	c, err := config.Parse(v)
	if err != nil {
		log.WithFields(logrus.Fields{
			"err": err.Error(),
		}).Error("Invalid configuration. The application will not not work properly after a restart.")
		return
	}
	ApplyLogLevel(log, c)
}

// WatchConfig will watch for config file update and re-validate config values
func WatchConfig(v *viper.Viper, log *logrus.Logger) {
	v.OnConfigChange(func(e fsnotify.Event) {
		HandleConfigChange(v, log, e)
	})
	v.WatchConfig()
}
