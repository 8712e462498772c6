package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WatchLogLevel re-reads log_level whenever the config file changes. It is a
// no-op when no config file was found.
func (l *Loader) WatchLogLevel(level zap.AtomicLevel, log *zap.Logger) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		raw := l.v.GetString("log_level")
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			log.Warn("ignoring invalid log_level from config file", zap.String("value", raw), zap.Error(err))
			return
		}
		if parsed != level.Level() {
			level.SetLevel(parsed)
			log.Info("log level changed", zap.String("level", parsed.String()), zap.String("file", e.Name))
		}
	})
	l.v.WatchConfig()
}
