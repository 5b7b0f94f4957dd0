package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// ParseLevel maps LOG_LEVEL style names onto logrus levels.
// Unknown names fall back to def.
func ParseLevel(name string, def logrus.Level) logrus.Level {
	switch strings.ToLower(name) {
	case "dev", "development", "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error", "production", "prod":
		return logrus.ErrorLevel
	}
	return def
}

// Init configures the standard logger. level overrides LOG_LEVEL when set.
func Init(level string, out io.Writer) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if out == nil {
		out = os.Stderr
	}

	logger := logrus.StandardLogger()
	logger.SetOutput(out)
	logger.SetLevel(ParseLevel(level, logrus.InfoLevel))
	logger.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// For returns an entry of the standard logger tagged with a component prefix.
func For(component string) *logrus.Entry {
	return logrus.StandardLogger().WithField("prefix", component)
}
