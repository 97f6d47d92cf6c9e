package logging

import (
	"io"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// New builds the process logger. format is "json" or "text"; unknown levels
// fall back to info.
func New(level, format string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Component returns an entry tagged with the component name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// AsynqLevel maps the logger level onto asynq's level set.
func AsynqLevel(logger *logrus.Logger) asynq.LogLevel {
	switch logger.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return asynq.DebugLevel
	case logrus.WarnLevel:
		return asynq.WarnLevel
	case logrus.ErrorLevel:
		return asynq.ErrorLevel
	case logrus.FatalLevel, logrus.PanicLevel:
		return asynq.FatalLevel
	}
	return asynq.InfoLevel
}
