package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Default level
	Logger.SetLevel(logrus.InfoLevel)

	// Override from env, e.g., LOG_LEVEL=debug
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		_ = SetLevel(level)
	}
}

// SetLevel parses level (case-insensitive) and applies it to Logger.
// On a parse error the current level is kept and the error returned.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	Logger.SetLevel(parsed)
	return nil
}

// WithComponent adds a component field to the logger
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// WithKey adds component and record key fields, used by stores and controllers
// that log per-record activity.
func WithKey(component string, key any) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"component": component,
		"key":       key,
	})
}
