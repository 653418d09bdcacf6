package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewExecutorLogger creates the logger shared by an executor's shuffle components.
// Unknown level names fall back to info.
func NewExecutorLogger(appID string, execID string, level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger.WithFields(logrus.Fields{
		"appID":  appID,
		"execID": execID,
	})
}

// ForMapOutput narrows an executor logger to a single map output
func ForMapOutput(log *logrus.Entry, shuffleID int, mapID int) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"shuffleID": shuffleID,
		"mapID":     mapID,
	})
}
