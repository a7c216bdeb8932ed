package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	initOnce sync.Once
	logger   *logrus.Logger
)

// Logger returns the process-wide structured logger. One JSON object per event.
func Logger() *logrus.Logger {
	initOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// Event emits a named structured event.
func Event(name string, fields logrus.Fields) {
	Logger().WithFields(fields).Info(name)
}

// EventError emits a named structured event at error level.
func EventError(name string, err error, fields logrus.Fields) {
	Logger().WithFields(fields).WithError(err).Error(name)
}

// SetOutputForTest redirects log output (tests only).
func SetOutputForTest(l *logrus.Logger) {
	initOnce.Do(func() {})
	logger = l
}
