package rlog

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) MarshalText() (text []byte, err error) {
	return []byte(l), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	*l = Level(text)

	validLevels := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}
	if !slices.Contains(validLevels, *l) {
		return fmt.Errorf("valid values: %v", validLevels)
	}
	return nil
}

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	return l
}

// SetLevel sets the minimal level of messages to be written.
func SetLevel(level Level) {
	switch level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}

func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// WithFields returns an entry with attached fields. It should be used for messages
// that describe a specific request (an image url, a cache key and etc.).
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

func Debug(v ...any)                 { logger.Debugln(v...) }
func Debugf(format string, v ...any) { logger.Debugf(format, v...) }

func Info(v ...any)                 { logger.Infoln(v...) }
func Infof(format string, v ...any) { logger.Infof(format, v...) }

func Warn(v ...any)                 { logger.Warnln(v...) }
func Warnf(format string, v ...any) { logger.Warnf(format, v...) }

func Error(v ...any)                 { logger.Errorln(v...) }
func Errorf(format string, v ...any) { logger.Errorf(format, v...) }
