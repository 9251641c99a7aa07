package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var logger = newLogger()

// newLogger builds the process-wide logger: text lines on stderr with full
// timestamps, so a scheduler redirecting stderr to a file gets a readable log.
func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// ParseLevel accepts the usual names in any case ("debug", "Info", "WARNING").
func ParseLevel(s string) (Level, error) {
	lv, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("log: unknown level %q", s)
	}
	switch lv {
	case logrus.TraceLevel, logrus.DebugLevel:
		return LevelDebug, nil
	case logrus.InfoLevel:
		return LevelInfo, nil
	case logrus.WarnLevel:
		return LevelWarn, nil
	default:
		return LevelError, nil
	}
}

func SetLevel(l Level) {
	switch l {
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

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	logger.WithFields(fields(kv...)).Debug(msg)
}

func Info(msg string, kv ...any) {
	logger.WithFields(fields(kv...)).Info(msg)
}

func Warn(msg string, kv ...any) {
	logger.WithFields(fields(kv...)).Warn(msg)
}

func Error(msg string, err error, kv ...any) {
	logger.WithFields(fields(kv...)).WithError(err).Error(msg)
}

// fields turns key, value, key, value... into logrus fields. Non-string keys
// and a trailing odd value are dropped.
func fields(kv ...any) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}
