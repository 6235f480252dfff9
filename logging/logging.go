package logging

import (
	"github.com/sirupsen/logrus"
)

const (
	// TraceLevel indicates a log message's level of criticality
	TraceLevel = iota
	// DebugLevel indicates a log message's level of criticality
	DebugLevel
	// InfoLevel indicates a log message's level of criticality
	InfoLevel
	// WarnLevel indicates a log message's level of criticality
	WarnLevel
	// ErrorLevel indicates a log message's level of criticality
	ErrorLevel
	// FatalLevel indicates a log message's level of criticality
	FatalLevel
)

// LogLevelToString translates a log level enum to a string representation
func LogLevelToString(level int) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "TRACE"
	}
}

// ToLogrus translates a log level enum to a logrus.Level
func ToLogrus(level int) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.TraceLevel
	}
}

// FromLogrus translates a logrus.Level to a log level enum
func FromLogrus(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel:
		return DebugLevel
	case logrus.InfoLevel:
		return InfoLevel
	case logrus.WarnLevel:
		return WarnLevel
	case logrus.ErrorLevel:
		return ErrorLevel
	case logrus.FatalLevel, logrus.PanicLevel:
		return FatalLevel
	default:
		return TraceLevel
	}
}

// NewLogger creates a text-formatted logrus Logger at the given level
func NewLogger(level int) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(ToLogrus(level))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// Default returns the logger used by components which were not supplied with one
func Default() logrus.FieldLogger {
	return logrus.StandardLogger()
}
