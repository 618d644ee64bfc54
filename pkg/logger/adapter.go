package logger

import (
	"go.uber.org/zap"
)

// LoggerAdapter provides a unified interface for both single and multi-logger
type LoggerAdapter struct {
	multiLogger  *MultiLogger
	singleLogger *zap.Logger
	useMulti     bool
}

// NewLoggerAdapter creates an adapter that writes categories to the multi
// logger and everything else to main
func NewLoggerAdapter(multiLogger *MultiLogger, main *zap.Logger) *LoggerAdapter {
	return &LoggerAdapter{
		multiLogger:  multiLogger,
		singleLogger: main,
		useMulti:     multiLogger != nil,
	}
}

// NewSingleLoggerAdapter creates an adapter for a single logger
func NewSingleLoggerAdapter(logger *zap.Logger) *LoggerAdapter {
	return &LoggerAdapter{
		singleLogger: logger,
		useMulti:     false,
	}
}

// Install returns the install logger
func (la *LoggerAdapter) Install() *zap.Logger {
	if la.useMulti {
		return la.multiLogger.Install()
	}
	return la.singleLogger
}

// Queue returns the queue logger
func (la *LoggerAdapter) Queue() *zap.Logger {
	if la.useMulti {
		return la.multiLogger.Queue()
	}
	return la.singleLogger
}

// Error returns the error logger
func (la *LoggerAdapter) Error() *zap.Logger {
	if la.useMulti {
		return la.multiLogger.Error()
	}
	return la.singleLogger
}

// Main returns the process logger
func (la *LoggerAdapter) Main() *zap.Logger {
	return la.singleLogger
}

// LogError logs an error to both category and error logs
func (la *LoggerAdapter) LogError(category LogCategory, msg string, fields ...zap.Field) {
	if la.useMulti {
		la.multiLogger.LogError(category, msg, fields...)
		return
	}
	la.singleLogger.Error(msg, fields...)
}

// Sync flushes all loggers
func (la *LoggerAdapter) Sync() error {
	var err error
	if la.useMulti {
		err = la.multiLogger.Sync()
	}
	if la.singleLogger != nil {
		if serr := la.singleLogger.Sync(); err == nil {
			err = serr
		}
	}
	return err
}

// GetMultiLogger returns the underlying multi-logger (if available)
func (la *LoggerAdapter) GetMultiLogger() *MultiLogger {
	return la.multiLogger
}
