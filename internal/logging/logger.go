package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

const schedulerMsgKey = "scheduler_msg"

var logger = newLogger("")
var schedulerLogger = newLogger(schedulerMsgKey)

func newLogger(msgKey string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(formatter("text", msgKey))
	l.SetLevel(logrus.InfoLevel)
	return l
}

func formatter(format, msgKey string) logrus.Formatter {
	var fields logrus.FieldMap
	if msgKey != "" {
		fields = logrus.FieldMap{logrus.FieldKeyMsg: msgKey}
	}
	if format == "json" {
		return &logrus.JSONFormatter{FieldMap: fields}
	}
	return &logrus.TextFormatter{FullTimestamp: true, FieldMap: fields}
}

// GetLogger returns the host-side logger (config, collectors, sinks, CLI).
func GetLogger() *logrus.Logger {
	return logger
}

// GetSchedulerLogger returns the logger used for engine statistics and decisions.
func GetSchedulerLogger() *logrus.Logger {
	return schedulerLogger
}

func SetLogLevel(level string) error {
	return setLevel(logger, level)
}

func SetSchedulerLogLevel(level string) error {
	return setLevel(schedulerLogger, level)
}

func setLevel(l *logrus.Logger, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	return nil
}

// SetFormat switches both loggers between "text" and "json" output.
func SetFormat(format string) {
	logger.SetFormatter(formatter(format, ""))
	schedulerLogger.SetFormatter(formatter(format, schedulerMsgKey))
}
