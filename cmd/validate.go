package cmd

import (
	"cxl-sched/internal/config"
	"cxl-sched/internal/logging"
	"cxl-sched/internal/trace"

	"github.com/sirupsen/logrus"
)

func validateConfig(configFile, traceFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	checksum, err := config.Checksum(cfg)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"config_file": configFile,
		"checksum":    checksum,
		"cxl_cpus":    cfg.Scheduler.CXLCPUList,
		"source":      cfg.Bandwidth.Source,
	}).Info("Configuration is valid")

	if traceFile == "" {
		return nil
	}
	tr, err := trace.Load(traceFile)
	if err != nil {
		logger.WithField("trace_file", traceFile).WithError(err).Error("Trace validation failed")
		return err
	}
	logger.WithFields(logrus.Fields{
		"trace_file": traceFile,
		"steps":      len(tr.Steps),
	}).Info("Trace is valid")
	return nil
}
