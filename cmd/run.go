package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"cxl-sched/internal/classifier"
	"cxl-sched/internal/collectors"
	"cxl-sched/internal/config"
	"cxl-sched/internal/database"
	"cxl-sched/internal/hints"
	"cxl-sched/internal/host"
	"cxl-sched/internal/logging"
	"cxl-sched/internal/metrics"
	"cxl-sched/internal/scheduler"
	"cxl-sched/internal/trace"

	"github.com/sirupsen/logrus"
)

type runOptions struct {
	configFile string
	traceFile  string
	duration   time.Duration
	// logLevelOverride is the --log-level flag; it wins over the config file.
	logLevelOverride string
}

type SchedulerRun struct {
	opts          runOptions
	config        *config.Config
	configContent string
	checksum      string
	hostConfig    *host.HostConfig
	trace         *trace.Trace

	engine        *scheduler.Engine
	collector     *collectors.Collector
	docker        *hints.DockerProvider
	influx        *database.InfluxSink
	spool         *database.Spool
	metricsServer *http.Server

	runID     int
	startTime time.Time
	endTime   time.Time

	background sync.WaitGroup
}

func runScheduler(ctx context.Context, opts runOptions) error {
	logger := logging.GetLogger()

	run := &SchedulerRun{opts: opts}

	var err error
	run.config, run.configContent, err = config.LoadConfigWithContent(opts.configFile)
	if err != nil {
		logger.WithField("config_file", opts.configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}
	run.applyLogging(run.config)

	if run.checksum, err = config.Checksum(run.config); err != nil {
		return fmt.Errorf("failed to checksum config: %w", err)
	}

	if opts.traceFile != "" {
		if run.trace, err = trace.Load(opts.traceFile); err != nil {
			logger.WithField("trace_file", opts.traceFile).WithError(err).Error("Failed to load trace")
			return fmt.Errorf("failed to load trace: %w", err)
		}
	}

	hostConfig, hostErr := host.GetHostConfig()
	if hostErr != nil {
		logger.WithError(hostErr).Warn("Failed to initialize host configuration, using runtime CPU count")
	} else {
		run.hostConfig = hostConfig
		logger.WithFields(logrus.Fields{
			"hostname":      hostConfig.Hostname,
			"cpu_model":     hostConfig.CPUModel,
			"cpus":          hostConfig.NumCPUs,
			"sockets":       hostConfig.NumSockets,
			"l3_domains":    len(hostConfig.L3Cache.Domains),
			"rdt_supported": hostConfig.RDT.MonitoringSupported,
		}).Info("Host configuration initialized")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run.setup(ctx); err != nil {
		stop()
		run.teardown()
		return err
	}

	logger.WithFields(logrus.Fields{
		"run_id":    run.runID,
		"scheduler": run.engine.Name(),
		"checksum":  run.checksum,
		"trace":     opts.traceFile != "",
	}).Info("Starting scheduler")

	reportCtx, stopReporter := context.WithCancel(context.Background())
	reporterDone := make(chan struct{})
	reporter := scheduler.NewReporter(run.engine, run.config.ReportInterval(), run.sinks()...)
	go func() {
		defer close(reporterDone)
		reporter.Run(reportCtx)
	}()

	run.startTime = time.Now()
	if run.trace != nil {
		err = run.replay(ctx)
	} else {
		err = run.loop(ctx)
	}
	run.endTime = time.Now()

	stopReporter()
	<-reporterDone
	stop()
	run.teardown()

	if err != nil {
		logger.WithError(err).Error("Scheduler run failed")
		return err
	}
	logger.WithFields(logrus.Fields{
		"run_id":   run.runID,
		"duration": run.endTime.Sub(run.startTime),
	}).Info("Scheduler run completed")
	return nil
}

func (r *SchedulerRun) applyLogging(cfg *config.Config) {
	logger := logging.GetLogger()
	logging.SetFormat(cfg.Scheduler.LogFormat)

	if r.opts.logLevelOverride == "" {
		if err := logging.SetLogLevel(cfg.Scheduler.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Scheduler.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		} else {
			logger.WithField("log_level", cfg.Scheduler.LogLevel).Debug("Log level set from configuration")
		}
	}
	if err := logging.SetSchedulerLogLevel(cfg.Scheduler.SchedulerLogLevel); err != nil {
		logger.WithField("scheduler_log_level", cfg.Scheduler.SchedulerLogLevel).WithError(err).Warn("Invalid scheduler log level, using default")
	}
}

// nrCPUs sizes the engine: the configured CPU list, the trace, or the host.
func (r *SchedulerRun) nrCPUs() int {
	n := 0
	for _, cpu := range r.config.Scheduler.CPUList {
		n = max(n, cpu+1)
	}
	if n > 0 {
		return n
	}
	if r.trace != nil {
		if r.trace.NrCPUs > 0 {
			return r.trace.NrCPUs
		}
		if highest := int(r.trace.MaxCPU()); highest >= 0 {
			return highest + 1
		}
	}
	if r.hostConfig != nil && r.hostConfig.NumCPUs > 0 {
		return r.hostConfig.NumCPUs
	}
	return runtime.NumCPU()
}

func (r *SchedulerRun) setup(ctx context.Context) error {
	logger := logging.GetLogger()
	nrCPUs := r.nrCPUs()
	opts := scheduler.OptionsFromConfig(r.config, nrCPUs)

	if r.config.Bandwidth.Source == "hardware" {
		cache, err := r.startCollector(ctx, nrCPUs)
		if err != nil {
			return err
		}
		opts.Source = cache
	}

	if r.config.Classifier.DockerHints {
		if provider := r.startDockerHints(ctx); provider != nil {
			opts.Providers = append([]classifier.HintProvider{provider}, opts.Providers...)
		}
	}

	engine, err := scheduler.NewEngine(opts, 0)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := engine.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	r.engine = engine

	if err := r.openSinks(ctx); err != nil {
		return err
	}

	if r.config.Metrics.Listen != "" {
		if err := r.startMetricsServer(); err != nil {
			return err
		}
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		if err := config.Watch(ctx, r.opts.configFile, r.reconfigure); err != nil {
			logger.WithError(err).Warn("Configuration hot reload disabled")
		}
	}()
	return nil
}

func (r *SchedulerRun) startCollector(ctx context.Context, nrCPUs int) (*collectors.SampleCache, error) {
	logger := logging.GetLogger()
	cpus := make([]int, nrCPUs)
	for i := range cpus {
		cpus[i] = i
	}

	var readers []collectors.Reader
	if r.config.Collectors.Perf {
		pr, err := collectors.NewPerfReader(cpus)
		if err != nil {
			logger.WithError(err).Warn("Perf counters unavailable")
		} else {
			readers = append(readers, pr)
		}
	}
	if r.config.Collectors.RDT {
		var cacheOf []int
		if r.hostConfig != nil {
			cacheOf = r.hostConfig.L3CacheID
		}
		rr, err := collectors.NewRDTReader(cacheOf)
		if err != nil {
			logger.WithError(err).Warn("RDT memory bandwidth monitoring unavailable")
		} else {
			readers = append(readers, rr)
		}
	}

	collectorConfig := collectors.CollectorConfig{Frequency: r.config.CollectorInterval()}
	if r.hostConfig != nil {
		collectorConfig.Utilization = r.hostConfig.MemoryBandwidthUtilizationPercent
	}
	cache := collectors.NewSampleCache(nrCPUs)
	collector := collectors.NewCollector(collectorConfig, cache, nrCPUs, readers...)
	if err := collector.Start(ctx); err != nil {
		_ = collector.Stop()
		return nil, fmt.Errorf("failed to start hardware collector: %w", err)
	}
	r.collector = collector

	logger.WithFields(logrus.Fields{
		"readers":   len(readers),
		"frequency": collectorConfig.Frequency,
	}).Info("Hardware collector started")
	return cache, nil
}

func (r *SchedulerRun) startDockerHints(ctx context.Context) *hints.DockerProvider {
	logger := logging.GetLogger()
	provider, err := hints.NewDockerProvider()
	if err != nil {
		logger.WithError(err).Warn("Docker hints disabled")
		return nil
	}
	r.docker = provider

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		provider.Run(ctx, r.config.ReportInterval())
	}()
	return provider
}

func (r *SchedulerRun) openSinks(ctx context.Context) error {
	logger := logging.GetLogger()
	data := r.config.Data

	if data.DB.Enabled() {
		influx, err := database.NewInfluxSink(ctx, data.DB)
		if err != nil {
			logger.WithError(err).Error("Failed to create database client")
			return fmt.Errorf("failed to create database client: %w", err)
		}
		r.influx = influx

		lastID, err := influx.LastRunID(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to get last run ID")
			return fmt.Errorf("failed to get last run ID: %w", err)
		}
		r.runID = lastID + 1
		influx.SetRun(r.runID, r.checksum)
	}

	if !data.DB.Enabled() || data.SpoolDir != "" {
		r.spool = database.NewSpool(data.SpoolDir, r.runID, r.engine.Name(), r.checksum, r.configContent, time.Now())
	}
	return nil
}

func (r *SchedulerRun) sinks() []scheduler.StatsSink {
	var sinks []scheduler.StatsSink
	if r.influx != nil {
		sinks = append(sinks, r.influx)
	}
	if r.spool != nil {
		sinks = append(sinks, r.spool)
	}
	return sinks
}

func (r *SchedulerRun) startMetricsServer() error {
	logger := logging.GetLogger()
	handler, err := metrics.Handler(r.engine)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              r.config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()
	logger.WithField("listen", r.config.Metrics.Listen).Info("Serving Prometheus metrics")
	return nil
}

// reconfigure applies a reloaded configuration. Only token bucket rates and log levels
// change at runtime; everything else needs a restart.
func (r *SchedulerRun) reconfigure(cfg *config.Config) {
	logger := logging.GetLogger()
	if cfg.TokenBucket.Scope != r.config.TokenBucket.Scope {
		logger.WithFields(logrus.Fields{
			"current":   r.config.TokenBucket.Scope,
			"requested": cfg.TokenBucket.Scope,
		}).Warn("Token bucket scope changes require a restart")
	}
	r.engine.Reconfigure(scheduler.TokenBucketConfig(cfg.TokenBucket))
	r.applyLogging(cfg)

	logger.WithFields(logrus.Fields{
		"read_mbps":  cfg.TokenBucket.ReadMBps,
		"write_mbps": cfg.TokenBucket.WriteMBps,
		"burst_ms":   cfg.TokenBucket.BurstMs,
	}).Info("Token buckets reconfigured")
}

func (r *SchedulerRun) replay(ctx context.Context) error {
	tick := uint64(r.config.TickInterval().Nanoseconds())
	_, err := trace.NewReplayer(r.engine, tick).Replay(ctx, r.trace)
	if errors.Is(err, context.Canceled) {
		logging.GetLogger().Info("Trace replay interrupted")
		return nil
	}
	return err
}

// loop ticks the engine in real time until the duration elapses or ctx is cancelled.
func (r *SchedulerRun) loop(ctx context.Context) error {
	logger := logging.GetLogger()

	ticker := time.NewTicker(r.config.TickInterval())
	defer ticker.Stop()

	if r.opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.duration)
		defer cancel()
	}

	logger.WithField("duration", r.opts.duration).Info("Scheduler running")

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				logger.Info("Run duration reached")
			} else {
				logger.Info("Scheduler interrupted")
			}
			return nil
		case <-ticker.C:
			r.engine.Tick(since(r.startTime))
		}
	}
}

// teardown stops everything setup started and persists the run. It is safe to call on
// a partially initialized run.
func (r *SchedulerRun) teardown() {
	logger := logging.GetLogger()

	if r.engine != nil {
		r.engine.Shutdown()
	}
	if r.collector != nil {
		if err := r.collector.Stop(); err != nil {
			logger.WithError(err).Warn("Error stopping collector")
		}
	}
	if r.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Error stopping metrics server")
		}
		cancel()
	}
	r.background.Wait()
	if r.docker != nil {
		if err := r.docker.Close(); err != nil {
			logger.WithError(err).Warn("Error closing Docker client")
		}
	}

	if r.engine != nil && !r.startTime.IsZero() {
		r.writeRunData()
	}
	if r.influx != nil {
		r.influx.Close()
	}
}

func (r *SchedulerRun) writeRunData() {
	logger := logging.GetLogger()
	meta := database.CollectRunMetadata(r.runID, r.engine.Name(), r.engine.GetVersion(), r.checksum,
		r.configContent, r.hostConfig, r.startTime, r.endTime)

	if r.influx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.influx.WriteMetadata(ctx, meta); err != nil {
			logger.WithError(err).Error("Failed to export metadata")
		}
		cancel()
	}
	if r.spool != nil {
		path, err := r.spool.Flush(meta, r.endTime)
		if err != nil {
			logger.WithError(err).Error("Failed to write spool artifact")
			return
		}
		logger.WithField("path", path).Info("Run statistics spooled")
	}
}
