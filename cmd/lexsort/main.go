//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/entities/blob"
	enterrors "github.com/lexsort/lexsort/entities/errors"
	modstorefs "github.com/lexsort/lexsort/modules/store-filesystem"
	modstores3 "github.com/lexsort/lexsort/modules/store-s3"
	"github.com/lexsort/lexsort/usecases/config"
	"github.com/lexsort/lexsort/usecases/monitoring"
	"github.com/lexsort/lexsort/usecases/scheduler"
	"github.com/lexsort/lexsort/usecases/sorttree"
)

// Options represents command line options. Flags take precedence over the
// config file, fields set by neither fall back to the documented defaults.
type Options struct {
	ConfigFile string `long:"config-file" description:"optional YAML config file, flags override its values"`

	FileToSort string `long:"file-to-sort" description:"path of the file to sort"`
	Output     string `long:"output" description:"path the sorted output is written to"`

	Threshold   int64  `long:"threshold" description:"ranges of at most this many bytes are sorted in memory, larger ones are split; every line must fit"`
	SortMemory  string `long:"sort-memory" description:"memory requirement of an in-memory sort job, e.g. 100MiB"`
	MergeMemory string `long:"merge-memory" description:"memory requirement of a merge job, e.g. 100MiB"`

	Workers      int    `long:"workers" description:"maximum number of job bodies running at once"`
	MemoryBudget string `long:"memory-budget" description:"total memory running jobs may claim together, e.g. 4GiB, empty disables the budget"`

	StoreBackend string `long:"store" description:"store backend for intermediate files, filesystem or s3"`
	StorePath    string `long:"store-path" description:"root directory for the journal and the filesystem store"`
	S3Endpoint   string `long:"s3-endpoint" description:"s3 endpoint, defaults to AWS"`
	S3Bucket     string `long:"s3-bucket" description:"s3 bucket holding the run's intermediate files"`
	S3UseSSL     bool   `long:"s3-use-ssl" description:"connect to s3 over TLS"`

	RunID       string        `long:"run-id" description:"resume an interrupted run from its journal"`
	ScratchPath string        `long:"scratch-path" description:"directory for per-job scratch files, defaults to <store-path>/scratch"`
	ScratchTTL  time.Duration `long:"scratch-ttl" description:"age after which abandoned scratch directories are swept"`

	MonitoringPort int    `long:"monitoring-port" description:"serve prometheus metrics on this port, 0 disables the listener"`
	LogLevel       string `long:"log-level" default:"info" description:"log level, one of trace, debug, info"`
	LogFormat      string `long:"log-format" default:"json" description:"log format, json or text"`
}

func main() {
	var opts Options
	_, err := flags.Parse(&opts)
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		logrus.New().WithError(err).Fatal("failed to parse command line args")
	}

	logger := newLogger(opts)

	cfg, err := buildConfig(opts)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	resume := cfg.RunID != ""
	if !resume {
		cfg.RunID = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.WithFields(logrus.Fields{"app": "lexsort", "run_id": cfg.RunID})
	log.WithFields(logrus.Fields{
		"input":     cfg.InputPath,
		"output":    cfg.OutputPath,
		"threshold": cfg.Threshold,
		"workers":   cfg.Workers,
		"store":     cfg.Store.Backend,
		"resume":    resume,
	}).Info("starting sort")

	if err := run(ctx, log, cfg); err != nil {
		log.WithError(err).Fatal("sort failed")
	}
}

func run(ctx context.Context, log logrus.FieldLogger, cfg config.Config) error {
	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	if cfg.MonitoringPort > 0 {
		enterrors.GoWrapper(func() {
			if err := monitoring.ServeMetrics(ctx, log, registry, cfg.MonitoringPort); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}, log)
	}

	store, err := newStore(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}

	journal, err := scheduler.OpenJournal(filepath.Join(cfg.Store.RootPath, "journal"), log)
	if err != nil {
		return err
	}
	defer journal.Close()

	err = journal.EnsureRun(cfg.RunID, scheduler.RunPin{
		InputPath:    cfg.InputPath,
		OutputPath:   cfg.OutputPath,
		Threshold:    cfg.Threshold,
		StoreBackend: cfg.Store.Backend,
	})
	if err != nil {
		return err
	}

	scratchBase := filepath.Join(cfg.Scratch.Path, cfg.RunID)

	runner := scheduler.NewRunner(scheduler.RunnerParams{
		Store:   store,
		Journal: journal,
		RunID:   cfg.RunID,

		Logger:  log,
		Metrics: metrics,

		Workers:           cfg.Workers,
		MemoryBudgetBytes: cfg.MemoryBudgetBytes,

		ScratchBase: scratchBase,
		ScratchTTL:  cfg.Scratch.TTL,
	})

	params := sorttree.Params{
		Store:            store,
		ScratchBase:      scratchBase,
		Threshold:        cfg.Threshold,
		SortMemoryBytes:  cfg.SortMemoryBytes,
		MergeMemoryBytes: cfg.MergeMemoryBytes,
	}

	start := time.Now()
	out, err := runner.Execute(ctx, sorttree.NewSetup(params, cfg.InputPath, cfg.OutputPath))
	if err != nil {
		// The journal keeps every completed subtree, a later invocation
		// with the same run id resumes where this one stopped.
		return err
	}

	log.WithFields(logrus.Fields{
		"output": string(out),
		"took":   time.Since(start),
	}).Info("sort complete")

	// The destination is in place, the run's scaffolding can go. Failing
	// here must not fail the sort, leftovers only cost space.
	if err := store.Destroy(ctx); err != nil {
		log.WithError(err).Warn("destroy store namespace of finished run")
	}
	if err := journal.DeleteRun(cfg.RunID); err != nil {
		log.WithError(err).Warn("remove finished run from journal")
	}

	return nil
}

func newStore(ctx context.Context, cfg config.Config,
	log logrus.FieldLogger, metrics *monitoring.Metrics,
) (blob.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFilesystem:
		root := filepath.Join(cfg.Store.RootPath, "blobs", cfg.RunID)
		return modstorefs.New(root, log, metrics)
	case config.StoreBackendS3:
		return modstores3.New(ctx, cfg.Store.S3, cfg.RunID, log, metrics)
	default:
		return nil, enterrors.NewErrConfigurationf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildConfig(opts Options) (config.Config, error) {
	var cfg config.Config
	if opts.ConfigFile != "" {
		if err := config.FromFile(opts.ConfigFile, &cfg); err != nil {
			return cfg, err
		}
	}

	if opts.FileToSort != "" {
		cfg.InputPath = opts.FileToSort
	}
	if opts.Output != "" {
		cfg.OutputPath = opts.Output
	}
	if opts.Threshold != 0 {
		cfg.Threshold = opts.Threshold
	}
	if opts.Workers != 0 {
		cfg.Workers = opts.Workers
	}
	if opts.RunID != "" {
		cfg.RunID = opts.RunID
	}
	if opts.StoreBackend != "" {
		cfg.Store.Backend = opts.StoreBackend
	}
	if opts.StorePath != "" {
		cfg.Store.RootPath = opts.StorePath
	}
	if opts.S3Endpoint != "" {
		cfg.Store.S3.Endpoint = opts.S3Endpoint
	}
	if opts.S3Bucket != "" {
		cfg.Store.S3.Bucket = opts.S3Bucket
	}
	if opts.S3UseSSL {
		cfg.Store.S3.UseSSL = true
	}
	if opts.ScratchPath != "" {
		cfg.Scratch.Path = opts.ScratchPath
	}
	if opts.ScratchTTL != 0 {
		cfg.Scratch.TTL = opts.ScratchTTL
	}
	if opts.MonitoringPort != 0 {
		cfg.MonitoringPort = opts.MonitoringPort
	}

	if opts.SortMemory != "" || cfg.SortMemoryBytes == 0 {
		n, err := memoryValue(opts.SortMemory, config.DefaultSortMemory)
		if err != nil {
			return cfg, err
		}
		cfg.SortMemoryBytes = n
	}
	if opts.MergeMemory != "" || cfg.MergeMemoryBytes == 0 {
		n, err := memoryValue(opts.MergeMemory, config.DefaultMergeMemory)
		if err != nil {
			return cfg, err
		}
		cfg.MergeMemoryBytes = n
	}
	if opts.MemoryBudget != "" {
		n, err := config.ParseMemoryString(opts.MemoryBudget)
		if err != nil {
			return cfg, errors.Wrap(err, "memory budget")
		}
		cfg.MemoryBudgetBytes = n
	}

	if cfg.Threshold == 0 {
		cfg.Threshold = config.DefaultThreshold
	}
	if cfg.Workers == 0 {
		cfg.Workers = config.DefaultWorkers
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = config.StoreBackendFilesystem
	}
	if cfg.Scratch.Path == "" && cfg.Store.RootPath != "" {
		cfg.Scratch.Path = filepath.Join(cfg.Store.RootPath, "scratch")
	}
	if cfg.Scratch.TTL == 0 {
		cfg.Scratch.TTL = config.DefaultScratchTTL
	}

	return cfg, nil
}

func memoryValue(flag, fallback string) (int64, error) {
	if flag == "" {
		flag = fallback
	}
	return config.ParseMemoryString(flag)
}

// newLogger does not consult the config file, logging must work before the
// configuration is even loaded. Defaults to log level info and json format.
func newLogger(opts Options) *logrus.Logger {
	logger := logrus.New()
	if opts.LogFormat != "text" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	switch opts.LogLevel {
	case "trace":
		logger.SetLevel(logrus.TraceLevel)
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
