package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"variantcore/internal/blob"
	"variantcore/internal/config"
	"variantcore/internal/core"
	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/metrics"
	"variantcore/internal/report"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

var rootCmd = &cobra.Command{
	Use:   "variantcore",
	Short: "Cluster submitted variants into RS accessions",
	Long: "variantcore assigns clustered (RS) accessions to submitted (SS) variants,\n" +
		"merges accessions that describe the same site and splits accessions\n" +
		"that span unrelated sites, across the legacy and live storage tiers.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "Path to a YAML config file")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Override the configured log level")
	f.StringVar(&rootFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(deprecateCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

// app holds everything a command needs; close releases it.
type app struct {
	cfg      config.Config
	logger   *logrus.Logger
	store    *docstore.Store
	counters *metrics.Counters
	service  *core.Service
	shutdown []func(context.Context) error
}

func newLogger(cfg config.Log, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// loadConfig reads the configuration, applies the root flags and builds the logger.
func loadConfig(cmd *cobra.Command) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}
	if rootFlags.metricsAddr != "" {
		cfg.Metrics.Addr = rootFlags.metricsAddr
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func openReportStore(ctx context.Context, cfg config.Report) (blob.Store, error) {
	blobs, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Driver),
		Dir:    cfg.Dir,
		S3: blob.S3Config{
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PathStyle:       cfg.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	return blobs, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, logger: logger, counters: metrics.NewCounters()}

	store, err := core.OpenVariantStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open variant store: %w", err)
	}
	rt.store = store
	rt.shutdown = append(rt.shutdown, func(context.Context) error { return store.Close() })

	provider, err := core.OpenProvider(ctx, store, cfg.Clustering.AccessionBlockSize)
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("seed accession provider: %w", err)
	}
	blobs, err := openReportStore(ctx, cfg.Report)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	if cfg.Metrics.Addr != "" {
		if err := rt.serveMetrics(cfg.Metrics.Addr); err != nil {
			rt.close(ctx)
			return nil, err
		}
	}
	rt.service = core.NewService(store, provider,
		core.WithLogger(logger),
		core.WithCounters(rt.counters),
		core.WithReports(report.NewWriter(blobs, logger)),
		core.WithChunking(cfg.Clustering.ChunkSize, cfg.Clustering.Workers),
		core.WithRetry(cfg.Clustering.RetryAttempts, cfg.Clustering.RetryInterval),
	)
	logger.WithFields(logrus.Fields{
		"storage": cfg.Storage.Driver,
		"reports": cfg.Report.Driver,
		"workers": cfg.Clustering.Workers,
	}).Debug("app ready")
	return rt, nil
}

func (rt *app) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(rt.counters, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.counters.PublishExpvar("variantcore_counters")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.WithError(err).Error("metrics server stopped")
		}
	}()
	rt.logger.WithField("addr", ln.Addr().String()).Info("serving metrics")
	rt.shutdown = append(rt.shutdown, srv.Shutdown)
	return nil
}

func (rt *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for i := len(rt.shutdown) - 1; i >= 0; i-- {
		if err := rt.shutdown[i](ctx); err != nil {
			rt.logger.WithError(err).Warn("shutdown")
		}
	}
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
