package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfddns "github.com/TGA309/Cloudflare-DDNS-Docker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon until signalled",
	Long: `Runs the sync loop in the foreground until SIGINT or SIGTERM.

Required environment:
  CF_API_TOKEN or CF_API_TOKEN_FILE   Cloudflare API token scoped to the zone
  CF_ZONE_ID                          zone holding the record
  CF_RECORD_NAME                      fully qualified A record name

Optional environment:
  CF_RECORD_ID, CF_TTL, CF_PROXIED, POLL_INTERVAL_SECONDS, IP_SERVICES,
  HTTP_TIMEOUT_SECONDS, METRICS_ADDR, LOG_LEVEL, LOG_FORMAT`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		logger, err := newLogger(opts.LogLevel, opts.LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting cfddns",
			append([]zap.Field{zap.String("version", version)}, opts.fields()...)...)
		if opts.PollInterval < 30 {
			logger.Warn("poll interval is very low; expect provider rate limits",
				zap.Int("poll_interval_seconds", opts.PollInterval))
		}

		var hooks []cfddns.Option
		var m *metrics
		if opts.MetricsAddr != "" {
			m = newMetrics()
			hooks = append(hooks, cfddns.WithCycleHook(m.observe))
		}

		syncer, err := newSyncer(opts, logger, hooks...)
		if err != nil {
			logger.Error("startup failed", zap.Error(err))
			return err
		}

		if m != nil {
			srv := newMetricsServer(opts.MetricsAddr, m)
			go func() {
				logger.Info("metrics listener started", zap.String("addr", opts.MetricsAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics listener failed", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		return syncer.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// newSyncer wires a Syncer from the environment contract. Extra options are
// applied last so they can override the defaults.
func newSyncer(opts Options, logger *zap.Logger, extra ...cfddns.Option) (*cfddns.Syncer, error) {
	token, err := opts.resolveToken()
	if err != nil {
		return nil, err
	}
	options := []cfddns.Option{
		cfddns.UsingCloudflare(token),
		cfddns.UsingWebResolver(opts.IPServices...),
		cfddns.UsingHTTPClient(&http.Client{Timeout: opts.httpTimeout()}),
		cfddns.WithLogger(logger),
	}
	options = append(options, extra...)

	return cfddns.New(cfddns.Config{
		ZoneID:     opts.ZoneID,
		RecordName: opts.RecordName,
		RecordID:   opts.RecordID,
		TTL:        opts.TTL,
		Proxied:    opts.Proxied,
		Interval:   opts.interval(),
	}, options...)
}
