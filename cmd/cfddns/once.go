package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfddns "github.com/TGA309/Cloudflare-DDNS-Docker"
	"github.com/spf13/cobra"
)

var onceIP string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Perform a single sync cycle and exit",
	Long: `Resolves the public IP, compares it to the record, updates when they
differ, and exits. The exit status is zero only when the record is confirmed
to hold the resolved address. Uses the same environment contract as "run".`,
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

		var extra []cfddns.Option
		if onceIP != "" {
			extra = append(extra, cfddns.UsingResolver(cfddns.StaticResolver(onceIP)))
		}
		syncer, err := newSyncer(opts, logger, extra...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cycle := syncer.RunOnce(ctx)
		switch cycle.Outcome {
		case cfddns.OutcomeUpdated, cfddns.OutcomeIdle:
			return nil
		default:
			return cycle.Err
		}
	},
}

func init() {
	onceCmd.Flags().StringVar(&onceIP, "ip", "", "skip resolution and use this IPv4 address")
	rootCmd.AddCommand(onceCmd)
}
