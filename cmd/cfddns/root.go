package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cfddns",
	Short: "Keep a Cloudflare DNS A record pointed at this host's public IP",
	Long: `cfddns is a small daemon for hosts on dynamic IP connections. On a fixed
interval it asks public echo services for the host's IPv4 address, compares
the answer against a Cloudflare A record, and rewrites the record when they
differ.

Configuration arrives through environment variables; run
"cfddns run --help" for the contract.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
