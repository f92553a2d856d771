package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cfddns "github.com/TGA309/Cloudflare-DDNS-Docker"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var tokenFile string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Interactively store a Cloudflare API token",
	Long: `Prompts for a Cloudflare API token without echoing it, verifies the token
against the API, and writes it to a file readable only by the owner. Point
CF_API_TOKEN_FILE at the file afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print("Enter Cloudflare API token: ")
		byteToken, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("error reading from stdin: %w", err)
		}
		token := strings.TrimSpace(string(byteToken))
		if token == "" {
			return errors.New("token cannot be empty")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cfddns.VerifyToken(ctx, token); err != nil {
			return fmt.Errorf("unable to verify api token: %w", err)
		}
		fmt.Println("token verified successfully")

		f, err := os.OpenFile(tokenFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("unable to create %q: %w", tokenFile, err)
		}
		defer f.Close()
		fmt.Fprintln(f, token)
		fmt.Printf("token written to %q\n", tokenFile)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFile, "file", defaultTokenPath(), "path to write the token file")
	rootCmd.AddCommand(tokenCmd)
}

func defaultTokenPath() string {
	return filepath.Join(os.Getenv("HOME"), ".cloudflare")
}
