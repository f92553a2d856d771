package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	cfddns "github.com/TGA309/Cloudflare-DDNS-Docker"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Options is the daemon's environment contract. Every knob arrives through
// these variables; there is no config file.
type Options struct {
	APIToken     string   `envconfig:"CF_API_TOKEN"`
	APITokenFile string   `envconfig:"CF_API_TOKEN_FILE"`
	ZoneID       string   `envconfig:"CF_ZONE_ID" required:"true"`
	RecordName   string   `envconfig:"CF_RECORD_NAME" required:"true"`
	RecordID     string   `envconfig:"CF_RECORD_ID"`
	TTL          int      `envconfig:"CF_TTL" default:"1"`
	Proxied      bool     `envconfig:"CF_PROXIED" default:"false"`
	PollInterval int      `envconfig:"POLL_INTERVAL_SECONDS" default:"300"`
	IPServices   []string `envconfig:"IP_SERVICES"`
	HTTPTimeout  int      `envconfig:"HTTP_TIMEOUT_SECONDS" default:"10"`
	MetricsAddr  string   `envconfig:"METRICS_ADDR"`
	LogLevel     string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"LOG_FORMAT" default:"json"`
}

func loadOptions() (Options, error) {
	var opts Options
	if err := envconfig.Process("", &opts); err != nil {
		return Options{}, err
	}
	// envconfig splits IP_SERVICES on commas without trimming.
	opts.IPServices = lo.FilterMap(opts.IPServices, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) validate() error {
	if o.APIToken == "" && o.APITokenFile == "" {
		return errors.New("one of CF_API_TOKEN or CF_API_TOKEN_FILE must be set")
	}
	if !strings.Contains(o.RecordName, ".") {
		return fmt.Errorf("CF_RECORD_NAME %q must be fully qualified with at least one dot", o.RecordName)
	}
	if o.TTL != 1 && (o.TTL < 60 || o.TTL > 86400) {
		return fmt.Errorf("CF_TTL must be 1 or 60..86400; got %d", o.TTL)
	}
	if o.PollInterval < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 1; got %d", o.PollInterval)
	}
	if o.HTTPTimeout < 1 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be at least 1; got %d", o.HTTPTimeout)
	}
	switch o.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console; got %q", o.LogFormat)
	}
	return nil
}

func (o Options) interval() time.Duration {
	return time.Duration(o.PollInterval) * time.Second
}

func (o Options) httpTimeout() time.Duration {
	return time.Duration(o.HTTPTimeout) * time.Second
}

// resolveToken returns the API token from the environment or the token file.
// CF_API_TOKEN wins when both are set, so a compose file can override a
// mounted secret without unmounting it.
func (o Options) resolveToken() (string, error) {
	if o.APIToken != "" {
		return o.APIToken, nil
	}
	if err := verifyPermissions(o.APITokenFile); err != nil {
		return "", err
	}
	return readToken(o.APITokenFile)
}

// fields renders the effective configuration for the startup log line. The
// token itself never appears; only where it came from.
func (o Options) fields() []zap.Field {
	tokenSource := "env"
	if o.APIToken == "" {
		tokenSource = "file:" + o.APITokenFile
	}
	services := o.IPServices
	if len(services) == 0 {
		services = cfddns.DefaultIPServices
	}
	return []zap.Field{
		zap.String("zone_id", o.ZoneID),
		zap.String("record_name", o.RecordName),
		zap.String("record_id", o.RecordID),
		zap.Int("ttl", o.TTL),
		zap.Bool("proxied", o.Proxied),
		zap.Int("poll_interval_seconds", o.PollInterval),
		zap.Strings("ip_services", services),
		zap.String("token_source", tokenSource),
		zap.String("metrics_addr", o.MetricsAddr),
	}
}

func readToken(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading token file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading first line of %q: %w", path, err)
	}
	token := strings.TrimSpace(string(line))
	if token == "" {
		return "", fmt.Errorf("token file %q is empty", path)
	}
	return token, nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking token file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600, but 0400 is also
	// accepted: secrets managers often mount files readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: expected file permissions \"-rw-------\"; found %q", path, fs.FileMode(perms))
	}
	return nil
}
