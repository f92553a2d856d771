package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTTL of 1 means "automatic" to Cloudflare.
	DefaultTTL = 1
	// DefaultInterval between sync cycles.
	DefaultInterval = 5 * time.Minute
)

// Config identifies the record to keep in sync and how to write it.
type Config struct {
	// ZoneID of the Cloudflare zone holding the record.
	ZoneID string
	// RecordName is the fully qualified name of the A record.
	RecordName string
	// RecordID optionally pins the record up front, skipping the by-name
	// lookup on the first cycle.
	RecordID string
	// TTL applied on every update. Zero means DefaultTTL. Cloudflare
	// accepts 1 (automatic) or 60 through 86400 seconds.
	TTL int
	// Proxied applied on every update.
	Proxied bool
	// Interval between cycles. Zero means DefaultInterval.
	Interval time.Duration
}

func (c Config) validate() error {
	if c.ZoneID == "" {
		return errors.New("zone ID cannot be empty")
	}
	if c.RecordName == "" {
		return errors.New("record name cannot be empty")
	}
	if !strings.Contains(c.RecordName, ".") {
		return errors.New("record name must have at least one dot")
	}
	if c.TTL != 0 && c.TTL != 1 && (c.TTL < 60 || c.TTL > 86400) {
		return fmt.Errorf("ttl %d is out of range: want 1 or 60..86400", c.TTL)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval %s cannot be negative", c.Interval)
	}
	return nil
}

// New builds a Syncer for cfg. A record client is mandatory; use
// UsingCloudflare or UsingRecordClient. The resolver defaults to
// WebResolver with DefaultIPServices.
func New(cfg Config, options ...Option) (*Syncer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("cfddns.New: %w", err)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}

	s := &Syncer{
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  sleepContext,
		runID:  uuid.NewString(),
		state:  StateSleeping,
	}
	for i, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("cfddns.New: option %d returned an error: %w", i, err)
		}
	}

	if s.records == nil {
		return nil, errors.New("cfddns.New: no record client was registered - use cfddns.UsingCloudflare or cfddns.UsingRecordClient")
	}
	if s.resolver == nil {
		r, err := WebResolver()
		if err != nil {
			return nil, fmt.Errorf("cfddns.New: %w", err)
		}
		s.resolver = r
	}

	s.recordID = cfg.RecordID
	s.retrySleep = newRetrySchedule(cfg.Interval)
	s.logger = s.logger.With(zap.String("run_id", s.runID))
	// Propagates the logger to dependencies that were registered before
	// WithLogger was applied.
	withLogger(s.logger)(s)
	return s, nil
}

// Option configures a Syncer during New.
type Option func(*Syncer) error

// UsingCloudflare registers the Cloudflare record client, authenticated with
// an API token scoped to the target zone. Extra SDK options are applied to
// the underlying client.
func UsingCloudflare(token string, opts ...cloudflare.Option) Option {
	return func(s *Syncer) error {
		cf, err := newCloudflareClient(token, opts...)
		if err != nil {
			return fmt.Errorf("cfddns.UsingCloudflare: %w", err)
		}
		s.records = cf
		return nil
	}
}

// UsingRecordClient registers a custom record client.
func UsingRecordClient(rc RecordClient) Option {
	return func(s *Syncer) error {
		if rc == nil {
			return errors.New("cfddns.UsingRecordClient: client cannot be nil")
		}
		s.records = rc
		return nil
	}
}

// UsingResolver replaces the public IP resolver. A nil resolver restores the
// default.
func UsingResolver(resolver Resolver) Option {
	return func(s *Syncer) error {
		s.resolver = resolver
		return nil
	}
}

// UsingWebResolver replaces the resolver with one that queries the given
// echo services in order.
func UsingWebResolver(serviceURL ...string) Option {
	return func(s *Syncer) error {
		r, err := WebResolver(serviceURL...)
		if err != nil {
			return fmt.Errorf("cfddns.UsingWebResolver: %w", err)
		}
		s.resolver = r
		return nil
	}
}

// UsingHTTPClient replaces the HTTP client used for echo-service lookups and
// provider calls. Nil restores http.DefaultClient.
func UsingHTTPClient(httpclient *http.Client) Option {
	return func(s *Syncer) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		if wr, ok := s.resolver.(*webResolver); ok {
			wr.httpClient = httpclient
		}
		if cf, ok := s.records.(*cloudflareClient); ok {
			cloudflare.HTTPClient(httpclient)(cf.api)
		}
		return nil
	}
}

// WithLogger attaches a logger. Nil discards all output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Syncer) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		s.logger = logger
		return nil
	}
}

func withLogger(logger *zap.Logger) Option {
	return func(s *Syncer) error {
		if cf, ok := s.records.(*cloudflareClient); ok {
			cf.logger = logger
		}
		return nil
	}
}

// WithSleep replaces the timer used between cycles. Tests use this to run
// the loop without real time passing. The function must return a non-nil
// error when ctx ends before the duration elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Syncer) error {
		if fn == nil {
			fn = sleepContext
		}
		s.sleep = fn
		return nil
	}
}

// WithCycleHook registers fn to observe every completed cycle. The hook runs
// synchronously on the loop goroutine.
func WithCycleHook(fn func(Cycle)) Option {
	return func(s *Syncer) error {
		s.hook = fn
		return nil
	}
}
