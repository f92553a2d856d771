package cfddns_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	cfddns "github.com/TGA309/Cloudflare-DDNS-Docker"
	"github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeZone is an in-memory provider holding a single A record. A non-empty
// echoContent makes updates store and report that value instead of the
// written one, imitating a provider that normalizes content.
type fakeZone struct {
	mu          sync.Mutex
	record      cfddns.Record
	echoContent string
	findCalls   int
	getCalls    int
	updateCalls int
	findErr     error
	getErr      error
	updateErr   error
}

func newFakeZone(content string) *fakeZone {
	return &fakeZone{record: cfddns.Record{
		ID:      "rec123",
		Name:    "home.example.com",
		Type:    "A",
		Content: content,
		TTL:     1,
	}}
}

func (z *fakeZone) FindRecord(ctx context.Context, zoneID, name string) (cfddns.Record, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.findCalls++
	if z.findErr != nil {
		return cfddns.Record{}, z.findErr
	}
	if !strings.EqualFold(name, z.record.Name) {
		return cfddns.Record{}, &cfddns.Error{Kind: cfddns.KindNotFound, Op: "fake.find", Err: errors.New("no such record")}
	}
	return z.record, nil
}

func (z *fakeZone) GetRecord(ctx context.Context, zoneID, recordID string) (cfddns.Record, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.getCalls++
	if z.getErr != nil {
		return cfddns.Record{}, z.getErr
	}
	if recordID != z.record.ID {
		return cfddns.Record{}, &cfddns.Error{Kind: cfddns.KindNotFound, Op: "fake.get", Err: errors.New("no such record id")}
	}
	return z.record, nil
}

func (z *fakeZone) UpdateRecord(ctx context.Context, zoneID, recordID string, params cfddns.UpdateParams) (cfddns.Record, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.updateCalls++
	if z.updateErr != nil {
		return cfddns.Record{}, z.updateErr
	}
	if recordID != z.record.ID {
		return cfddns.Record{}, &cfddns.Error{Kind: cfddns.KindNotFound, Op: "fake.update", Err: errors.New("no such record id")}
	}
	z.record.Content = params.Content
	if z.echoContent != "" {
		z.record.Content = z.echoContent
	}
	z.record.TTL = params.TTL
	z.record.Proxied = params.Proxied
	return z.record, nil
}

func (z *fakeZone) setUpdateErr(err error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.updateErr = err
}

func (z *fakeZone) snapshot() (record cfddns.Record, find, get, update int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.record, z.findCalls, z.getCalls, z.updateCalls
}

// sleepRecorder captures the durations the loop asked to sleep without
// letting real time pass.
type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (sr *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	sr.mu.Lock()
	sr.durations = append(sr.durations, d)
	sr.mu.Unlock()
	return ctx.Err()
}

func (sr *sleepRecorder) recorded() []time.Duration {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return append([]time.Duration(nil), sr.durations...)
}

func testConfig() cfddns.Config {
	return cfddns.Config{
		ZoneID:     "z1",
		RecordName: "home.example.com",
		Interval:   100 * time.Millisecond,
	}
}

func TestRunOnceUpdatesWhenAddressChanges(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeUpdated, cycle.Outcome)
	require.NoError(t, cycle.Err)
	require.Equal(t, "5.6.7.8", cycle.IP)
	require.Equal(t, "1.2.3.4", cycle.Previous)

	record, find, _, update := zone.snapshot()
	require.Equal(t, "5.6.7.8", record.Content)
	require.Equal(t, 1, record.TTL, "default TTL must be applied on update")
	require.False(t, record.Proxied)
	require.Equal(t, 1, find)
	require.Equal(t, 1, update, "exactly one update for one address change")
}

func TestRunOnceIdleWhenAddressMatches(t *testing.T) {
	zone := newFakeZone("5.6.7.8")
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeIdle, cycle.Outcome)
	require.NoError(t, cycle.Err)

	_, find, get, update := zone.snapshot()
	require.Equal(t, 1, find)
	require.Equal(t, 0, get)
	require.Equal(t, 0, update, "matching content must not be rewritten")
}

func TestRunOnceSkipsRemoteReadWhenIPUnchanged(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	first := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeUpdated, first.Outcome)

	second := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeIdle, second.Outcome)
	require.Equal(t, "5.6.7.8", second.Previous)

	_, find, get, update := zone.snapshot()
	require.Equal(t, 1, find, "record id stays pinned after the first lookup")
	require.Equal(t, 0, get, "an unchanged IP must not trigger a remote read")
	require.Equal(t, 1, update)
}

func TestRunOncePinsRecordID(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	ips := []string{"5.6.7.8", "9.9.9.9"}
	var calls int
	resolver := cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		ip := ips[calls%len(ips)]
		calls++
		return netip.MustParseAddr(ip), nil
	})
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(resolver),
	)
	require.NoError(t, err)

	require.Equal(t, cfddns.OutcomeUpdated, s.RunOnce(context.Background()).Outcome)
	require.Equal(t, cfddns.OutcomeUpdated, s.RunOnce(context.Background()).Outcome)

	record, find, get, update := zone.snapshot()
	require.Equal(t, "9.9.9.9", record.Content)
	require.Equal(t, 1, find, "by-name lookup happens once")
	require.Equal(t, 1, get, "later reads go by record id")
	require.Equal(t, 2, update)
}

func TestRunOnceUsesConfiguredRecordID(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	cfg := testConfig()
	cfg.RecordID = "rec123"
	s, err := cfddns.New(cfg,
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeUpdated, cycle.Outcome)

	_, find, get, _ := zone.snapshot()
	require.Equal(t, 0, find, "a preconfigured record id skips the by-name lookup")
	require.Equal(t, 1, get)
}

func TestRunOnceTrustsProviderEcho(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	zone.echoContent = "10.0.0.9"
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	first := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeUpdated, first.Outcome)

	// The provider reported different content than was written, so the next
	// cycle must read and write again instead of treating 5.6.7.8 as synced.
	second := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeUpdated, second.Outcome)
	require.Equal(t, "10.0.0.9", second.Previous)

	_, find, get, update := zone.snapshot()
	require.Equal(t, 1, find)
	require.Equal(t, 1, get)
	require.Equal(t, 2, update)
}

func TestRunOnceSkipsCycleWhenResolutionFails(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	resolver := cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		return netip.Addr{}, errors.New("all services down")
	})
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(resolver),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeSkipped, cycle.Outcome)
	require.Equal(t, cfddns.KindResolution, cfddns.KindOf(cycle.Err))

	_, find, get, update := zone.snapshot()
	require.Zero(t, find+get+update, "provider must not be contacted without a resolved address")
}

func TestRunOnceRejectsNonIPv4FromResolver(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	resolver := cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		return netip.MustParseAddr("2001:db8::1"), nil
	})
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(resolver),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeSkipped, cycle.Outcome)
	require.Equal(t, cfddns.KindResolution, cfddns.KindOf(cycle.Err))
}

func TestRunOnceFatalOnAuthFailure(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	zone.findErr = &cfddns.Error{Kind: cfddns.KindAuth, Op: "fake.find", Err: errors.New("invalid token")}
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeFatal, cycle.Outcome)
	require.Equal(t, cfddns.KindAuth, cfddns.KindOf(cycle.Err))
	require.Equal(t, cfddns.StateFailed, s.State())
}

func TestRunOnceFatalOnMissingRecord(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	cfg := testConfig()
	cfg.RecordName = "missing.example.com"
	s, err := cfddns.New(cfg,
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeFatal, cycle.Outcome)
	require.Equal(t, cfddns.KindNotFound, cfddns.KindOf(cycle.Err))
}

func TestRunOnceContinuesOnValidationError(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	zone.updateErr = &cfddns.Error{Kind: cfddns.KindValidation, Op: "fake.update", Err: errors.New("rejected payload")}
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
	)
	require.NoError(t, err)

	cycle := s.RunOnce(context.Background())
	require.Equal(t, cfddns.OutcomeFailed, cycle.Outcome)
	require.Equal(t, cfddns.KindValidation, cfddns.KindOf(cycle.Err))
	require.NotEqual(t, cfddns.StateFailed, s.State(), "a rejected payload must not stop the loop")
}

func TestRunStopsOnFatalError(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	zone.findErr = &cfddns.Error{Kind: cfddns.KindAuth, Op: "fake.find", Err: errors.New("invalid token")}
	recorder := &sleepRecorder{}
	var cycles int
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
		cfddns.WithSleep(recorder.sleep),
		cfddns.WithCycleHook(func(cfddns.Cycle) { cycles++ }),
	)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, cfddns.KindAuth, cfddns.KindOf(err))
	require.Equal(t, 1, cycles, "the loop must not continue past a fatal cycle")
	require.Empty(t, recorder.recorded())
}

func TestRunBackoffGrowsAndResets(t *testing.T) {
	zone := newFakeZone("1.2.3.4")
	zone.setUpdateErr(&cfddns.Error{Kind: cfddns.KindProvider, Op: "fake.update", Err: errors.New("bad gateway")})
	recorder := &sleepRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var outcomes []cfddns.Outcome
	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
		cfddns.WithSleep(recorder.sleep),
		cfddns.WithCycleHook(func(c cfddns.Cycle) {
			outcomes = append(outcomes, c.Outcome)
			switch c.Seq {
			case 3:
				zone.setUpdateErr(nil)
			case 5:
				cancel()
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))

	require.Equal(t, []cfddns.Outcome{
		cfddns.OutcomeFailed,
		cfddns.OutcomeFailed,
		cfddns.OutcomeFailed,
		cfddns.OutcomeUpdated,
		cfddns.OutcomeIdle,
	}, outcomes)

	interval := 100 * time.Millisecond
	sleeps := recorder.recorded()
	require.Len(t, sleeps, 4)
	requireWithin(t, sleeps[0], interval, 0.11)
	requireWithin(t, sleeps[1], 2*interval, 0.11)
	requireWithin(t, sleeps[2], 4*interval, 0.11)
	require.Equal(t, interval, sleeps[3], "a successful cycle sleeps exactly the configured interval")
}

func TestRunBackoffIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	resolver := cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		return netip.Addr{}, errors.New("all services down")
	})
	recorder := &sleepRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := cfddns.New(cfg,
		cfddns.UsingRecordClient(newFakeZone("1.2.3.4")),
		cfddns.UsingResolver(resolver),
		cfddns.WithSleep(recorder.sleep),
		cfddns.WithCycleHook(func(c cfddns.Cycle) {
			if c.Seq == 12 {
				cancel()
			}
		}),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	sleeps := recorder.recorded()
	require.Len(t, sleeps, 11)
	ceiling := 8 * cfg.Interval
	for i, d := range sleeps {
		require.LessOrEqual(t, d, time.Duration(float64(ceiling)*1.11), "sleep %d exceeded the cap", i)
	}
	require.GreaterOrEqual(t, sleeps[len(sleeps)-1], time.Duration(float64(ceiling)*0.89), "backoff should reach the cap")
}

func TestRunReturnsNilWhenCancelledDuringSleep(t *testing.T) {
	zone := newFakeZone("5.6.7.8")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := cfddns.New(testConfig(),
		cfddns.UsingRecordClient(zone),
		cfddns.UsingResolver(cfddns.StaticResolver("5.6.7.8")),
		cfddns.WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx), "termination by signal is not an error")
}

func TestNewValidation(t *testing.T) {
	valid := testConfig()

	cases := []struct {
		name   string
		mutate func(*cfddns.Config)
	}{
		{name: "empty zone id", mutate: func(c *cfddns.Config) { c.ZoneID = "" }},
		{name: "empty record name", mutate: func(c *cfddns.Config) { c.RecordName = "" }},
		{name: "record name without dot", mutate: func(c *cfddns.Config) { c.RecordName = "localhost" }},
		{name: "ttl below range", mutate: func(c *cfddns.Config) { c.TTL = 30 }},
		{name: "ttl above range", mutate: func(c *cfddns.Config) { c.TTL = 100000 }},
		{name: "negative interval", mutate: func(c *cfddns.Config) { c.Interval = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := cfddns.New(cfg, cfddns.UsingRecordClient(newFakeZone("1.2.3.4")))
			require.Error(t, err)
		})
	}

	t.Run("missing record client", func(t *testing.T) {
		_, err := cfddns.New(valid)
		require.Error(t, err)
	})

	t.Run("nil record client", func(t *testing.T) {
		_, err := cfddns.New(valid, cfddns.UsingRecordClient(nil))
		require.Error(t, err)
	})
}

// TestSyncEndToEnd drives the full stack: a fake echo service feeding the web
// resolver and a fake provider API behind the real SDK client. The record
// starts at 10.0.0.1 while the echo service reports 10.0.0.2.
func TestSyncEndToEnd(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "10.0.0.2\n")
	}))
	defer echo.Close()

	var mu sync.Mutex
	content := "10.0.0.1"
	updates := 0
	recordBody := func() string {
		return fmt.Sprintf(`{"id":"rec123","zone_id":"z1","name":"home.example.com","type":"A","content":%q,"ttl":1,"proxied":false}`, content)
	}
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/zones/z1/dns_records":
			body := fmt.Sprintf(`{"success":true,"errors":[],"messages":[],"result":[%s],"result_info":{"page":1,"per_page":100,"count":1,"total_count":1,"total_pages":1}}`, recordBody())
			io.WriteString(w, body)
		case r.Method == http.MethodPatch && r.URL.Path == "/zones/z1/dns_records/rec123":
			var params struct {
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				t.Errorf("decoding update body: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			content = params.Content
			updates++
			io.WriteString(w, fmt.Sprintf(`{"success":true,"errors":[],"messages":[],"result":%s}`, recordBody()))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	recorder := &sleepRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := cfddns.New(cfddns.Config{
		ZoneID:     "z1",
		RecordName: "home.example.com",
		Interval:   50 * time.Millisecond,
	},
		cfddns.UsingCloudflare("test-token", cloudflare.BaseURL(api.URL)),
		cfddns.UsingWebResolver(echo.URL),
		cfddns.WithLogger(zap.New(core)),
		cfddns.WithSleep(recorder.sleep),
		cfddns.WithCycleHook(func(c cfddns.Cycle) {
			if c.Seq == 2 {
				cancel()
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))

	mu.Lock()
	require.Equal(t, "10.0.0.2", content, "remote record must converge on the resolved address")
	require.Equal(t, 1, updates, "exactly one update call for one change")
	mu.Unlock()

	changes := logs.FilterMessage("record updated").All()
	require.Len(t, changes, 1, "exactly one change log line")
	fields := changes[0].ContextMap()
	require.Equal(t, "10.0.0.1", fields["old"])
	require.Equal(t, "10.0.0.2", fields["new"])

	sleeps := recorder.recorded()
	require.Equal(t, []time.Duration{50 * time.Millisecond}, sleeps, "a successful cycle sleeps exactly the interval")
}

func requireWithin(t *testing.T, got, want time.Duration, tolerance float64) {
	t.Helper()
	delta := time.Duration(float64(want) * tolerance)
	require.InDelta(t, float64(want), float64(got), float64(delta),
		"expected %s within %.0f%% of %s", got, tolerance*100, want)
}
