package cfddns

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// State identifies where the sync loop is within a cycle.
type State string

const (
	StateResolving State = "resolving"
	StateChecking  State = "checking"
	StateUpdating  State = "updating"
	StateIdle      State = "idle"
	StateSleeping  State = "sleeping"
	// StateFailed is terminal. The loop only enters it on failures that
	// cannot heal without operator action.
	StateFailed State = "failed"
)

// Outcome summarizes a completed cycle.
type Outcome string

const (
	// OutcomeUpdated means the remote record was rewritten.
	OutcomeUpdated Outcome = "updated"
	// OutcomeIdle means the record already held the resolved address.
	OutcomeIdle Outcome = "idle"
	// OutcomeSkipped means the public IP could not be resolved, so the
	// provider was never contacted.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means a provider call failed transiently.
	OutcomeFailed Outcome = "failed"
	// OutcomeFatal means the loop must stop.
	OutcomeFatal Outcome = "fatal"
)

// Cycle reports what a single pass did. Err is nil unless Outcome is
// skipped, failed, or fatal.
type Cycle struct {
	Seq      int
	Outcome  Outcome
	IP       string
	Previous string
	Err      error
}

// Syncer drives one DNS record towards the host's public IPv4 address. It is
// built by New and owned by a single goroutine; neither RunOnce nor Run may
// be called concurrently.
type Syncer struct {
	cfg      Config
	resolver Resolver
	records  RecordClient
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	hook     func(Cycle)
	runID    string

	state    State
	seq      int
	recordID string
	// lastSynced is the record content this process last confirmed at the
	// provider. It only ever holds validated addresses, and it is not
	// persisted: a restart always re-reads the remote record.
	lastSynced string
	retrySleep *backoff.ExponentialBackOff
}

// State returns the loop's current position in the cycle.
func (s *Syncer) State() State {
	return s.state
}

func (s *Syncer) transition(to State) {
	s.logger.Debug("state transition",
		zap.String("from", string(s.state)),
		zap.String("to", string(to)),
	)
	s.state = to
}

// RunOnce performs one full resolve, compare, and conditional update pass.
// It never sleeps. Transient failures are reported in the returned Cycle,
// not retried.
func (s *Syncer) RunOnce(ctx context.Context) Cycle {
	s.seq++
	cycle := Cycle{Seq: s.seq}
	log := s.logger.With(zap.Int("cycle", s.seq))

	s.transition(StateResolving)
	ip, err := s.resolver.Resolve(ctx)
	if err != nil {
		cycle.Err = &Error{Kind: KindResolution, Op: "resolve", Err: err}
		cycle.Outcome = OutcomeSkipped
		log.Warn("public IP resolution failed, skipping cycle", zap.Error(cycle.Err))
		return s.finish(cycle)
	}
	// Injected resolvers are not trusted to validate.
	if !ip.Is4() {
		cycle.Err = &Error{
			Kind: KindResolution,
			Op:   "resolve",
			Err:  fmt.Errorf("resolver returned %q, want dotted-quad IPv4", ip),
		}
		cycle.Outcome = OutcomeSkipped
		log.Warn("public IP resolution failed, skipping cycle", zap.Error(cycle.Err))
		return s.finish(cycle)
	}
	cycle.IP = ip.String()
	log = log.With(zap.String("ip", cycle.IP))

	// When the resolved address matches what this process last synced,
	// the remote read is skipped entirely.
	if s.lastSynced != "" && cycle.IP == s.lastSynced {
		s.transition(StateIdle)
		cycle.Outcome = OutcomeIdle
		cycle.Previous = s.lastSynced
		log.Debug("public IP unchanged since last sync")
		return s.finish(cycle)
	}

	s.transition(StateChecking)
	record, err := s.currentRecord(ctx)
	if err != nil {
		return s.fail(cycle, err, log)
	}
	cycle.Previous = record.Content

	if record.Content == cycle.IP {
		s.transition(StateIdle)
		s.lastSynced = cycle.IP
		cycle.Outcome = OutcomeIdle
		log.Debug("record already up to date")
		return s.finish(cycle)
	}

	s.transition(StateUpdating)
	updated, err := s.records.UpdateRecord(ctx, s.cfg.ZoneID, record.ID, UpdateParams{
		Content: cycle.IP,
		TTL:     s.cfg.TTL,
		Proxied: s.cfg.Proxied,
	})
	if err != nil {
		return s.fail(cycle, err, log)
	}
	s.lastSynced = updated.Content
	cycle.Outcome = OutcomeUpdated
	log.Info("record updated",
		zap.String("record", s.cfg.RecordName),
		zap.String("old", record.Content),
		zap.String("new", updated.Content),
	)
	return s.finish(cycle)
}

// currentRecord reads the remote record. The record id is resolved by name
// once and pinned for the life of the process; later reads go by id.
func (s *Syncer) currentRecord(ctx context.Context) (Record, error) {
	if s.recordID == "" {
		record, err := s.records.FindRecord(ctx, s.cfg.ZoneID, s.cfg.RecordName)
		if err != nil {
			return Record{}, err
		}
		s.recordID = record.ID
		s.logger.Debug("pinned record id", zap.String("record_id", record.ID))
		return record, nil
	}
	return s.records.GetRecord(ctx, s.cfg.ZoneID, s.recordID)
}

func (s *Syncer) fail(cycle Cycle, err error, log *zap.Logger) Cycle {
	cycle.Err = err
	if IsFatal(err) {
		s.transition(StateFailed)
		cycle.Outcome = OutcomeFatal
		log.Error("unrecoverable failure, stopping",
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return s.finish(cycle)
	}
	cycle.Outcome = OutcomeFailed
	log.Error("cycle failed",
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
	return s.finish(cycle)
}

func (s *Syncer) finish(cycle Cycle) Cycle {
	if s.hook != nil {
		s.hook(cycle)
	}
	return cycle
}

// Run loops RunOnce until ctx is done or a cycle ends fatally. Cancellation
// is the deliberate way to stop a healthy daemon, so Run returns nil for it;
// a fatal cycle returns its error.
//
// Successful cycles sleep exactly the configured interval. Consecutive
// skipped or failed cycles stretch the sleep exponentially up to eight
// intervals, and any success snaps the schedule back.
func (s *Syncer) Run(ctx context.Context) error {
	log := s.logger.With(zap.String("record", s.cfg.RecordName))
	log.Info("sync loop started",
		zap.String("zone_id", s.cfg.ZoneID),
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("ttl", s.cfg.TTL),
		zap.Bool("proxied", s.cfg.Proxied),
	)
	for {
		cycle := s.RunOnce(ctx)
		if cycle.Outcome == OutcomeFatal {
			log.Error("sync loop stopped", zap.Error(cycle.Err))
			return cycle.Err
		}
		if ctx.Err() != nil {
			log.Info("sync loop stopped by signal")
			return nil
		}

		s.transition(StateSleeping)
		interval := s.cfg.Interval
		switch cycle.Outcome {
		case OutcomeUpdated, OutcomeIdle:
			s.retrySleep.Reset()
		default:
			interval = s.retrySleep.NextBackOff()
			log.Warn("backing off after failed cycle", zap.Duration("sleep", interval))
		}
		if err := s.sleep(ctx, interval); err != nil {
			log.Info("sync loop stopped by signal")
			return nil
		}
	}
}

// sleepContext waits for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newRetrySchedule(interval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.RandomizationFactor = 0.1
	b.Multiplier = 2
	b.MaxInterval = 8 * interval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
