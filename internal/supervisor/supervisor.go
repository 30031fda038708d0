// Package supervisor implements C9: the long-lived periodic sync loop,
// the mutual-exclusion lock around a cycle, the per-cycle cancellation
// scope TriggerFullResync can unwind independently of service-stop, and
// the first-run/manual-resync destructive wipes (spec §4.1).
//
// The inter-cycle schedule is driven by github.com/robfig/cron/v3 with an
// "@every <N>m" entry rather than a raw time.Sleep loop — already a
// teacher dependency, unexercised in the retrieved snapshot. Each cycle is
// tagged with a github.com/google/uuid correlation ID threaded through
// this package's own log lines.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"icloudsyncd/internal/config"
	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/materialize"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/normalize"
	"icloudsyncd/internal/outlookbridge"
	"icloudsyncd/internal/reconcile"
	"icloudsyncd/internal/synerr"
)

// Fetcher is the subset of *outlookbridge.Bridge the supervisor depends
// on, kept as an interface so the cycle logic (window computation, error
// classification, materialization hand-off) is unit-testable without a
// real automation-host attach sequence.
type Fetcher interface {
	FetchAppointments(ctx context.Context, window outlookbridge.Window) ([]model.Appointment, error)
}

// Supervisor hosts the periodic loop described in spec §4.1.
type Supervisor struct {
	cfg        *config.Config
	bridge     Fetcher
	reconciler *reconcile.Reconciler
	sourceLoc  *time.Location
	targetLoc  *time.Location

	cron *cron.Cron

	// cycleMu is the mutual-exclusion lock: precisely one cycle (scheduled
	// or manual) executes at a time (spec §5 "Scheduling model").
	cycleMu sync.Mutex

	// firstRunDone is the process-wide "first-run performed" flag from
	// spec §9: intentionally global to this Supervisor's lifetime, so a
	// process restart re-triggers the filtered wipe.
	firstRunDone atomic.Bool

	mu          sync.Mutex
	cancelCycle context.CancelFunc
}

// New constructs a Supervisor. sourceLoc/targetLoc are the already-resolved
// zones for C1's conversions (spec §4.5).
func New(cfg *config.Config, bridge Fetcher, reconciler *reconcile.Reconciler, sourceLoc, targetLoc *time.Location) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		bridge:     bridge,
		reconciler: reconciler,
		sourceLoc:  sourceLoc,
		targetLoc:  targetLoc,
		cron:       cron.New(),
	}
}

// Run executes the algorithm from spec §4.1: sleep InitialWaitSeconds, run
// the first cycle, then run one cycle every SyncIntervalMinutes until ctx
// is cancelled (service stop). It blocks until then.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := sleepCtx(ctx, s.cfg.InitialWait()); err != nil {
		return err
	}

	s.runCycleGuarded(ctx)

	spec := fmt.Sprintf("@every %dm", maxInt(s.cfg.SyncIntervalMinutes, 1))
	if _, err := s.cron.AddFunc(spec, func() { s.runCycleGuarded(ctx) }); err != nil {
		return fmt.Errorf("supervisor: schedule cycle: %w", err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// TriggerFullResync is callable from the UI collaborator (spec §4.1): it
// cancels any in-flight cycle, then contends for the cycle lock and runs an
// unfiltered wipe followed by a normal cycle. It returns immediately; the
// resync runs in the background.
func (s *Supervisor) TriggerFullResync(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancelCycle
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	go func() {
		s.cycleMu.Lock()
		defer s.cycleMu.Unlock()

		cycleCtx, cancel := s.newCycleScope(ctx)
		defer cancel()

		cycleID := uuid.NewString()
		// The unconditional wipe below subsumes the filtered first-run
		// wipe; mark it done so RunOnce's normal path doesn't repeat it.
		s.firstRunDone.Store(true)

		logging.Info("supervisor: manual full resync starting", "cycle_id", cycleID)
		if err := s.reconciler.ManualFullResync(cycleCtx); err != nil {
			logging.Error("supervisor: manual resync wipe failed", err, "cycle_id", cycleID)
			return
		}
		if err := s.runCycle(cycleCtx, cycleID); err != nil {
			logging.Error("supervisor: manual resync cycle failed", err, "cycle_id", cycleID)
		}
	}()
}

// RunOnce runs exactly one cycle under the mutual-exclusion lock, performing
// the first-run filtered wipe if this is the first cycle since process
// start. It blocks until the cycle completes or ctx is cancelled.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycleCtx, cancel := s.newCycleScope(ctx)
	defer cancel()

	cycleID := uuid.NewString()

	if !s.firstRunDone.Swap(true) {
		logging.Info("supervisor: first cycle since process start, performing filtered wipe", "cycle_id", cycleID)
		if err := s.reconciler.FirstCycleWipe(cycleCtx); err != nil {
			logging.Error("supervisor: first-run wipe failed", err, "cycle_id", cycleID)
			return err
		}
	}

	return s.runCycle(cycleCtx, cycleID)
}

// runCycleGuarded adapts RunOnce for the cron callback: errors are already
// logged inside RunOnce/runCycle, so the loop simply continues (spec §4.1
// failure policy: "an unhandled error in one cycle ... does NOT terminate
// the loop").
func (s *Supervisor) runCycleGuarded(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = s.RunOnce(ctx)
}

// runCycle fetches appointments (C3), materializes the desired set
// (C4/C5/C2), and hands it to the reconciler (C8). A HostUnavailable fetch
// failure is turned into a model.DesiredNoData set instead of being
// treated as fatal, so the reconciler's own no-data guard (not an empty
// cycle return here) is what suppresses stale-reap — see spec §9's
// HostUnavailable open question and SPEC_FULL.md §10.
func (s *Supervisor) runCycle(ctx context.Context, cycleID string) error {
	fetchFrom, fetchTo, syncFrom, syncTo := s.windows()

	appts, err := s.bridge.FetchAppointments(ctx, outlookbridge.Window{From: fetchFrom, To: fetchTo})

	var desired model.DesiredSet
	switch {
	case err != nil && synerr.IsHostUnavailable(err):
		logging.Warn("supervisor: source host unavailable this cycle, desired set carries no data",
			"cycle_id", cycleID, "err", err)
		desired = model.DesiredSet{State: model.DesiredNoData}
	case err != nil && isCancellation(err):
		logging.Info("supervisor: cycle cancelled during fetch", "cycle_id", cycleID)
		return err
	case err != nil && synerr.IsTimedOut(err):
		logging.Warn("supervisor: source fetch timed out, cycle aborted", "cycle_id", cycleID, "err", err)
		return err
	case err != nil:
		logging.Error("supervisor: source fetch failed, cycle aborted", err, "cycle_id", cycleID)
		return err
	default:
		desired = materialize.Materialize(s.cfg.SourceId, appts, syncFrom, syncTo, normalize.Options{
			SourceLoc: s.sourceLoc,
			TargetLoc: s.targetLoc,
		})
	}

	if err := s.reconciler.Run(ctx, desired); err != nil {
		switch {
		case synerr.IsAuth(err):
			logging.Error("supervisor: auth failure, cycle aborted", err, "cycle_id", cycleID)
		case isCancellation(err):
			logging.Info("supervisor: cycle cancelled during reconcile", "cycle_id", cycleID)
		default:
			logging.Error("supervisor: reconcile failed, cycle aborted", err, "cycle_id", cycleID)
		}
		return err
	}

	logging.Info("supervisor: cycle complete", "cycle_id", cycleID, "desired_count", len(desired.Events))
	return nil
}

// windows computes the fetch window (inflated by the recurrence-expansion
// slack, spec §6 "RecurrenceExpansionDaysPast/Future") and the narrower
// sync window that bounds the actual occurrences materialize.Materialize
// emits (spec §6 "SyncDaysIntoPast/Future").
func (s *Supervisor) windows() (fetchFrom, fetchTo, syncFrom, syncTo time.Time) {
	now := time.Now().In(s.sourceLoc)
	syncFrom = now.AddDate(0, 0, -s.cfg.SyncDaysIntoPast)
	syncTo = now.AddDate(0, 0, s.cfg.SyncDaysIntoFuture)
	fetchFrom = syncFrom.AddDate(0, 0, -s.cfg.RecurrenceExpansionDaysPast)
	fetchTo = syncTo.AddDate(0, 0, s.cfg.RecurrenceExpansionDaysFuture)
	return
}

// newCycleScope derives a cancellable context from parent and records its
// cancel func so TriggerFullResync can unwind the running cycle without
// affecting parent (service-stop).
func (s *Supervisor) newCycleScope(parent context.Context) (context.Context, context.CancelFunc) {
	cycleCtx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancelCycle = cancel
	s.mu.Unlock()
	return cycleCtx, cancel
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isCancellation reports whether err is (or wraps) a context cancellation,
// whether raised as a raw context error by the bridge or wrapped in
// synerr.Cancelled at the CalDAV layer.
func isCancellation(err error) bool {
	return synerr.IsCancelled(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
