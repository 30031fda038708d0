// Package outlookbridge implements C3: ensuring the source automation host
// is running, attaching to (or spawning) an instance, and exposing
// FetchAppointments on a dedicated worker goroutine that carries
// single-threaded-apartment affinity for the lifetime of the process.
//
// The attach/retry state machine and call-layer retry wrapper are
// platform-independent and live here; the actual COM calls are isolated
// behind the comHost interface, implemented for real in
// outlookbridge_windows.go (github.com/go-ole/go-ole) and stubbed in
// outlookbridge_other.go for every other GOOS, so the state machine itself
// is unit-testable anywhere.
package outlookbridge

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"icloudsyncd/internal/hostproc"
	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/synerr"
)

// Window bounds a FetchAppointments request, in source-local time.
type Window struct {
	From, To time.Time
}

const (
	waitProcessUpTimeout  = 30 * time.Second
	waitProcessUpInterval = time.Second
	createInstanceRetries = 3
	createInstanceBackoff = 5 * time.Second
	attachSequenceRetries = 5
	attachSequenceWait    = 10 * time.Second
	fetchDeadline         = 2 * time.Minute
)

// comHost isolates the platform-specific COM calls from the state machine.
type comHost interface {
	// CreateInstance attaches to (or spawns, per the automation interface's
	// own COM activation semantics) an application instance. Its error text
	// is inspected by isServerExecutionFailed to decide retry eligibility.
	CreateInstance() error
	// FetchAppointments returns raw appointments within window. Must only
	// be called from the affinitised worker goroutine.
	FetchAppointments(window Window) ([]model.Appointment, error)
	// Release tears down every native handle acquired, in reverse
	// acquisition order. Must not raise from the caller's perspective.
	Release()
}

type task struct {
	fn       func() (any, error)
	resultCh chan taskResult
}

type taskResult struct {
	val any
	err error
}

// Bridge is the source-host bridge. One Bridge owns exactly one affinitised
// worker goroutine for its entire lifetime.
type Bridge struct {
	processName string
	hostPath    string

	mu       sync.Mutex
	attached bool

	taskCh  chan task
	closeCh chan struct{}
	once    sync.Once

	newHost func() comHost
	// host is only ever read or written from inside the affinitised worker
	// goroutine (workerLoop and the task closures it runs synchronously).
	host comHost
}

// New constructs a Bridge targeting the automation host process named
// processName, launched from hostPath when not already running.
func New(processName, hostPath string) *Bridge {
	b := &Bridge{
		processName: processName,
		hostPath:    hostPath,
		taskCh:      make(chan task),
		closeCh:     make(chan struct{}),
		newHost:     newPlatformHost,
	}
	go b.workerLoop()
	return b
}

// Close stops the affinitised worker goroutine, releasing the held host if
// attached. Safe to call multiple times.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.closeCh) })
}

func (b *Bridge) workerLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case t := <-b.taskCh:
			if b.host == nil {
				b.host = b.newHost()
			}
			v, err := t.fn()
			t.resultCh <- taskResult{val: v, err: err}
		case <-b.closeCh:
			if b.host != nil {
				b.host.Release()
			}
			return
		}
	}
}

// call submits fn to the affinitised worker and blocks for its result or
// ctx cancellation.
func (b *Bridge) call(ctx context.Context, fn func() (any, error)) (any, error) {
	resultCh := make(chan taskResult, 1)
	select {
	case b.taskCh <- task{fn: fn, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closeCh:
		return nil, &synerr.HostUnavailable{Reason: errors.New("bridge closed")}
	}

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureAttached runs the attach state machine from spec §4.3, retrying the
// whole sequence up to attachSequenceRetries times with attachSequenceWait
// between attempts (the "call layer" retry). Once the bridge is closed it
// stops retrying and returns HostUnavailable.
func (b *Bridge) ensureAttached(ctx context.Context) error {
	b.mu.Lock()
	already := b.attached
	b.mu.Unlock()
	if already {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < attachSequenceRetries; attempt++ {
		if err := b.attachOnce(ctx); err != nil {
			lastErr = err
			logging.Warn("outlookbridge: attach attempt failed", "attempt", attempt+1, "err", err)
		} else {
			b.mu.Lock()
			b.attached = true
			b.mu.Unlock()
			return nil
		}

		select {
		case <-b.closeCh:
			return &synerr.HostUnavailable{Reason: errors.New("bridge closed")}
		default:
		}

		if attempt < attachSequenceRetries-1 {
			if err := sleepCtx(ctx, attachSequenceWait); err != nil {
				return err
			}
		}
	}

	return &synerr.HostUnavailable{Reason: lastErr}
}

// attachOnce runs one pass of the probe_running -> launch_host ->
// wait_process_up -> create_instance -> final_probe_running state machine.
func (b *Bridge) attachOnce(ctx context.Context) error {
	up, err := hostproc.FindRunning(hostproc.DefaultLister, b.processName)
	if err != nil {
		logging.Warn("outlookbridge: process probe failed", "err", err)
	}

	if !up {
		if err := hostproc.Launch(b.hostPath); err != nil {
			return err
		}
		if !hostproc.WaitProcessUp(ctx, hostproc.DefaultLister, b.processName, waitProcessUpTimeout, waitProcessUpInterval) {
			return errors.New("host process did not start within timeout")
		}
	}

	var createErr error
	for attempt := 0; attempt <= createInstanceRetries; attempt++ {
		_, err := b.call(ctx, func() (any, error) { return nil, b.currentHostCreateInstance() })
		if err == nil {
			return nil
		}
		createErr = err
		if !isServerExecutionFailed(err) || attempt == createInstanceRetries {
			break
		}
		if sleepErr := sleepCtx(ctx, createInstanceBackoff); sleepErr != nil {
			return sleepErr
		}
	}

	// final_probe_running: one more attach attempt.
	_, err = b.call(ctx, func() (any, error) { return nil, b.currentHostCreateInstance() })
	if err == nil {
		return nil
	}

	if createErr == nil {
		createErr = err
	}
	return createErr
}

// currentHostCreateInstance must only run as a task closure on the
// affinitised worker goroutine, where b.host is safe to touch.
func (b *Bridge) currentHostCreateInstance() error {
	return b.host.CreateInstance()
}

// FetchAppointments ensures the bridge is attached, then fetches
// appointments within window under a hard two-minute deadline (spec §4.3).
func (b *Bridge) FetchAppointments(ctx context.Context, window Window) ([]model.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchDeadline)
	defer cancel()

	if err := b.ensureAttached(ctx); err != nil {
		return nil, err
	}

	v, err := b.call(ctx, func() (any, error) {
		return b.host.FetchAppointments(window)
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &synerr.TimedOut{Operation: "FetchAppointments"}
		}
		return nil, err
	}

	appts, _ := v.([]model.Appointment)
	return appts, nil
}

func isServerExecutionFailed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "server execution failed")
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
