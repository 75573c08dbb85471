// Package engine drives the capture, plan, act iteration loop against
// the current target tab. It is the only component that decides whether
// another iteration runs, and it guarantees at most one iteration is in
// flight per session at any time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/SohamRatnaparkhi/navigator-ai/internal/broadcast"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/session"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/store"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/tabs"
	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

// TabResolver resolves the current target tab
type TabResolver interface {
	Resolve(ctx context.Context) (models.Tab, error)
}

// Dispatcher delivers one unit of work to the page agent
type Dispatcher interface {
	Deliver(ctx context.Context, tabID int, msg models.BridgeMessage) (models.BridgeResponse, error)
}

const (
	defaultIterationDelay = 2 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultActionTimeout  = 120 * time.Second
)

// Engine is the iteration state machine
type Engine struct {
	sessions *session.Manager
	tabs     TabResolver
	bridge   Dispatcher
	store    *store.Store
	bus      *broadcast.Broadcaster
	logger   *zap.Logger

	// inFlight enforces the at-most-one-iteration invariant against
	// re-entrant triggers
	inFlight *semaphore.Weighted
	running  atomic.Bool

	mu               sync.Mutex
	iterations       int
	processing       models.ProcessingStatus
	lastResponseDone bool
	pending          *models.PendingUpdate

	iterationDelay time.Duration
	pollInterval   time.Duration
	actionTimeout  time.Duration
}

// Option tunes engine timing
type Option func(*Engine)

// WithTiming overrides the inter-iteration delay, the paused-poll
// interval, and the action round-trip timeout
func WithTiming(iterationDelay, pollInterval, actionTimeout time.Duration) Option {
	return func(e *Engine) {
		e.iterationDelay = iterationDelay
		e.pollInterval = pollInterval
		e.actionTimeout = actionTimeout
	}
}

// New creates an idle engine
func New(sessions *session.Manager, resolver TabResolver, dispatcher Dispatcher, st *store.Store, bus *broadcast.Broadcaster, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		sessions:       sessions,
		tabs:           resolver,
		bridge:         dispatcher,
		store:          st,
		bus:            bus,
		logger:         logger,
		inFlight:       semaphore.NewWeighted(1),
		processing:     models.ProcessingIdle,
		iterationDelay: defaultIterationDelay,
		pollInterval:   defaultPollInterval,
		actionTimeout:  defaultActionTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Begin resets per-run state and starts the loop in its own goroutine.
// No-op if a loop is already running, so a duplicate start command joins
// the existing run.
func (e *Engine) Begin(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	e.iterations = 0
	e.lastResponseDone = false
	e.processing = models.ProcessingIdle
	e.pending = nil
	e.mu.Unlock()

	go func() {
		defer e.running.Store(false)
		e.Run(ctx)
	}()
}

// Running reports whether the loop goroutine is alive
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run executes the cooperative loop until the session leaves the
// active/paused states or ctx is canceled. Pause is checked at the top
// of each cycle; a paused engine waits without advancing the loop body.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, ok := e.sessions.Snapshot()
		if !ok || sess.Status.Terminal() {
			return
		}

		if sess.Status == models.StatusPaused || sess.IsPaused {
			if !e.sleep(ctx, e.pollInterval) {
				return
			}
			continue
		}

		if sess.Status != models.StatusActive {
			return
		}

		if !e.Trigger(ctx) {
			return
		}

		if !e.sleep(ctx, e.iterationDelay) {
			return
		}
	}
}

// Trigger attempts one guarded iteration and reports whether the loop
// should continue. A trigger that finds an iteration already in flight
// is dropped without touching the counter.
func (e *Engine) Trigger(ctx context.Context) bool {
	if !e.inFlight.TryAcquire(1) {
		e.logger.Debug("iteration already in flight, dropping trigger")
		return true
	}
	defer e.inFlight.Release(1)

	sess, ok := e.sessions.Snapshot()
	if !ok || sess.Status != models.StatusActive {
		return false
	}

	return e.iterate(ctx, sess)
}

// iterate runs one full cycle: resolve tab, dispatch, interpret
func (e *Engine) iterate(ctx context.Context, sess models.Session) bool {
	e.mu.Lock()
	e.iterations++
	iteration := e.iterations
	e.mu.Unlock()

	e.setProcessing(models.ProcessingParsing)
	e.mirrorTaskState(ctx, sess.TaskID)

	tab, err := e.tabs.Resolve(ctx)
	if errors.Is(err, tabs.ErrInvalidURL) {
		// Not automatable and not an error: hold the run until the
		// user navigates somewhere workable
		e.logger.Warn("target tab is not automatable, pausing",
			zap.Int("tab", tab.ID),
			zap.String("url", tab.URL))
		e.bus.Publish(broadcast.EventInvalidURL, map[string]any{
			"task_id": sess.TaskID,
			"url":     tab.URL,
		})
		e.sessions.Pause(ctx)
		e.setProcessing(models.ProcessingPaused)
		return true
	}
	if err != nil {
		e.fail(ctx, fmt.Errorf("tab resolution failed: %w", err))
		return false
	}

	pending := &models.PendingUpdate{
		ID:        uuid.NewString(),
		TaskID:    sess.TaskID,
		Status:    models.UpdateWaitingForServer,
		CreatedAt: time.Now(),
	}
	e.setPending(ctx, pending)
	e.setProcessing(models.ProcessingWaitingForServer)

	msg, err := models.NewBridgeMessage(models.MsgSingleDOMProcess, models.SingleDOMProcessPayload{TaskID: sess.TaskID})
	if err != nil {
		e.fail(ctx, err)
		return false
	}

	dctx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	resp, err := e.bridge.Deliver(dctx, tab.ID, msg)
	cancel()

	// The session may have been stopped or replaced while the
	// iteration was in flight; a late result must be a no-op
	if cur, ok := e.sessions.Snapshot(); !ok || cur.TaskID != sess.TaskID || cur.Status.Terminal() {
		e.logger.Info("discarding result for stopped session", zap.String("task_id", sess.TaskID))
		return false
	}

	if err != nil {
		e.resolvePending(ctx, models.UpdateError)
		e.fail(ctx, fmt.Errorf("dispatch failed on iteration %d: %w", iteration, err))
		return false
	}
	if !resp.Success {
		e.resolvePending(ctx, models.UpdateError)
		e.fail(ctx, fmt.Errorf("page agent reported failure on iteration %d: %s", iteration, resp.Error))
		return false
	}

	e.resolvePending(ctx, models.UpdateCompleted)
	e.recordIteration(ctx, sess.TaskID, iteration, resp)

	if resp.IsDone {
		e.mu.Lock()
		e.lastResponseDone = true
		e.mu.Unlock()

		e.setProcessing(models.ProcessingCompleted)
		e.mirrorTaskState(ctx, sess.TaskID)

		e.logger.Info("task completed",
			zap.String("task_id", sess.TaskID),
			zap.Int("iterations", iteration))
		if err := e.sessions.Stop(ctx, models.StatusCompleted); err != nil {
			e.logger.Warn("cleanup after completion failed", zap.Error(err))
		}
		return false
	}

	e.setProcessing(models.ProcessingIdle)
	e.mirrorTaskState(ctx, sess.TaskID)
	return true
}

// Done reconciles the three completion signals: session terminal status,
// the last server response's is_done flag, and the processing status.
// Any one being true means done; the signals are updated by different
// code paths and may race, so they are treated as an eventually
// consistent disjunction.
func (e *Engine) Done() bool {
	if sess, ok := e.sessions.Snapshot(); ok && sess.Status == models.StatusCompleted {
		return true
	}
	if e.sessions.LastFinalStatus() == models.StatusCompleted {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResponseDone || e.processing == models.ProcessingCompleted
}

// Iterations reports the attempt counter for the current run
func (e *Engine) Iterations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iterations
}

// Processing reports the current fine-grained phase
func (e *Engine) Processing() models.ProcessingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing
}

// PendingUpdate returns a copy of the current in-flight update record
func (e *Engine) PendingUpdate() (models.PendingUpdate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil {
		return models.PendingUpdate{}, false
	}
	return *e.pending, true
}

// fail transitions the session to error and stops the run
func (e *Engine) fail(ctx context.Context, err error) {
	e.logger.Error("iteration failed, stopping session", zap.Error(err))
	e.setProcessing(models.ProcessingError)

	if stopErr := e.sessions.Stop(ctx, models.StatusError); stopErr != nil {
		e.logger.Warn("cleanup after failure failed", zap.Error(stopErr))
	}
}

func (e *Engine) setProcessing(status models.ProcessingStatus) {
	e.mu.Lock()
	e.processing = status
	e.mu.Unlock()

	e.bus.Publish(broadcast.EventProcessingStatus, string(status))
}

func (e *Engine) setPending(ctx context.Context, pending *models.PendingUpdate) {
	e.mu.Lock()
	e.pending = pending
	record := *pending
	e.mu.Unlock()

	if err := e.store.Set(ctx, store.KeyCurrentDOMUpdate, record); err != nil {
		e.logger.Warn("failed to persist pending update", zap.Error(err))
	}
}

func (e *Engine) resolvePending(ctx context.Context, status models.PendingUpdateStatus) {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	e.pending.Status = status
	e.pending.ResolvedAt = &now
	record := *e.pending
	e.mu.Unlock()

	if err := e.store.Set(ctx, store.KeyCurrentDOMUpdate, record); err != nil {
		e.logger.Warn("failed to persist pending update", zap.Error(err))
	}
}

// recordIteration persists the iteration outcome and broadcasts it.
// Partial action failures are reported but never terminate the loop;
// the server reacts to them on its next planning round.
func (e *Engine) recordIteration(ctx context.Context, taskID string, iteration int, resp models.BridgeResponse) {
	if err := e.store.Set(ctx, store.KeyLastUpdateResponse, resp); err != nil {
		e.logger.Warn("failed to persist update response", zap.Error(err))
	}

	var accumulated []models.ActionResult
	if err := e.store.Get(ctx, store.KeyIterationResults, &accumulated); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("failed to load iteration results", zap.Error(err))
	}
	accumulated = append(accumulated, resp.Results...)
	if err := e.store.Set(ctx, store.KeyIterationResults, accumulated); err != nil {
		e.logger.Warn("failed to persist iteration results", zap.Error(err))
	}

	var failures int
	for _, result := range resp.Results {
		if !result.Success {
			failures++
		}
	}
	if failures > 0 {
		e.logger.Warn("some actions failed, continuing",
			zap.String("task_id", taskID),
			zap.Int("iteration", iteration),
			zap.Int("failures", failures),
			zap.Int("total", len(resp.Results)))
	}

	e.bus.Publish(broadcast.EventIterationUpdate, map[string]any{
		"task_id":   taskID,
		"iteration": iteration,
		"results":   resp.Results,
		"failures":  failures,
		"isDone":    resp.IsDone,
	})
}

// mirrorTaskState writes the loop counters to durable storage so UI
// surfaces can recover them after a restart. Best effort.
func (e *Engine) mirrorTaskState(ctx context.Context, taskID string) {
	e.mu.Lock()
	state := models.TaskState{
		TaskID:           taskID,
		Iterations:       e.iterations,
		ProcessingStatus: e.processing,
		IsDone:           e.lastResponseDone,
		UpdatedAt:        time.Now(),
	}
	e.mu.Unlock()

	if err := e.store.Set(ctx, store.KeyTaskState, state); err != nil {
		e.logger.Warn("failed to mirror task state", zap.Error(err))
	}
}

// sleep waits for d unless ctx is canceled first
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
