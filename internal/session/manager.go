// Package session owns the authoritative record of the current
// automation run: task identity, lifecycle status, and the pause flag.
// All mutation goes through the Manager; everything else reads snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/internal/broadcast"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/store"
	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

// ErrNoSession is returned by operations that require an active session
var ErrNoSession = errors.New("no active session")

// TaskCreator registers tasks with the remote reasoning server
type TaskCreator interface {
	CreateTask(ctx context.Context, task string) (string, error)
}

// PageNotifier best-effort delivers a control message to every connected
// page agent
type PageNotifier interface {
	NotifyAll(ctx context.Context, msg models.BridgeMessage)
}

// derivedKeys are the per-task records cleared alongside the session
var derivedKeys = []string{
	store.KeyActiveSession,
	store.KeyTaskState,
	store.KeyCurrentDOMUpdate,
	store.KeyLastUpdateResponse,
	store.KeyIterationResults,
}

// Manager owns the in-memory session and mirrors it to durable storage
type Manager struct {
	mu        sync.RWMutex
	sess      *models.Session
	lastFinal models.SessionStatus // terminal status of the previous run

	tasks    TaskCreator
	store    *store.Store
	bus      *broadcast.Broadcaster
	notifier PageNotifier
	logger   *zap.Logger
}

// NewManager creates a session manager with no session
func NewManager(tasks TaskCreator, st *store.Store, bus *broadcast.Broadcaster, notifier PageNotifier, logger *zap.Logger) *Manager {
	return &Manager{
		tasks:    tasks,
		store:    st,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
	}
}

// Start begins a session for the given task. If a non-terminal session
// already exists its task id is returned unchanged and no remote task is
// created. On remote failure nothing is recorded.
func (m *Manager) Start(ctx context.Context, task string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil && !m.sess.Status.Terminal() {
		m.logger.Info("joining existing session", zap.String("task_id", m.sess.TaskID))
		return m.sess.TaskID, nil
	}

	taskID, err := m.tasks.CreateTask(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	now := time.Now()
	m.sess = &models.Session{
		TaskID:    taskID,
		Status:    models.StatusActive,
		IsPaused:  false,
		StartedAt: now,
		UpdatedAt: now,
	}
	m.lastFinal = ""
	m.persistLocked(ctx)

	m.logger.Info("session started", zap.String("task_id", taskID))
	return taskID, nil
}

// Pause suspends the active session. No-op without one.
func (m *Manager) Pause(ctx context.Context) error {
	return m.setPaused(ctx, true)
}

// Resume reactivates a paused session. No-op without one.
func (m *Manager) Resume(ctx context.Context) error {
	return m.setPaused(ctx, false)
}

func (m *Manager) setPaused(ctx context.Context, paused bool) error {
	m.mu.Lock()

	if m.sess == nil || m.sess.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}

	if paused {
		m.sess.Status = models.StatusPaused
	} else {
		m.sess.Status = models.StatusActive
	}
	m.sess.IsPaused = paused
	m.sess.UpdatedAt = time.Now()
	taskID := m.sess.TaskID
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("pause state changed", zap.String("task_id", taskID), zap.Bool("paused", paused))
	m.bus.Publish(broadcast.EventPauseState, map[string]any{
		"task_id":  taskID,
		"isPaused": paused,
	})
	return nil
}

// Stop transitions the session to a terminal status, clears it from
// memory and durable storage, and broadcasts the stop. Safe to call
// repeatedly; only the call that observes a live session broadcasts.
func (m *Manager) Stop(ctx context.Context, finalStatus models.SessionStatus) error {
	m.mu.Lock()
	hadSession := m.sess != nil
	var taskID string
	if hadSession {
		taskID = m.sess.TaskID
		m.sess = nil
	}
	if finalStatus != models.StatusIdle {
		m.lastFinal = finalStatus
	}
	m.mu.Unlock()

	err := m.store.Clear(ctx, derivedKeys...)

	if hadSession {
		m.logger.Info("session stopped",
			zap.String("task_id", taskID),
			zap.String("final_status", string(finalStatus)))
		m.bus.Publish(broadcast.EventStopMonitoring, map[string]any{
			"task_id": taskID,
			"status":  string(finalStatus),
		})
	}
	return err
}

// Reset stops any session with an idle status, clears all durable state
// including UI records, and asks page agents to clear visual artifacts
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.Stop(ctx, models.StatusIdle); err != nil {
		m.logger.Warn("stop during reset failed", zap.Error(err))
	}

	err := m.store.Clear(ctx,
		store.KeyIsMinimized,
		store.KeySidePanelState,
	)

	m.bus.Publish(broadcast.EventWorkflowReset, nil)

	if m.notifier != nil {
		m.notifier.NotifyAll(ctx, models.BridgeMessage{Type: models.MsgResetWorkflow})
	}
	return err
}

// Snapshot returns a copy of the current session
func (m *Manager) Snapshot() (models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.sess == nil {
		return models.Session{}, false
	}
	return *m.sess, true
}

// LastFinalStatus reports the terminal status of the most recently
// stopped run. It feeds the completion disjunction after Stop has
// cleared the session record.
func (m *Manager) LastFinalStatus() models.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastFinal
}

// persistLocked mirrors the session to durable storage; callers hold
// m.mu. Persistence failures are logged, not fatal: the in-memory record
// stays authoritative.
func (m *Manager) persistLocked(ctx context.Context) {
	if err := m.store.Set(ctx, store.KeyActiveSession, m.sess); err != nil {
		m.logger.Warn("failed to persist session", zap.Error(err))
	}
}
