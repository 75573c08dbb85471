// Package bridge delivers units of work to the page agent embedded in a
// tab and awaits the reply. Delivery is probe-then-inject: a lightweight
// ping first, a re-injection of the agent if the ping goes unanswered,
// then the real message.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

var (
	// ErrBackForwardCache means the page was restored from a
	// back/forward-cache snapshot, leaving the previously injected
	// agent stale. This is the only delivery failure worth retrying.
	ErrBackForwardCache = errors.New("page restored from back/forward cache")

	// ErrAgentUnavailable means no page agent is reachable for the tab
	ErrAgentUnavailable = errors.New("page agent is not connected")
)

// Transport moves a single message to the page agent in a tab
type Transport interface {
	Send(ctx context.Context, tabID int, msg models.BridgeMessage) (models.BridgeResponse, error)
	Inject(ctx context.Context, tabID int) error
}

const (
	defaultMaxAttempts = 10
	defaultRetryStep   = 500 * time.Millisecond
	defaultPingTimeout = 2 * time.Second
	defaultInjectWait  = 500 * time.Millisecond
)

// Bridge wraps a Transport with the probe-deliver-retry protocol
type Bridge struct {
	transport Transport
	logger    *zap.Logger

	maxAttempts int
	retryStep   time.Duration
	pingTimeout time.Duration
	injectWait  time.Duration
}

// Option tunes bridge retry behavior
type Option func(*Bridge)

// WithRetry overrides the back/forward-cache retry schedule
func WithRetry(attempts int, step time.Duration) Option {
	return func(b *Bridge) {
		b.maxAttempts = attempts
		b.retryStep = step
	}
}

// WithProbeTiming overrides the ping timeout and post-inject settle wait
func WithProbeTiming(pingTimeout, injectWait time.Duration) Option {
	return func(b *Bridge) {
		b.pingTimeout = pingTimeout
		b.injectWait = injectWait
	}
}

// New creates a bridge with the default schedule (10 attempts, linearly
// increasing delay)
func New(transport Transport, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		transport:   transport,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryStep:   defaultRetryStep,
		pingTimeout: defaultPingTimeout,
		injectWait:  defaultInjectWait,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Deliver sends msg to the page agent in tabID and returns its reply.
// The whole probe-deliver cycle is retried with a linearly increasing
// delay only when the failure is the back/forward-cache condition; any
// other failure is returned immediately.
func (b *Bridge) Deliver(ctx context.Context, tabID int, msg models.BridgeMessage) (models.BridgeResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		resp, err := b.attempt(ctx, tabID, msg)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrBackForwardCache) {
			return models.BridgeResponse{}, err
		}
		lastErr = err

		delay := time.Duration(attempt) * b.retryStep
		b.logger.Warn("page restored from back/forward cache, retrying delivery",
			zap.Int("tab", tabID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return models.BridgeResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return models.BridgeResponse{}, fmt.Errorf("delivery failed after %d attempts: %w", b.maxAttempts, lastErr)
}

// attempt runs one probe-deliver cycle
func (b *Bridge) attempt(ctx context.Context, tabID int, msg models.BridgeMessage) (models.BridgeResponse, error) {
	if !b.ping(ctx, tabID) {
		b.logger.Info("page agent unresponsive, re-injecting", zap.Int("tab", tabID))
		if err := b.transport.Inject(ctx, tabID); err != nil {
			return models.BridgeResponse{}, fmt.Errorf("agent injection failed: %w", err)
		}

		// Give the freshly injected agent a moment to initialize
		select {
		case <-ctx.Done():
			return models.BridgeResponse{}, ctx.Err()
		case <-time.After(b.injectWait):
		}
	}

	resp, err := b.transport.Send(ctx, tabID, msg)
	if err != nil {
		if isBackForwardCache(err.Error()) {
			return models.BridgeResponse{}, ErrBackForwardCache
		}
		return models.BridgeResponse{}, err
	}
	if !resp.Success && isBackForwardCache(resp.Error) {
		return models.BridgeResponse{}, ErrBackForwardCache
	}
	return resp, nil
}

// Ping probes the page agent for liveness
func (b *Bridge) Ping(ctx context.Context, tabID int) bool {
	return b.ping(ctx, tabID)
}

func (b *Bridge) ping(ctx context.Context, tabID int) bool {
	pctx, cancel := context.WithTimeout(ctx, b.pingTimeout)
	defer cancel()

	resp, err := b.transport.Send(pctx, tabID, models.BridgeMessage{
		ID:   uuid.NewString(),
		Type: models.MsgPing,
	})
	return err == nil && resp.Success
}

// Notify sends a fire-and-forget control message to the page agent.
// Failures are logged and swallowed.
func (b *Bridge) Notify(ctx context.Context, tabID int, msgType string) {
	_, err := b.transport.Send(ctx, tabID, models.BridgeMessage{
		ID:   uuid.NewString(),
		Type: msgType,
	})
	if err != nil {
		b.logger.Debug("notify failed",
			zap.Int("tab", tabID),
			zap.String("type", msgType),
			zap.Error(err))
	}
}

func isBackForwardCache(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "back/forward cache") || strings.Contains(lower, "bfcache")
}
