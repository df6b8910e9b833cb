// Package anytalk is the top-level coordinator described in spec §4.9: it
// owns audio capture, the connection pool, and the current session, and
// serializes start/stop/cancel requests arriving from arbitrary host
// goroutines.
package anytalk

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/anytalk-oss/anytalk-core/anyerr"
	"github.com/anytalk-oss/anytalk-core/internal/audiocap"
	"github.com/anytalk-oss/anytalk-core/internal/events"
	"github.com/anytalk-oss/anytalk-core/internal/metrics"
	"github.com/anytalk-oss/anytalk-core/internal/pool"
	"github.com/anytalk-oss/anytalk-core/internal/protocol"
	"github.com/anytalk-oss/anytalk-core/internal/session"
)

// Re-exported so callers only need to import this package.
type (
	EventKind = events.Kind
	Mode      = protocol.Mode
)

const (
	EventPartial = events.KindPartial
	EventFinal   = events.KindFinal
	EventStatus  = events.KindStatus
	EventError   = events.KindError
)

const (
	ModeBidi      = protocol.ModeBidi
	ModeBidiAsync = protocol.ModeBidiAsync
	ModeNoStream  = protocol.ModeNoStream
)

// Config mirrors the embedding API's AnytalkConfig (spec §6): credentials
// and service tier identifier, plus the streaming mode.
type Config struct {
	AppID       string
	AccessToken string
	// ResourceID defaults to protocol.DefaultResourceID when empty.
	ResourceID string
	// Mode defaults to protocol.DefaultMode when empty.
	Mode Mode
}

func (c Config) withDefaults() Config {
	if c.ResourceID == "" {
		c.ResourceID = protocol.DefaultResourceID
	}
	if c.Mode == "" {
		c.Mode = protocol.DefaultMode
	}
	return c
}

// EventCallback receives every event the context or one of its sessions
// produces. It may be invoked from any goroutine; the host must be
// re-entrant with respect to the thread it's called on.
type EventCallback func(kind EventKind, text string)

// Context is the opaque handle returned by Init. Safe for concurrent use
// by multiple host goroutines.
type Context struct {
	log     *zap.Logger
	cfg     Config
	onEvent EventCallback
	capture *audiocap.Capture
	target  *audiocap.Target
	pool    *pool.Pool

	mu              sync.Mutex
	activeSession   *session.Session
	drainingSession *session.Session
}

// Init duplicates cfg, starts audio capture on a best-effort basis, starts
// the connection pool maintainer, and returns a ready Context (spec §4.9).
// reg may be nil, in which case metrics registration is skipped entirely —
// embedding into a host that doesn't run a /metrics endpoint costs nothing.
func Init(cfg Config, reg prometheus.Registerer, onEvent EventCallback) *Context {
	ctx := buildContext(cfg, onEvent)

	if reg != nil {
		metrics.Register(reg)
	}
	if err := ctx.capture.Start(ctx.target); err != nil {
		ctx.log.Warn("audio device unavailable at init, will retry on start", zap.Error(err))
	}
	ctx.pool.Start()

	return ctx
}

// buildContext assembles the Context graph without starting capture or the
// pool maintainer, so tests can inject a fake dialer via pool.SetDialer
// before anything dials the real ASR service.
func buildContext(cfg Config, onEvent EventCallback) *Context {
	log, _ := zap.NewProduction()
	cfg = cfg.withDefaults()

	return &Context{
		log:     log,
		cfg:     cfg,
		onEvent: onEvent,
		target:  audiocap.NewTarget(),
		capture: audiocap.New(log),
		pool: pool.New(log, pool.Credentials{
			AppID:      cfg.AppID,
			AccessKey:  cfg.AccessToken,
			ResourceID: cfg.ResourceID,
			Mode:       cfg.Mode,
		}),
	}
}

// StartSession serializes against Stop/Cancel/another Start (spec §4.9).
func (c *Context) StartSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abortDrainingLocked()

	if err := c.capture.Start(c.target); err != nil {
		c.log.Debug("retrying audio capture start failed", zap.Error(err))
	}

	if c.activeSession != nil {
		c.abortActiveLocked()
	}

	ws := c.pool.Take()
	if ws == nil {
		c.emit(events.KindStatus, events.StatusConnecting)
		var err error
		ws, err = c.pool.DialNew(context.Background())
		if err != nil {
			metrics.PoolDialFailures.Inc()
			c.emit(events.KindError, "connection failed")
			return anyerr.Wrap(anyerr.KindDial, "start_session", err)
		}
		metrics.PoolOnDemandDials.Inc()
	}

	sess := session.New(c.log, ws, c.cfg.Mode, c.target, c.sessionCallback())
	c.activeSession = sess
	// recording must be emitted before the worker goroutine starts: both
	// this call and the worker invoke onEvent with no ordering between
	// them otherwise, and a partial/final racing ahead of recording would
	// violate spec §5/§8's "recording precedes any partial/final" invariant.
	c.emit(events.KindStatus, events.StatusRecording)
	sess.Start()
	metrics.SessionsStarted.Inc()
	return nil
}

// StopSession serializes; moves any active session into the draining slot
// and spawns a drain-wait goroutine (spec §4.9).
func (c *Context) StopSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abortDrainingLocked()

	if c.activeSession == nil {
		c.emit(events.KindStatus, events.StatusIdle)
		return
	}

	sess := c.activeSession
	c.activeSession = nil
	c.drainingSession = sess
	sess.StopAudio()
	metrics.SessionsStopped.Inc()

	go c.drainWait(sess)
}

// drainWait joins sess off the host's critical path and clears the
// draining slot once it's done. Mutex is not held across Join: holding it
// would deadlock against a StartSession that also wants to abort this
// same draining session (spec §4.9 step 1).
func (c *Context) drainWait(sess *session.Session) {
	sess.Join()
	c.mu.Lock()
	if c.drainingSession == sess {
		c.drainingSession = nil
	}
	c.mu.Unlock()
}

// Cancel serializes; aborts both the active and draining sessions
// immediately and emits idle (spec §4.9).
func (c *Context) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abortActiveLocked()
	c.abortDrainingLocked()
	c.emit(events.KindStatus, events.StatusIdle)
}

// Destroy cancels any session, stops the pool and capture. The Context
// must not be used afterward.
func (c *Context) Destroy() {
	c.Cancel()
	c.pool.Stop()
	c.capture.Stop()
	c.capture.Close()
	_ = c.log.Sync()
}

// abortActiveLocked cancels and joins the active session, releasing the
// mutex during Join to avoid deadlocking with drainWait (spec §4.9 step 1).
func (c *Context) abortActiveLocked() {
	sess := c.activeSession
	if sess == nil {
		return
	}
	c.activeSession = nil
	sess.Cancel()
	metrics.SessionsCancelled.Inc()
	c.mu.Unlock()
	sess.Join()
	c.mu.Lock()
}

func (c *Context) abortDrainingLocked() {
	sess := c.drainingSession
	if sess == nil {
		return
	}
	c.drainingSession = nil
	sess.Cancel()
	c.mu.Unlock()
	sess.Join()
	c.mu.Lock()
}

func (c *Context) sessionCallback() events.Callback {
	return func(kind events.Kind, text string) {
		c.emit(kind, text)
	}
}

func (c *Context) emit(kind events.Kind, text string) {
	if c.onEvent != nil {
		c.onEvent(kind, text)
	}
}
