// Package session implements the per-session worker described in spec
// §4.8: it owns one WebSocket connection and one audio ring, interleaves
// outbound audio with inbound responses, and translates the vendor wire
// protocol into ordered partial/final/status/error events.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anytalk-oss/anytalk-core/anyerr"
	"github.com/anytalk-oss/anytalk-core/internal/audiocap"
	"github.com/anytalk-oss/anytalk-core/internal/events"
	"github.com/anytalk-oss/anytalk-core/internal/metrics"
	"github.com/anytalk-oss/anytalk-core/internal/protocol"
	"github.com/anytalk-oss/anytalk-core/internal/transport"
)

// readTimeout bounds each WebSocket read so the worker loop can re-check
// running roughly five times a second (spec §4.8 step 1).
const readTimeout = 200 * time.Millisecond

// wsConn is the subset of *transport.Client the worker loop needs;
// narrowing to an interface lets tests drive the loop with a fake
// connection instead of a live TLS/WebSocket handshake.
type wsConn interface {
	SetReadTimeout(d time.Duration) error
	ReadFrame() (transport.FrameKind, []byte, error)
	SendBinary(payload []byte) error
	Close() error
}

// Session is the per-session worker. Exclusively owns ws and its ring;
// holds a non-owning reference to the AudioTarget the Context registered
// it against. Not safe for concurrent Start calls; StopAudio/Cancel/Join may be
// called from a different goroutine than the worker itself.
type Session struct {
	log     *zap.Logger
	ws      wsConn
	mode    protocol.Mode
	onEvent events.Callback

	ring   *audiocap.Ring
	target *audiocap.Target

	interp *protocol.Interpreter

	running      atomic.Bool
	audioStopped atomic.Bool

	// chunkCount is only ever touched by the worker goroutine (pumpAudio);
	// it drives the every-20th-chunk debug heartbeat.
	chunkCount uint64

	startedAt time.Time
	idleOnce  sync.Once
	wg        sync.WaitGroup
}

// New constructs a Session bound to ws and registers its ring as target's
// current sink. The caller must call Start to begin the worker.
func New(log *zap.Logger, ws *transport.Client, mode protocol.Mode, target *audiocap.Target, onEvent events.Callback) *Session {
	return newSession(log, ws, mode, target, onEvent)
}

func newSession(log *zap.Logger, ws wsConn, mode protocol.Mode, target *audiocap.Target, onEvent events.Callback) *Session {
	s := &Session{
		log:     log,
		ws:      ws,
		mode:    mode,
		onEvent: onEvent,
		ring:    audiocap.NewRing(),
		target:  target,
		interp:  protocol.NewInterpreter(mode),
	}
	target.Set(s.ring)
	return s
}

// Start spawns the worker goroutine.
func (s *Session) Start() {
	s.running.Store(true)
	s.startedAt = time.Now()
	s.wg.Add(1)
	go s.run()
}

// StopAudio detaches the session's ring from the shared AudioTarget,
// letting the server-side drain proceed without further microphone input.
// Once the worker finds the ring drained with audioStopped set, it sends the
// terminal audio-only frame (spec §4.8 step 3) and keeps reading until a
// final-response frame, a close frame, a read error, or Cancel ends it.
func (s *Session) StopAudio() {
	s.audioStopped.Store(true)
	s.target.Clear()
}

// Cancel aborts the worker: running goes false and audio is detached
// immediately. The worker observes running on its next loop iteration
// (bounded by readTimeout) and exits without waiting for a drain.
func (s *Session) Cancel() {
	s.running.Store(false)
	s.audioStopped.Store(true)
	s.target.Clear()
}

// Join waits for the worker goroutine to exit.
func (s *Session) Join() {
	s.wg.Wait()
}

func (s *Session) run() {
	defer s.wg.Done()
	defer s.ws.Close()
	defer s.emitIdleOnce()

	if err := s.ws.SetReadTimeout(readTimeout); err != nil {
		s.log.Warn("set read timeout failed", zap.Error(err))
		return
	}

	initialJSON, err := protocol.BuildInitialRequestJSON(s.mode)
	if err != nil {
		s.emit(events.KindError, "build initial request: "+err.Error())
		return
	}
	if err := s.ws.SendBinary(protocol.BuildFullClientRequest(initialJSON)); err != nil {
		s.emit(events.KindError, "send initial request failed")
		return
	}

	audioDone := false

	for s.running.Load() {
		if !audioDone {
			audioDone = s.pumpAudio()
		}

		kind, payload, err := s.ws.ReadFrame()
		if err != nil {
			if errors.Is(err, anyerr.KindWouldBlock) {
				continue
			}
			s.log.Debug("session read failed", zap.Error(err))
			break
		}
		if kind == transport.FrameClose {
			break
		}
		if kind != transport.FrameBinary {
			continue
		}

		msg := protocol.DecodeServerMessage(payload)
		switch msg.Kind {
		case protocol.KindError:
			s.emit(events.KindError, msg.ErrorMessage)
			return
		case protocol.KindResponse:
			result := s.interp.Interpret(msg.Payload)
			if result.HasPartial {
				s.emit(events.KindPartial, result.Partial)
			}
			for _, final := range result.Finals {
				s.emit(events.KindFinal, final)
			}
			if msg.Flags == protocol.FlagFinalResponse {
				return
			}
		}
	}
}

// pumpAudio sends at most one outbound audio frame per call and reports
// whether audio is now fully done (terminal frame sent or send failed).
func (s *Session) pumpAudio() bool {
	if chunk, ok := s.ring.Pop(); ok {
		if err := s.ws.SendBinary(protocol.BuildAudioOnlyRequest(chunk[:], false)); err != nil {
			s.log.Debug("audio send failed, marking done", zap.Error(err))
			return true
		}
		s.chunkCount++
		if s.chunkCount%20 == 0 {
			s.log.Debug("audio chunks flowing", zap.Uint64("chunks_sent", s.chunkCount))
		}
		return false
	}

	if !s.audioStopped.Load() {
		return false
	}

	if err := s.ws.SendBinary(protocol.BuildAudioOnlyRequest(nil, true)); err != nil {
		s.log.Debug("terminal audio frame send failed", zap.Error(err))
	}
	return true
}

func (s *Session) emit(kind events.Kind, text string) {
	if s.onEvent != nil {
		s.onEvent(kind, text)
	}
}

func (s *Session) emitIdleOnce() {
	s.idleOnce.Do(func() {
		metrics.SessionDuration.Observe(time.Since(s.startedAt).Seconds())
		s.emit(events.KindStatus, events.StatusIdle)
	})
}
