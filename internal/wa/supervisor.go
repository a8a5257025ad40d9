package wa

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/config"
	"github.com/ardiansr/wa-bridge/internal/humanize"
)

// ConnState is the wire session lifecycle state.
type ConnState string

const (
	StateDisconnected    ConnState = "DISCONNECTED"
	StateConnecting      ConnState = "CONNECTING"
	StateAwaitingPairing ConnState = "AWAITING_PAIRING"
	StateOpen            ConnState = "OPEN"
	StateClosedRetrying  ConnState = "CLOSED_RETRYING"
	StateClosedFatal     ConnState = "CLOSED_FATAL"
)

// Supervisor owns the protocol client lifecycle: it drives reconnection
// with exponentially backed-off, jittered retries and wipes the session
// on fatal dispositions.
type Supervisor struct {
	client Client
	sim    *humanize.Simulator
	cfg    config.ReconnectConfig

	// onDrop is invoked on every retryable closure so the risk system
	// can accumulate CONNECTION_DROP events.
	onDrop func()

	mu        sync.Mutex
	state     ConnState
	attempts  int
	lastDelay time.Duration
	gaveUp    bool
	timer     *time.Timer
	openedAt  time.Time
	shutdown  bool
}

func NewSupervisor(client Client, sim *humanize.Simulator, cfg config.ReconnectConfig, onDrop func()) *Supervisor {
	return &Supervisor{
		client: client,
		sim:    sim,
		cfg:    cfg,
		onDrop: onDrop,
		state:  StateDisconnected,
	}
}

// Start transitions DISCONNECTED → CONNECTING and attempts the first
// connect immediately.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.state != StateDisconnected || s.shutdown {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	go s.attempt()
}

// HandleEvent consumes normalized adapter events and drives the state
// machine.
func (s *Supervisor) HandleEvent(evt interface{}) {
	switch v := evt.(type) {
	case EventOpened:
		s.handleOpened()
	case EventClosed:
		s.handleClosed(v.Disposition, v.Reason)
	case EventPairing:
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateAwaitingPairing
		}
		s.mu.Unlock()
		log.Info().Msg("🔗 Awaiting QR pairing")
	}
}

func (s *Supervisor) handleOpened() {
	s.mu.Lock()
	s.state = StateOpen
	s.attempts = 0
	s.lastDelay = 0
	s.gaveUp = false
	s.openedAt = time.Now()
	s.cancelTimerLocked()
	s.mu.Unlock()

	log.Info().Msg("✅ WhatsApp session open")
}

func (s *Supervisor) handleClosed(d Disposition, reason string) {
	s.mu.Lock()
	if s.shutdown || s.state == StateClosedFatal {
		s.mu.Unlock()
		return
	}

	if d.Fatal() {
		s.state = StateClosedFatal
		s.cancelTimerLocked()
		s.mu.Unlock()

		log.Error().Str("reason", reason).Msg("Fatal closure, wiping session; manual re-pair required")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.client.WipeSession(ctx); err != nil {
			log.Error().Err(err).Msg("Session wipe failed")
		}
		return
	}

	s.state = StateClosedRetrying
	delay := s.backoffDelay(s.attempts)
	s.lastDelay = delay
	if s.attempts >= s.cfg.GiveUpAfter && !s.gaveUp {
		s.gaveUp = true
		log.Warn().Int("attempts", s.attempts).Msg("Reconnect give-up threshold reached, continuing at capped delay")
	}
	s.timer = time.AfterFunc(delay, s.retry)
	s.mu.Unlock()

	log.Warn().Str("reason", reason).Dur("nextAttempt", delay).Msg("Connection closed, retrying")
	if s.onDrop != nil {
		s.onDrop()
	}
}

func (s *Supervisor) retry() {
	s.mu.Lock()
	if s.shutdown || s.state != StateClosedRetrying {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.attempts++
	s.mu.Unlock()

	s.attempt()
}

func (s *Supervisor) attempt() {
	if err := s.client.Connect(); err != nil {
		s.handleClosed(DispositionRetryable, err.Error())
	}
}

// backoffDelay is min(initial·2^attempt, cap) plus 30–50% jitter.
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	initial := time.Duration(s.cfg.InitialMs) * time.Millisecond
	cap := time.Duration(s.cfg.CapMs) * time.Millisecond

	base := initial
	for i := 0; i < attempt && base < cap; i++ {
		base *= 2
	}
	if base > cap {
		base = cap
	}
	return base + s.sim.Jitter(base, 0.3, 0.5)
}

// Reconnect requests an immediate connection attempt; a no-op while the
// session is already OPEN. It also clears the fatal latch so a wiped
// session can re-pair.
func (s *Supervisor) Reconnect() {
	s.mu.Lock()
	if s.state == StateOpen || s.state == StateConnecting || s.shutdown {
		s.mu.Unlock()
		return
	}
	s.cancelTimerLocked()
	s.state = StateConnecting
	s.attempts = 0
	s.gaveUp = false
	s.mu.Unlock()

	go s.attempt()
}

// Shutdown cancels timers and disconnects.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.cancelTimerLocked()
	s.state = StateDisconnected
	s.mu.Unlock()

	s.client.Disconnect()
}

func (s *Supervisor) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) GaveUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gaveUp
}

// Uptime is the time since the session last opened, zero when not open.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen || s.openedAt.IsZero() {
		return 0
	}
	return time.Since(s.openedAt)
}

// cancelTimerLocked stops any pending retry. Caller holds s.mu.
func (s *Supervisor) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
