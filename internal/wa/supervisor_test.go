package wa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardiansr/wa-bridge/internal/config"
	"github.com/ardiansr/wa-bridge/internal/humanize"
)

type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	wiped      bool
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeClient) Disconnect()       {}
func (f *fakeClient) IsConnected() bool { return true }
func (f *fakeClient) IsLoggedIn() bool  { return true }

func (f *fakeClient) SendText(ctx context.Context, jid, text, replyTo string) (string, error) {
	return "", nil
}

func (f *fakeClient) SubscribePresence(ctx context.Context, jid string) error { return nil }
func (f *fakeClient) SendChatPresence(ctx context.Context, jid string, state ChatState) error {
	return nil
}
func (f *fakeClient) SendPresence(ctx context.Context, online bool) error { return nil }
func (f *fakeClient) MarkRead(ctx context.Context, chat, sender string, ids []string) error {
	return nil
}

func (f *fakeClient) WipeSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped = true
	return nil
}

func (f *fakeClient) SelfJID() string  { return "self@s.whatsapp.net" }
func (f *fakeClient) PushName() string { return "test" }

func (f *fakeClient) wipedSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wiped
}

func defaultReconnect() config.ReconnectConfig {
	return config.ReconnectConfig{InitialMs: 1000, CapMs: 300000, GiveUpAfter: 15}
}

func newTestSupervisor(client *fakeClient, cfg config.ReconnectConfig, onDrop func()) *Supervisor {
	sim := humanize.NewSimulator(humanize.NewRand(5))
	return NewSupervisor(client, sim, cfg, onDrop)
}

func TestBackoffDelayBounds(t *testing.T) {
	s := newTestSupervisor(&fakeClient{}, defaultReconnect(), nil)

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 1300 * time.Millisecond, 1500 * time.Millisecond},
		{1, 2600 * time.Millisecond, 3 * time.Second},
		{2, 5200 * time.Millisecond, 6 * time.Second},
		{3, 10400 * time.Millisecond, 12 * time.Second},
		{20, 390 * time.Second, 450 * time.Second}, // capped at 300s base
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := s.backoffDelay(tt.attempt)
			if d < tt.min || d > tt.max {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}

func TestOpenedResetsBackoff(t *testing.T) {
	s := newTestSupervisor(&fakeClient{}, defaultReconnect(), nil)

	s.mu.Lock()
	s.state = StateClosedRetrying
	s.attempts = 7
	s.gaveUp = true
	s.mu.Unlock()

	s.HandleEvent(EventOpened{})

	if s.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", s.State())
	}
	if s.Attempts() != 0 || s.GaveUp() {
		t.Fatal("a successful open must reset attempts and the give-up flag")
	}
}

func TestRetryableClosureSchedulesRetry(t *testing.T) {
	dropped := 0
	s := newTestSupervisor(&fakeClient{}, defaultReconnect(), func() { dropped++ })

	s.HandleEvent(EventOpened{})
	s.HandleEvent(EventClosed{Disposition: DispositionRetryable, Reason: "stream error"})

	if s.State() != StateClosedRetrying {
		t.Fatalf("state = %s, want CLOSED_RETRYING", s.State())
	}
	if dropped != 1 {
		t.Fatalf("onDrop calls = %d, want 1", dropped)
	}
}

func TestFatalClosureWipesSession(t *testing.T) {
	client := &fakeClient{}
	s := newTestSupervisor(client, defaultReconnect(), nil)

	s.HandleEvent(EventOpened{})
	s.HandleEvent(EventClosed{Disposition: DispositionLoggedOut, Reason: "logged out"})

	if s.State() != StateClosedFatal {
		t.Fatalf("state = %s, want CLOSED_FATAL", s.State())
	}
	if !client.wipedSession() {
		t.Fatal("fatal closure must wipe the session")
	}

	// Further closures are ignored once fatal.
	s.HandleEvent(EventClosed{Disposition: DispositionRetryable, Reason: "late event"})
	if s.State() != StateClosedFatal {
		t.Fatal("fatal latch must hold")
	}
}

func TestDispositionFatal(t *testing.T) {
	if DispositionRetryable.Fatal() {
		t.Fatal("retryable must not be fatal")
	}
	if !DispositionLoggedOut.Fatal() || !DispositionBadSession.Fatal() {
		t.Fatal("logged-out and bad-session must be fatal")
	}
}

func TestReconnectIsNoopWhileOpen(t *testing.T) {
	client := &fakeClient{}
	s := newTestSupervisor(client, defaultReconnect(), nil)

	s.HandleEvent(EventOpened{})
	s.Reconnect()

	if s.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN (reconnect while open is a no-op)", s.State())
	}
}

func TestReconnectClearsFatalLatch(t *testing.T) {
	client := &fakeClient{}
	s := newTestSupervisor(client, defaultReconnect(), nil)

	s.HandleEvent(EventClosed{Disposition: DispositionBadSession, Reason: "bad mac"})
	if s.State() != StateClosedFatal {
		t.Fatalf("state = %s, want CLOSED_FATAL", s.State())
	}

	s.Reconnect()
	if got := s.State(); got != StateConnecting && got != StateOpen {
		t.Fatalf("state after manual reconnect = %s", got)
	}
}

func TestGiveUpThresholdKeepsRetrying(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	cfg := config.ReconnectConfig{InitialMs: 1, CapMs: 4, GiveUpAfter: 3}
	s := newTestSupervisor(client, cfg, nil)

	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for !s.GaveUp() {
		if time.Now().After(deadline) {
			t.Fatalf("give-up flag never set; attempts=%d", s.Attempts())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Give-up is a status flag, not a stop: retries continue.
	client.mu.Lock()
	before := client.connects
	client.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	client.mu.Lock()
	after := client.connects
	client.mu.Unlock()
	if after <= before {
		t.Fatal("retries must continue at the capped delay after giving up")
	}

	s.Shutdown()
}

func TestPairingState(t *testing.T) {
	s := newTestSupervisor(&fakeClient{}, defaultReconnect(), nil)

	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	s.HandleEvent(EventPairing{Code: "qr-blob"})
	if s.State() != StateAwaitingPairing {
		t.Fatalf("state = %s, want AWAITING_PAIRING", s.State())
	}
}
