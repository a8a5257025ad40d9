// Package bridge wires the anti-ban core together: one Core value is
// constructed at startup and handed to the HTTP router, the session
// supervisor, and the protocol event stream.
package bridge

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/activity"
	"github.com/ardiansr/wa-bridge/internal/banrisk"
	"github.com/ardiansr/wa-bridge/internal/config"
	"github.com/ardiansr/wa-bridge/internal/fingerprint"
	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/pipeline"
	"github.com/ardiansr/wa-bridge/internal/presence"
	"github.com/ardiansr/wa-bridge/internal/ratelimit"
	"github.com/ardiansr/wa-bridge/internal/recorder"
	"github.com/ardiansr/wa-bridge/internal/state"
	"github.com/ardiansr/wa-bridge/internal/variator"
	"github.com/ardiansr/wa-bridge/internal/wa"
	"github.com/ardiansr/wa-bridge/internal/warmup"
)

// Core owns every long-lived component of the bridge.
type Core struct {
	cfg config.Config

	client     *wa.Meow
	supervisor *wa.Supervisor
	pipe       *pipeline.Pipeline
	cycler     *presence.Cycler

	limiter *ratelimit.Limiter
	warm    *warmup.Registry
	risk    *banrisk.System
	tracker *activity.Tracker

	fpStore *fingerprint.Store
	cron    *cron.Cron

	onMessage pipeline.OnMessage
}

// StatusSnapshot is the aggregate view served by the status endpoint.
type StatusSnapshot struct {
	Connection        wa.ConnState      `json:"connection"`
	Phone             string            `json:"phone,omitempty"`
	Name              string            `json:"name,omitempty"`
	UptimeSeconds     int64             `json:"uptimeSeconds"`
	ReconnectAttempts int               `json:"reconnectAttempts"`
	GaveUp            bool              `json:"gaveUp"`
	Risk              banrisk.Status    `json:"risk"`
	Activity          activity.Snapshot `json:"activity"`
	Warmup            warmup.Summary    `json:"warmup"`
	RateTier          string            `json:"rateTier"`
}

// New builds the Core from configuration. The onMessage callback is
// invoked for every inbound message after the read delay.
func New(cfg config.Config, onMessage pipeline.OnMessage) (*Core, error) {
	st, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	clock := humanize.RealClock()
	sim := humanize.NewSimulator(humanize.NewRand(0))

	fpStore := fingerprint.NewStore(st, clock, sim)
	fp, err := fpStore.Get()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(st, clock, sim, cfg.AccountAgeWeeks)
	warm := warmup.NewRegistry(st, clock)
	risk := banrisk.NewSystem(st, clock)
	tracker := activity.NewTracker(st, clock)
	vary := variator.New(sim)
	rec := recorder.New(cfg.DatabaseURL)

	c := &Core{
		cfg:       cfg,
		limiter:   limiter,
		warm:      warm,
		risk:      risk,
		tracker:   tracker,
		fpStore:   fpStore,
		onMessage: onMessage,
	}

	client, err := wa.NewMeow(cfg.DatabaseURL, fp, c.handleProtocolEvent)
	if err != nil {
		return nil, err
	}
	c.client = client

	c.supervisor = wa.NewSupervisor(client, sim, cfg.Reconnect, func() {
		risk.Record(banrisk.ConnectionDrop)
	})

	c.pipe = pipeline.New(
		client,
		func() wa.ConnState { return c.supervisor.State() },
		sim, clock, limiter, warm, risk, tracker, vary, rec,
		pipeline.Options{
			MessageDelayBaseMs: cfg.MessageDelayBaseMs,
			TypingDelayBaseMs:  cfg.TypingDelayBaseMs,
			SendConcurrency:    cfg.SendConcurrency,
		},
	)

	c.cycler = presence.NewCycler(client, sim, clock,
		func() bool { return c.supervisor.State() == wa.StateOpen && risk.Gate() },
		cfg.ActiveHoursStart, cfg.ActiveHoursEnd)

	c.cron = cron.New()
	if _, err := c.cron.AddFunc("@every 60s", c.flush); err != nil {
		return nil, err
	}
	if _, err := c.cron.AddFunc("@every 1h", c.hourly); err != nil {
		return nil, err
	}

	return c, nil
}

// Start connects the session and launches the background tasks.
func (c *Core) Start(ctx context.Context) {
	c.supervisor.Start()
	go c.cycler.Run(ctx)
	c.cron.Start()
	log.Info().Msg("🚀 Bridge core started")
}

// Shutdown stops background work, flushes state, and closes the socket.
func (c *Core) Shutdown() {
	c.cron.Stop()
	c.flush()
	c.supervisor.Shutdown()
	log.Info().Msg("Bridge core stopped")
}

func (c *Core) handleProtocolEvent(evt interface{}) {
	c.supervisor.HandleEvent(evt)

	switch v := evt.(type) {
	case wa.EventMessage:
		go c.pipe.HandleInbound(context.Background(), v.Message, c.onMessage)
	case wa.EventReceipt:
		c.pipe.HandleReceipt(v.MessageIDs)
	}
}

func (c *Core) flush() {
	c.limiter.Flush()
	c.warm.Flush()
	c.tracker.Flush()
	c.risk.Flush()
}

// hourly sweeps expired risk events and lets the fingerprint rotate once
// its window has elapsed.
func (c *Core) hourly() {
	c.risk.Sweep()
	if _, err := c.fpStore.Get(); err != nil {
		log.Warn().Err(err).Msg("Fingerprint rotation check failed")
	}
}

// Send runs the anti-ban send pipeline.
func (c *Core) Send(ctx context.Context, to, text, replyTo string) (string, error) {
	return c.pipe.Send(ctx, to, text, replyTo)
}

func (c *Core) Status() StatusSnapshot {
	return StatusSnapshot{
		Connection:        c.supervisor.State(),
		Phone:             c.client.SelfJID(),
		Name:              c.client.PushName(),
		UptimeSeconds:     int64(c.supervisor.Uptime() / time.Second),
		ReconnectAttempts: c.supervisor.Attempts(),
		GaveUp:            c.supervisor.GaveUp(),
		Risk:              c.risk.Status(),
		Activity:          c.tracker.Snapshot(),
		Warmup:            c.warm.Summary(),
		RateTier:          c.limiter.Tier().String(),
	}
}

func (c *Core) RateLimitStatus() ratelimit.Usage {
	return c.limiter.Snapshot()
}

// SetAccountAge reselects the tier and returns its description.
func (c *Core) SetAccountAge(weeks int) string {
	return c.limiter.SetAccountAge(weeks).String()
}

// Reconnect requests an immediate connection attempt; no-op while OPEN.
func (c *Core) Reconnect() {
	c.supervisor.Reconnect()
}

func (c *Core) BanWarningStatus() banrisk.Status { return c.risk.Status() }

func (c *Core) EnterHibernation(d time.Duration) { c.risk.EnterHibernation(d) }

func (c *Core) ExitHibernation() error { return c.risk.ExitHibernation() }

func (c *Core) ResetBanWarning() { c.risk.Reset() }

// PresenceOverride forces the global presence beacon.
func (c *Core) PresenceOverride(online bool) {
	c.cycler.Override(online)
}

// QR returns the current pairing code and PNG, empty when paired.
func (c *Core) QR() (string, []byte) {
	return c.client.QR()
}
