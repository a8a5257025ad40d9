// Package pipeline is the anti-ban send path: admission control, human
// shaping around the protocol send, and post-send recording.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/activity"
	"github.com/ardiansr/wa-bridge/internal/banrisk"
	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/ratelimit"
	"github.com/ardiansr/wa-bridge/internal/recorder"
	"github.com/ardiansr/wa-bridge/internal/variator"
	"github.com/ardiansr/wa-bridge/internal/wa"
	"github.com/ardiansr/wa-bridge/internal/warmup"
)

const (
	// An INTERVAL denial below this threshold is waited out once
	// internally instead of being surfaced.
	internalWaitCeiling = 30 * time.Second

	// Hesitation between finishing "typing" and actually sending.
	hesitationBaseMs = 300

	typingCeilingMs = 6000

	minJIDDigits = 8
)

// Options tunes the shaping delays and parallelism.
type Options struct {
	MessageDelayBaseMs int // base for the pre/post presence delays
	TypingDelayBaseMs  int // floor for the typing duration
	SendConcurrency    int
}

// Pipeline composes the admission gates and shaping around the protocol
// client. Sends to distinct jids run in parallel up to the concurrency
// cap; sends to the same jid serialize on a per-jid lock.
type Pipeline struct {
	client    wa.Client
	connState func() wa.ConnState

	sim      *humanize.Simulator
	clock    humanize.Clock
	limiter  *ratelimit.Limiter
	warm     *warmup.Registry
	risk     *banrisk.System
	activity *activity.Tracker
	vary     *variator.Variator
	rec      recorder.Recorder
	watch    *deliveryWatch

	opts Options

	sem      chan struct{}
	jidLocks *lockMap

	// sleep is swappable so tests run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(
	client wa.Client,
	connState func() wa.ConnState,
	sim *humanize.Simulator,
	clock humanize.Clock,
	limiter *ratelimit.Limiter,
	warm *warmup.Registry,
	risk *banrisk.System,
	tracker *activity.Tracker,
	vary *variator.Variator,
	rec recorder.Recorder,
	opts Options,
) *Pipeline {
	if opts.SendConcurrency <= 0 {
		opts.SendConcurrency = 4
	}
	if opts.MessageDelayBaseMs <= 0 {
		opts.MessageDelayBaseMs = 100
	}
	if opts.TypingDelayBaseMs <= 0 {
		opts.TypingDelayBaseMs = 1000
	}
	return &Pipeline{
		client:    client,
		connState: connState,
		sim:       sim,
		clock:     clock,
		limiter:   limiter,
		warm:      warm,
		risk:      risk,
		activity:  tracker,
		vary:      vary,
		rec:       rec,
		watch:     newDeliveryWatch(risk),
		opts:      opts,
		sem:       make(chan struct{}, opts.SendConcurrency),
		jidLocks:  newLockMap(),
		sleep:     humanize.Sleep,
	}
}

// Send runs the full pipeline for one outbound text. It returns the
// protocol message id on success and a *SendError otherwise.
func (p *Pipeline) Send(ctx context.Context, to, text, replyTo string) (string, error) {
	jid, err := NormalizeJID(to)
	if err != nil {
		return "", errInvalidJID(to)
	}

	// Global concurrency cap.
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", errCanceled(ctx.Err())
	}
	defer func() { <-p.sem }()

	// Per-jid serialization: admission order within a jid is delivery
	// order, and composing/paused indicators never interleave.
	if err := p.jidLocks.lock(ctx, jid); err != nil {
		return "", errCanceled(err)
	}
	defer p.jidLocks.unlock(jid)

	if state := p.connState(); state != wa.StateOpen {
		return "", errNotConnected(string(state))
	}

	if !p.risk.Gate() {
		return "", errHibernating()
	}

	verdict := p.warm.MayMessage(jid)
	if !verdict.Allow {
		return "", errWarmupLimit(verdict.PerDayRemaining)
	}

	decision := p.limiter.CheckAndReserve()
	if !decision.Allow && decision.Scope == ratelimit.ScopeInterval && decision.Wait < internalWaitCeiling {
		// Short interval waits are absorbed here, once.
		if err := p.sleep(ctx, decision.Wait); err != nil {
			return "", errCanceled(err)
		}
		decision = p.limiter.CheckAndReserve()
	}
	if !decision.Allow {
		p.risk.Record(banrisk.RateLimitHit)
		return "", errRateLimited(decision)
	}

	outgoing, exhausted := p.vary.Vary(jid, text)
	if exhausted {
		log.Warn().Str("jid", jid).Msg("No unused variant for repeated content")
		p.risk.Record(banrisk.SuspiciousLatency)
	}

	id, err := p.deliver(ctx, jid, outgoing, replyTo)
	if err != nil {
		// The admission reserved a slot; a failed delivery gives it back.
		p.limiter.Release()
		return "", err
	}

	// Past this point the message is on the wire: counters commit even
	// if the caller's context has expired.
	p.limiter.Commit()
	p.warm.RecordSend(jid)
	p.activity.RecordSent()
	p.vary.Push(jid, outgoing)
	p.watch.track(id)
	p.rec.Sent(jid, id, outgoing)

	log.Debug().Str("jid", jid).Str("id", id).Msg("Message sent")
	return id, nil
}

// deliver performs the shaped presence/typing choreography and the
// protocol send.
func (p *Pipeline) deliver(ctx context.Context, jid, text, replyTo string) (string, error) {
	base := p.opts.MessageDelayBaseMs

	if err := p.client.SubscribePresence(ctx, jid); err != nil {
		log.Debug().Err(err).Str("jid", jid).Msg("Presence subscribe failed")
	}
	if err := p.sleep(ctx, p.sim.HumanDelay(base, 0.5)); err != nil {
		return "", errCanceled(err)
	}
	if err := p.client.SendChatPresence(ctx, jid, wa.ChatComposing); err != nil {
		log.Debug().Err(err).Str("jid", jid).Msg("Composing indicator failed")
	}

	if err := p.sleep(ctx, p.sim.TypingDuration(text, p.opts.TypingDelayBaseMs, typingCeilingMs)); err != nil {
		return "", errCanceled(err)
	}
	if err := p.sleep(ctx, p.sim.HumanDelay(hesitationBaseMs, 0.5)); err != nil {
		return "", errCanceled(err)
	}

	id, err := p.client.SendText(ctx, jid, text, replyTo)
	if err != nil {
		_ = p.client.SendChatPresence(context.Background(), jid, wa.ChatPaused)
		p.risk.Record(banrisk.DeliveryFailure)
		return "", errProtocol(err)
	}

	// The send already happened: finish the choreography detached from
	// the caller's deadline.
	post := context.Background()
	_ = p.sleep(post, p.sim.HumanDelay(2*base, 0.3))
	if err := p.client.SendChatPresence(post, jid, wa.ChatPaused); err != nil {
		log.Debug().Err(err).Str("jid", jid).Msg("Paused indicator failed")
	}
	return id, nil
}

// NormalizeJID canonicalizes a recipient to <digits>@s.whatsapp.net.
func NormalizeJID(raw string) (string, error) {
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() < minJIDDigits {
		return "", errors.New("too few digits")
	}
	return digits.String() + "@s.whatsapp.net", nil
}
