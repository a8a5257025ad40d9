package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/banrisk"
	"github.com/ardiansr/wa-bridge/internal/wa"
)

// deliveryWatchTimeout is how long a sent message may go without a
// DELIVERED/READ receipt before it counts as suspicious.
const deliveryWatchTimeout = 10 * time.Minute

// InboundEvent is what the upstream webhook collaborator receives.
type InboundEvent struct {
	From          string `json:"from"`
	Text          string `json:"text"`
	MessageID     string `json:"messageId"`
	IsGroup       bool   `json:"isGroup"`
	GroupID       string `json:"groupId,omitempty"`
	QuotedMessage string `json:"quotedMessage,omitempty"`
}

// OnMessage is the upstream callback invoked for every inbound message.
type OnMessage func(evt InboundEvent)

// HandleInbound implements the receive path: read-delay, mark-read,
// webhook callback, activity counter.
func (p *Pipeline) HandleInbound(ctx context.Context, in wa.Inbound, cb OnMessage) {
	if err := p.sleep(ctx, p.sim.ReadDelay(in.Text)); err != nil {
		return
	}

	if err := p.client.MarkRead(ctx, in.From, in.Sender, []string{in.MessageID}); err != nil {
		log.Debug().Err(err).Str("from", in.From).Msg("Mark-read failed")
	}

	if cb != nil {
		cb(InboundEvent{
			From:          in.From,
			Text:          in.Text,
			MessageID:     in.MessageID,
			IsGroup:       in.IsGroup,
			GroupID:       in.GroupID,
			QuotedMessage: in.QuotedID,
		})
	}

	p.activity.RecordReceived()
	p.rec.Received(in.From, in.MessageID, in.Text)
}

// HandleReceipt resolves pending delivery watches for acknowledged
// message ids.
func (p *Pipeline) HandleReceipt(ids []string) {
	for _, id := range ids {
		p.watch.resolve(id)
	}
}

// deliveryWatch tracks sent messages awaiting a DELIVERED/READ receipt.
// Expiry records SUSPICIOUS_LATENCY; a receipt cancels the candidate.
type deliveryWatch struct {
	mu      sync.Mutex
	risk    *banrisk.System
	pending map[string]*time.Timer
	timeout time.Duration
}

func newDeliveryWatch(risk *banrisk.System) *deliveryWatch {
	return &deliveryWatch{
		risk:    risk,
		pending: make(map[string]*time.Timer),
		timeout: deliveryWatchTimeout,
	}
}

func (w *deliveryWatch) track(id string) {
	if id == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.pending[id]; exists {
		return
	}
	w.pending[id] = time.AfterFunc(w.timeout, func() { w.expire(id) })
}

func (w *deliveryWatch) resolve(id string) {
	w.mu.Lock()
	timer, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

func (w *deliveryWatch) expire(id string) {
	w.mu.Lock()
	_, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if ok {
		log.Warn().Str("id", id).Msg("No delivery receipt within the watch window")
		w.risk.Record(banrisk.SuspiciousLatency)
	}
}
