// Package presence runs the global online/offline beacon in a human
// cadence during configured active hours. It never gates sending; the
// jid-scoped composing/paused indicators around a send stay untouched.
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/humanize"
)

const (
	onlineMinMinutes  = 5
	onlineMaxMinutes  = 45
	offlineMinMinutes = 2
	offlineMaxMinutes = 15

	// How often the cycler re-checks conditions while idle.
	idlePoll = time.Minute
)

// Conn is the slice of the protocol client the cycler needs.
type Conn interface {
	IsConnected() bool
	SendPresence(ctx context.Context, online bool) error
}

type Cycler struct {
	sim   *humanize.Simulator
	clock humanize.Clock
	conn  Conn

	// admit reports whether cycling may run (connection open, not
	// hibernating).
	admit func() bool

	startHour int
	endHour   int

	override chan bool
	online   bool
}

func NewCycler(conn Conn, sim *humanize.Simulator, clock humanize.Clock, admit func() bool, startHour, endHour int) *Cycler {
	return &Cycler{
		sim:       sim,
		clock:     clock,
		conn:      conn,
		admit:     admit,
		startHour: startHour,
		endHour:   endHour,
		override:  make(chan bool, 1),
	}
}

// Run cycles presence until ctx is cancelled.
func (c *Cycler) Run(ctx context.Context) {
	log.Info().Int("start", c.startHour).Int("end", c.endHour).Msg("Presence cycler started")

	for {
		select {
		case <-ctx.Done():
			return
		case online := <-c.override:
			c.apply(ctx, online)
			continue
		default:
		}

		if !c.conn.IsConnected() || !c.admit() || !c.inActiveHours(c.clock.Now()) {
			if c.online {
				c.apply(ctx, false)
			}
			if c.wait(ctx, idlePoll) {
				return
			}
			continue
		}

		c.apply(ctx, true)
		if c.wait(ctx, c.onlinePhase()) {
			return
		}

		c.apply(ctx, false)
		if c.wait(ctx, c.offlinePhase()) {
			return
		}
	}
}

// Override forces the global presence immediately; the automatic cycle
// resumes at the next phase boundary.
func (c *Cycler) Override(online bool) {
	select {
	case c.override <- online:
	default:
	}
}

func (c *Cycler) apply(ctx context.Context, online bool) {
	if !c.conn.IsConnected() {
		c.online = false
		return
	}
	if err := c.conn.SendPresence(ctx, online); err != nil {
		log.Warn().Err(err).Bool("online", online).Msg("Presence update failed")
		return
	}
	c.online = online
}

// wait sleeps for d, interruptible by an override or cancellation.
// Returns true when the cycler should stop.
func (c *Cycler) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case online := <-c.override:
		c.apply(ctx, online)
		return false
	case <-timer.C:
		return false
	}
}

func (c *Cycler) onlinePhase() time.Duration {
	return time.Duration(onlineMinMinutes+c.sim.Intn(onlineMaxMinutes-onlineMinMinutes+1)) * time.Minute
}

func (c *Cycler) offlinePhase() time.Duration {
	return time.Duration(offlineMinMinutes+c.sim.Intn(offlineMaxMinutes-offlineMinMinutes+1)) * time.Minute
}

// inActiveHours applies the [start, end) wall-clock window, handling
// windows that cross midnight.
func (c *Cycler) inActiveHours(now time.Time) bool {
	h := now.Hour()
	if c.startHour == c.endHour {
		return true
	}
	if c.startHour < c.endHour {
		return h >= c.startHour && h < c.endHour
	}
	return h >= c.startHour || h < c.endHour
}
