package timer

import (
	"sync"
	"time"

	"github.com/pollroom/api.pollroom.dev/broadcast"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/timeutil"
	"go.mongodb.org/mongo-driver/bson/primitive"

	log "github.com/sirupsen/logrus"
)

type Polls interface {
	GetActive() (*mongo.Poll, error)
	Complete(id primitive.ObjectID) (*mongo.Poll, bool, error)
}

type Broadcaster interface {
	Emit(event string, payload interface{})
}

type Options struct {
	Now      func() time.Time
	Interval time.Duration
}

// Coordinator drives the countdown for the single active poll. Starting a
// new poll replaces any prior countdown, there is never more than one
// ticking timer.
type Coordinator struct {
	mtx      sync.Mutex
	polls    Polls
	bc       Broadcaster
	now      func() time.Time
	interval time.Duration
	stop     chan struct{}
}

func New(polls Polls, bc Broadcaster, opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval == 0 {
		interval = time.Second
	}
	return &Coordinator{polls: polls, bc: bc, now: now, interval: interval}
}

type tickPayload struct {
	PollID           string `json:"pollId"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type endedPayload struct {
	Poll *mongo.Poll `json:"poll"`
}

// Start installs the countdown for p, cancelling any previous one, and emits
// a first tick immediately.
func (c *Coordinator) Start(p *mongo.Poll) {
	c.Stop()

	c.mtx.Lock()
	stop := make(chan struct{})
	c.stop = stop
	c.mtx.Unlock()

	if c.tick(p) {
		return
	}
	go c.run(p, stop)
}

func (c *Coordinator) run(p *mongo.Poll, stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.tick(p) {
				return
			}
		}
	}
}

// tick emits the remaining seconds and reports whether the countdown is done.
// A failed completion keeps the loop alive so a later tick can retry.
func (c *Coordinator) tick(p *mongo.Poll) bool {
	remaining := timeutil.RemainingSeconds(p.ExpiresAt, c.now())
	c.bc.Emit(broadcast.EventPollTimer, tickPayload{
		PollID:           p.ID.Hex(),
		RemainingSeconds: remaining,
	})
	if remaining > 0 {
		return false
	}
	if err := c.Finish(p.ID); err != nil {
		return false
	}
	return true
}

// Finish completes the poll and, if this call made the transition, broadcasts
// the final tallies. Always clears the local ticking state on success.
func (c *Coordinator) Finish(id primitive.ObjectID) error {
	completed, transitioned, err := c.polls.Complete(id)
	if err != nil {
		log.Errorf("timer, complete err=%v", err)
		return err
	}
	if transitioned && completed != nil {
		c.bc.Emit(broadcast.EventPollEnded, endedPayload{Poll: completed})
	}
	c.Stop()
	return nil
}

// Stop cancels any pending tick schedule.
func (c *Coordinator) Stop() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// RestoreFromStore resumes the countdown for a poll whose expiry survived a
// process restart.
func (c *Coordinator) RestoreFromStore() error {
	active, err := c.polls.GetActive()
	if err != nil {
		return err
	}
	if active != nil {
		c.Start(active)
	}
	return nil
}
