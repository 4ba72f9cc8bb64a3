package poll

import (
	"fmt"
	"strings"
	"time"

	"github.com/pollroom/api.pollroom.dev/domain"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/timeutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the slice of the durable store the lifecycle manager needs.
type Store interface {
	InsertPoll(p *mongo.Poll) (*mongo.Poll, error)
	FindActivePoll() (*mongo.Poll, error)
	FindPollByID(id primitive.ObjectID) (*mongo.Poll, error)
	CompletePoll(id primitive.ObjectID, at time.Time) (*mongo.Poll, bool, error)
	PollHistory(limit int64) ([]mongo.Poll, error)
}

type Options struct {
	MinDurationSeconds int
	MaxDurationSeconds int
	Now                func() time.Time
}

// Manager owns the single active-poll slot. Polls move none -> active ->
// completed and are never mutated after completion except by tally
// increments while active.
type Manager struct {
	store Store
	opts  Options
	now   func() time.Time
}

func NewManager(store Store, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, opts: opts, now: now}
}

// OptionInput is one option as submitted by the creator.
type OptionInput struct {
	Text      string
	IsCorrect bool
}

// Create validates the payload, checks the active slot and persists a new
// active poll. The window between the slot check and the insert is
// check-then-act; GetActive reconciliation self-heals a lost race.
func (m *Manager) Create(question string, options []OptionInput, durationSeconds int, createdBy string) (*mongo.Poll, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.Reject("", "Question is required")
	}
	if len(options) < 2 {
		return nil, domain.Reject("", "At least two options are required")
	}
	for _, o := range options {
		if strings.TrimSpace(o.Text) == "" {
			return nil, domain.Reject("", "Options must be non-empty strings")
		}
	}
	if durationSeconds < m.opts.MinDurationSeconds || durationSeconds > m.opts.MaxDurationSeconds {
		return nil, domain.Reject("", fmt.Sprintf("Duration must be between %d and %d seconds", m.opts.MinDurationSeconds, m.opts.MaxDurationSeconds))
	}

	active, err := m.store.FindActivePoll()
	if err != nil {
		return nil, err
	}
	now := m.now()
	if active != nil {
		if timeutil.RemainingSeconds(active.ExpiresAt, now) > 0 {
			return nil, domain.Reject(domain.CodeActivePollExists, "A poll is already active")
		}
		// Expired but never flipped, settle it before taking the slot.
		if _, _, err := m.store.CompletePoll(active.ID, now); err != nil {
			return nil, err
		}
	}

	p := &mongo.Poll{
		Question:        strings.TrimSpace(question),
		DurationSeconds: durationSeconds,
		Status:          mongo.PollStatusActive,
		StartTime:       now,
		ExpiresAt:       now.Add(time.Duration(durationSeconds) * time.Second),
		CreatedBy:       createdBy,
		CreatedAt:       now,
	}
	p.Options = make([]mongo.Option, len(options))
	for i, o := range options {
		p.Options[i] = mongo.Option{
			ID:        primitive.NewObjectID(),
			Text:      strings.TrimSpace(o.Text),
			IsCorrect: o.IsCorrect,
		}
	}

	return m.store.InsertPoll(p)
}

// GetActive returns the current active poll, lazily flipping one whose time
// ran out without the timer firing (restart, crash). Keeps the single-slot
// invariant correct from the readers' side.
func (m *Manager) GetActive() (*mongo.Poll, error) {
	p, err := m.store.FindActivePoll()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if timeutil.RemainingSeconds(p.ExpiresAt, m.now()) == 0 {
		if _, _, err := m.store.CompletePoll(p.ID, m.now()); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return p, nil
}

// Complete is idempotent. The bool reports whether this call made the
// transition; completing an already-completed poll is a no-op returning the
// existing record.
func (m *Manager) Complete(id primitive.ObjectID) (*mongo.Poll, bool, error) {
	return m.store.CompletePoll(id, m.now())
}

func (m *Manager) GetByID(id primitive.ObjectID) (*mongo.Poll, error) {
	return m.store.FindPollByID(id)
}

// History returns completed polls, most recent first.
func (m *Manager) History(limit int) ([]mongo.Poll, error) {
	return m.store.PollHistory(int64(limit))
}
