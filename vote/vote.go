package vote

import (
	"time"

	"github.com/pollroom/api.pollroom.dev/domain"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/timeutil"
	"go.mongodb.org/mongo-driver/bson/primitive"

	log "github.com/sirupsen/logrus"
)

// Store is the slice of the durable store the ledger needs. InsertVote must
// report a (poll, session) uniqueness violation as mongo.ErrDuplicateVote.
type Store interface {
	InsertVote(v *mongo.Vote) error
	IncrementOptionVotes(pollID, optionID primitive.ObjectID) error
	CountVotes(pollID primitive.ObjectID) (int64, error)
	FindVote(pollID primitive.ObjectID, sessionID string) (*mongo.Vote, error)
}

type Sessions interface {
	Get(sessionID string) (*mongo.Session, error)
}

type Polls interface {
	GetActive() (*mongo.Poll, error)
}

// Finisher force-completes a poll whose time ran out while a vote was in
// flight, so the ended broadcast still fires exactly once.
type Finisher interface {
	Finish(id primitive.ObjectID) error
}

// Ledger records at most one vote per (poll, participant) pair. The store's
// unique index is the single source of truth for "already voted".
type Ledger struct {
	store    Store
	sessions Sessions
	polls    Polls
	finisher Finisher
	now      func() time.Time
}

func NewLedger(store Store, sessions Sessions, polls Polls, finisher Finisher, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, sessions: sessions, polls: polls, finisher: finisher, now: now}
}

// Submit validates and records one vote, then bumps the option tally.
func (l *Ledger) Submit(pollID, optionID, sessionID, voterName string) (*mongo.Vote, error) {
	pid, err := primitive.ObjectIDFromHex(pollID)
	if err != nil {
		return nil, domain.Reject(domain.CodeInvalidID, "Invalid identifier")
	}
	oid, err := primitive.ObjectIDFromHex(optionID)
	if err != nil {
		return nil, domain.Reject(domain.CodeInvalidID, "Invalid identifier")
	}

	s, err := l.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Kicked {
		return nil, domain.Reject(domain.CodeSessionBlocked, "Not allowed to vote")
	}

	active, err := l.polls.GetActive()
	if err != nil {
		return nil, err
	}
	if active == nil || active.ID != pid {
		return nil, domain.Reject(domain.CodePollInactive, "Poll is not active")
	}

	if timeutil.RemainingSeconds(active.ExpiresAt, l.now()) == 0 {
		if err := l.finisher.Finish(active.ID); err != nil {
			log.Errorf("vote, finish err=%v", err)
		}
		return nil, domain.Reject(domain.CodePollEnded, "Poll has ended")
	}

	found := false
	for _, o := range active.Options {
		if o.ID == oid {
			found = true
			break
		}
	}
	if !found {
		return nil, domain.Reject(domain.CodeOptionNotFound, "Option not found")
	}

	if voterName == "" {
		voterName = s.Name
	}
	v := &mongo.Vote{
		PollID:    pid,
		OptionID:  oid,
		SessionID: sessionID,
		VoterName: voterName,
		CreatedAt: l.now(),
	}
	if err := l.store.InsertVote(v); err != nil {
		if err == mongo.ErrDuplicateVote {
			return nil, domain.Reject(domain.CodeAlreadyVoted, "Duplicate vote")
		}
		return nil, err
	}

	if err := l.store.IncrementOptionVotes(pid, oid); err != nil {
		return nil, err
	}
	return v, nil
}

// CountForPoll feeds the "all students answered" early-finish decision.
func (l *Ledger) CountForPoll(pollID primitive.ObjectID) (int64, error) {
	return l.store.CountVotes(pollID)
}

// Find returns the participant's vote on a poll, or nil.
func (l *Ledger) Find(pollID primitive.ObjectID, sessionID string) (*mongo.Vote, error) {
	return l.store.FindVote(pollID, sessionID)
}
