package socket

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pollroom/api.pollroom.dev/broadcast"
	"github.com/pollroom/api.pollroom.dev/domain"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/poll"
	"github.com/pollroom/api.pollroom.dev/session"
	"github.com/pollroom/api.pollroom.dev/timer"
	"github.com/pollroom/api.pollroom.dev/vote"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type voteKey struct {
	pollID    primitive.ObjectID
	sessionID string
}

// fakeStore backs all three service interfaces so the handler tests run the
// real registry, lifecycle manager, timer and ledger end to end.
type fakeStore struct {
	mtx      sync.Mutex
	sessions map[string]*mongo.Session
	polls    map[primitive.ObjectID]*mongo.Poll
	votes    map[voteKey]*mongo.Vote
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*mongo.Session{},
		polls:    map[primitive.ObjectID]*mongo.Poll{},
		votes:    map[voteKey]*mongo.Vote{},
	}
}

func (f *fakeStore) UpsertSession(sessionID, name, role string) (*mongo.Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	now := time.Now()
	online := true
	s, ok := f.sessions[sessionID]
	if !ok {
		s = &mongo.Session{SessionID: sessionID}
		f.sessions[sessionID] = s
	}
	s.Name = name
	s.Role = role
	s.Online = &online
	s.LastSeen = &now
	copy := *s
	return &copy, nil
}

func (f *fakeStore) FindSession(sessionID string) (*mongo.Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copy := *s
	return &copy, nil
}

func (f *fakeStore) FindTeacher() (*mongo.Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var best *mongo.Session
	for _, s := range f.sessions {
		if s.Role != mongo.RoleTeacher || s.Kicked {
			continue
		}
		if best == nil || (s.LastSeen != nil && (best.LastSeen == nil || s.LastSeen.After(*best.LastSeen))) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	copy := *best
	return &copy, nil
}

func (f *fakeStore) SetSessionKicked(sessionID string, kicked bool) (*mongo.Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	s.Kicked = kicked
	copy := *s
	return &copy, nil
}

func (f *fakeStore) SetSessionOnline(sessionID string, online bool) (*mongo.Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	s.Online = &online
	s.LastSeen = &now
	copy := *s
	return &copy, nil
}

func (f *fakeStore) ListActiveSessions(cutoff time.Time) ([]mongo.Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var out []mongo.Session
	for _, s := range f.sessions {
		if s.Kicked {
			continue
		}
		online := s.Online == nil || *s.Online
		recent := s.LastSeen == nil || !s.LastSeen.Before(cutoff)
		if !online && !recent {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) InsertPoll(p *mongo.Poll) (*mongo.Poll, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	p.ID = primitive.NewObjectID()
	copy := *p
	f.polls[p.ID] = &copy
	return p, nil
}

func (f *fakeStore) FindActivePoll() (*mongo.Poll, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, p := range f.polls {
		if p.Status == mongo.PollStatusActive {
			copy := *p
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindPollByID(id primitive.ObjectID) (*mongo.Poll, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	p, ok := f.polls[id]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (f *fakeStore) CompletePoll(id primitive.ObjectID, at time.Time) (*mongo.Poll, bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	p, ok := f.polls[id]
	if !ok {
		return nil, false, nil
	}
	if p.Status == mongo.PollStatusCompleted {
		copy := *p
		return &copy, false, nil
	}
	p.Status = mongo.PollStatusCompleted
	p.CompletedAt = &at
	copy := *p
	return &copy, true, nil
}

func (f *fakeStore) PollHistory(limit int64) ([]mongo.Poll, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var out []mongo.Poll
	for _, p := range f.polls {
		if p.Status == mongo.PollStatusCompleted {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) InsertVote(v *mongo.Vote) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	key := voteKey{pollID: v.PollID, sessionID: v.SessionID}
	if _, ok := f.votes[key]; ok {
		return mongo.ErrDuplicateVote
	}
	copy := *v
	f.votes[key] = &copy
	return nil
}

func (f *fakeStore) IncrementOptionVotes(pollID, optionID primitive.ObjectID) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	p, ok := f.polls[pollID]
	if !ok {
		return nil
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Votes++
		}
	}
	return nil
}

func (f *fakeStore) CountVotes(pollID primitive.ObjectID) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var n int64
	for key := range f.votes {
		if key.pollID == pollID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) FindVote(pollID primitive.ObjectID, sessionID string) (*mongo.Vote, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	v, ok := f.votes[voteKey{pollID: pollID, sessionID: sessionID}]
	if !ok {
		return nil, nil
	}
	copy := *v
	return &copy, nil
}

type fixture struct {
	handler *Handler
	store   *fakeStore
}

func newFixture(t *testing.T) *fixture {
	store := newFakeStore()
	registry := session.NewRegistry(store, session.Options{
		TeacherGraceSeconds:     60,
		TeacherIdleMinutes:      15,
		ParticipantGraceSeconds: 120,
	})
	polls := poll.NewManager(store, poll.Options{MinDurationSeconds: 5, MaxDurationSeconds: 60})
	hub := broadcast.NewHub(nil)
	co := timer.New(polls, hub, timer.Options{Interval: time.Hour})
	t.Cleanup(co.Stop)
	votes := vote.NewLedger(store, registry, polls, co, nil)

	h := &Handler{
		Registry: registry,
		Polls:    polls,
		Votes:    votes,
		Hub:      hub,
		Timer:    co,
		Ready:    func() bool { return true },
	}
	return &fixture{handler: h, store: store}
}

func (f *fixture) announce(t *testing.T, id, name, role string) {
	t.Helper()
	if _, err := f.handler.Registry.Announce(id, name, role, ""); err != nil {
		t.Fatal(err)
	}
}

func createReq(t *testing.T, sessionID, question string, duration int) *Request {
	t.Helper()
	data, err := json.Marshal(createPollPayload{
		SessionID:       sessionID,
		Question:        question,
		Options:         []optionPayload{{Text: "Red"}, {Text: "Blue"}},
		DurationSeconds: duration,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Request{Op: OpCreatePoll, RequestID: "r1", Payload: data}
}

func TestCreatePollFinishesEarlyWhenAllStudentsVoted(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "t1", "Ms. Lee", mongo.RoleTeacher)
	for _, id := range []string{"s1", "s2", "s3"} {
		f.announce(t, id, "Student "+id, mongo.RoleStudent)
	}

	ack := f.handler.createPoll(createReq(t, "t1", "Color?", 60))
	if !ack.Ok {
		t.Fatalf("create ack = %+v, want ok", ack)
	}
	first := ack.Poll
	option := first.Options[0].ID.Hex()
	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := f.handler.Votes.Submit(first.ID.Hex(), option, id, ""); err != nil {
			t.Fatalf("vote by %s err = %v", id, err)
		}
	}

	before := time.Now()
	again := f.handler.createPoll(createReq(t, "t1", "Animal?", 60))
	if !again.Ok {
		t.Fatalf("second create ack = %+v, want ok once every student voted", again)
	}

	stored, _ := f.store.FindPollByID(first.ID)
	if stored.Status != mongo.PollStatusCompleted {
		t.Fatalf("first poll status = %s, want completed", stored.Status)
	}
	if stored.CompletedAt == nil || stored.CompletedAt.Before(before) || stored.CompletedAt.After(stored.ExpiresAt) {
		t.Errorf("completedAt = %v, want the early-finish time before expiry %v", stored.CompletedAt, stored.ExpiresAt)
	}

	active, err := f.handler.Polls.GetActive()
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != again.Poll.ID {
		t.Error("new poll should hold the active slot")
	}
}

func TestCreatePollRejectedWhileStudentsStillAnswering(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "t1", "Ms. Lee", mongo.RoleTeacher)
	f.announce(t, "s1", "Student", mongo.RoleStudent)

	if ack := f.handler.createPoll(createReq(t, "t1", "Color?", 60)); !ack.Ok {
		t.Fatalf("create ack = %+v, want ok", ack)
	}

	again := f.handler.createPoll(createReq(t, "t1", "Animal?", 60))
	if again.Ok {
		t.Fatal("second create should be rejected while a student has not voted")
	}
	if again.Code != domain.CodeActivePollWaiting {
		t.Errorf("code = %s, want %s", again.Code, domain.CodeActivePollWaiting)
	}

	stored, _ := f.store.FindPollByID(f.mustActiveID(t))
	if stored.Status != mongo.PollStatusActive {
		t.Error("running poll should be untouched by the rejected create")
	}
}

func (f *fixture) mustActiveID(t *testing.T) primitive.ObjectID {
	t.Helper()
	active, err := f.handler.Polls.GetActive()
	if err != nil || active == nil {
		t.Fatalf("no active poll (err = %v)", err)
	}
	return active.ID
}

func TestCreatePollRequiresTeacher(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "s1", "Student", mongo.RoleStudent)

	ack := f.handler.createPoll(createReq(t, "s1", "Color?", 30))
	if ack.Ok {
		t.Fatal("student create should be rejected")
	}
}
