package session

import (
	"math"
	"time"

	"github.com/pollroom/api.pollroom.dev/domain"
	"github.com/pollroom/api.pollroom.dev/mongo"
)

// Store is the slice of the durable store the registry needs.
type Store interface {
	UpsertSession(sessionID, name, role string) (*mongo.Session, error)
	FindSession(sessionID string) (*mongo.Session, error)
	FindTeacher() (*mongo.Session, error)
	SetSessionKicked(sessionID string, kicked bool) (*mongo.Session, error)
	SetSessionOnline(sessionID string, online bool) (*mongo.Session, error)
	ListActiveSessions(cutoff time.Time) ([]mongo.Session, error)
}

type Options struct {
	// TeacherGraceSeconds is how long a recently seen teacher still holds the
	// slot against a different session key.
	TeacherGraceSeconds int
	// TeacherIdleMinutes is the inactivity span after which an abandoned
	// teacher slot is forcibly reclaimed.
	TeacherIdleMinutes      int
	ParticipantGraceSeconds int
	// TeacherPassword gates the teacher role when non-empty.
	TeacherPassword string
	Now             func() time.Time
}

// Registry owns participant identity, presence and the teacher slot.
type Registry struct {
	store Store
	opts  Options
	now   func() time.Time
}

func NewRegistry(store Store, opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, opts: opts, now: now}
}

// Announce upserts an identity and marks it online. Teacher announces go
// through slot arbitration first. A kicked record is rejected permanently.
func (r *Registry) Announce(sessionID, name, role, password string) (*mongo.Session, error) {
	if sessionID == "" || name == "" || (role != mongo.RoleTeacher && role != mongo.RoleStudent) {
		return nil, domain.Reject(domain.CodeSessionInvalid, "Session info missing")
	}

	if role == mongo.RoleTeacher {
		if r.opts.TeacherPassword != "" && password != r.opts.TeacherPassword {
			return nil, domain.Reject(domain.CodeSessionInvalid, "Invalid teacher password")
		}
		if err := r.arbitrateTeacher(sessionID); err != nil {
			return nil, err
		}
	}

	s, err := r.store.UpsertSession(sessionID, name, role)
	if err != nil {
		return nil, err
	}
	if s.Kicked {
		return nil, domain.Reject(domain.CodeSessionBlocked, "You were removed")
	}
	return s, nil
}

// arbitrateTeacher grants or denies the teacher slot. The check-then-act
// window between FindTeacher and the upsert is accepted; a conflicting
// announce lands in the same grace logic on its next pass.
func (r *Registry) arbitrateTeacher(sessionID string) error {
	cand, err := r.store.FindTeacher()
	if err != nil {
		return err
	}
	if cand == nil || cand.SessionID == sessionID {
		return nil
	}

	now := r.now()
	idle := time.Duration(r.opts.TeacherIdleMinutes) * time.Minute
	if cand.LastSeen != nil && now.Sub(*cand.LastSeen) >= idle {
		// Abandoned slot. Reclaim it for the new requester.
		if _, err := r.store.SetSessionKicked(cand.SessionID, true); err != nil {
			return err
		}
		return nil
	}

	var age float64
	withinGrace := true
	if cand.LastSeen != nil {
		age = now.Sub(*cand.LastSeen).Seconds()
		withinGrace = age <= float64(r.opts.TeacherGraceSeconds)
	}
	online := cand.Online == nil || *cand.Online

	if online || withinGrace {
		wait := int(math.Ceil(float64(r.opts.TeacherGraceSeconds) - age))
		if wait < 0 {
			wait = 0
		}
		return &domain.Rejection{
			Code:        domain.CodeTeacherExists,
			Message:     "Another teacher session is active.",
			WaitSeconds: wait,
		}
	}
	return nil
}

func (r *Registry) Get(sessionID string) (*mongo.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	return r.store.FindSession(sessionID)
}

// Kick marks a participant as removed for the rest of the session universe.
// Returns nil without error when the session is unknown.
func (r *Registry) Kick(sessionID string) (*mongo.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	return r.store.SetSessionKicked(sessionID, true)
}

// SetOnline updates presence and refreshes last seen. Called on connect,
// disconnect and the per-connection heartbeat.
func (r *Registry) SetOnline(sessionID string, online bool) error {
	if sessionID == "" {
		return nil
	}
	_, err := r.store.SetSessionOnline(sessionID, online)
	return err
}

// ListActive returns participants that are not kicked and either online or
// seen within the participant grace window.
func (r *Registry) ListActive() ([]mongo.Session, error) {
	cutoff := r.now().Add(-time.Duration(r.opts.ParticipantGraceSeconds) * time.Second)
	return r.store.ListActiveSessions(cutoff)
}

// ActiveStudentCount is the denominator for the "all students answered"
// early-finish decision. It counts students active right now, so a student
// joining mid-poll raises the bar.
func (r *Registry) ActiveStudentCount() (int, error) {
	sessions, err := r.ListActive()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range sessions {
		if s.Role == mongo.RoleStudent {
			count++
		}
	}
	return count, nil
}
