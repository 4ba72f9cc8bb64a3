package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

const (
	PollStatusActive    = "active"
	PollStatusCompleted = "completed"
)

// Session is one participant identity, upserted by session id on every
// announce. Online and LastSeen are pointers because records written by older
// builds may lack them; absent means "treat as active".
type Session struct {
	ID        primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	SessionID string             `json:"sessionId" bson:"session_id"`
	Name      string             `json:"name" bson:"name"`
	Role      string             `json:"role" bson:"role"`
	Kicked    bool               `json:"kicked" bson:"kicked"`
	Online    *bool              `json:"online,omitempty" bson:"online,omitempty"`
	LastSeen  *time.Time         `json:"lastSeen,omitempty" bson:"last_seen,omitempty"`
}

type Poll struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Question        string             `json:"question" bson:"question"`
	Options         []Option           `json:"options" bson:"options"`
	DurationSeconds int                `json:"durationSeconds" bson:"duration_seconds"`
	Status          string             `json:"status" bson:"status"`
	StartTime       time.Time          `json:"startTime" bson:"start_time"`
	ExpiresAt       time.Time          `json:"expiresAt" bson:"expires_at"`
	CompletedAt     *time.Time         `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
	CreatedBy       string             `json:"createdBy" bson:"created_by"`
	CreatedAt       time.Time          `json:"createdAt" bson:"created_at"`
}

// Option correctness is informational only, the core never enforces it.
type Option struct {
	ID        primitive.ObjectID `json:"id" bson:"_id"`
	Text      string             `json:"text" bson:"text"`
	IsCorrect bool               `json:"isCorrect" bson:"is_correct"`
	Votes     int32              `json:"votes" bson:"votes"`
}

// Vote is a fact record, never updated or deleted. The unique compound index
// on (poll_id, session_id) is what makes one-vote-per-participant durable.
type Vote struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	PollID    primitive.ObjectID `json:"pollId" bson:"poll_id"`
	OptionID  primitive.ObjectID `json:"optionId" bson:"option_id"`
	SessionID string             `json:"sessionId" bson:"session_id"`
	VoterName string             `json:"voterName" bson:"voter_name"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}
