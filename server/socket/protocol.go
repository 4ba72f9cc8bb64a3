package socket

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/poll"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request op names, client to server.
const (
	OpSessionInit     = "session:init"
	OpRequestState    = "request:state"
	OpCreatePoll      = "teacher:createPoll"
	OpVote            = "student:vote"
	OpKick            = "teacher:kick"
	OpSessionsRequest = "sessions:request"
	OpChatMessage     = "chat:message"
)

type Request struct {
	Op        string              `json:"op"`
	RequestID string              `json:"request_id"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

// Ack is the synchronous reply to one request. Expected rejections carry a
// code and message, never a dropped connection.
type Ack struct {
	RequestID   string      `json:"request_id,omitempty"`
	Ok          bool        `json:"ok"`
	Code        string      `json:"code,omitempty"`
	Message     string      `json:"message,omitempty"`
	WaitSeconds int         `json:"waitSeconds,omitempty"`
	State       *poll.State `json:"state,omitempty"`
	Poll        *mongo.Poll `json:"poll,omitempty"`
}

type initPayload struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Password  string `json:"password"`
}

type statePayload struct {
	SessionID string `json:"sessionId"`
}

type optionPayload struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// UnmarshalJSON accepts either a bare string or an option object.
func (o *optionPayload) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &o.Text)
	}
	var raw struct {
		Text      string `json:"text"`
		IsCorrect bool   `json:"isCorrect"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Text = raw.Text
	o.IsCorrect = raw.IsCorrect
	return nil
}

type createPollPayload struct {
	SessionID       string          `json:"sessionId"`
	Question        string          `json:"question"`
	Options         []optionPayload `json:"options"`
	DurationSeconds int             `json:"durationSeconds"`
}

type votePayload struct {
	PollID    string `json:"pollId"`
	OptionID  string `json:"optionId"`
	SessionID string `json:"sessionId"`
	VoterName string `json:"voterName"`
}

type kickPayload struct {
	TargetSessionID string `json:"targetSessionId"`
	ActorSessionID  string `json:"actorSessionId"`
}

type chatPayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type participantInfo struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

type participantsPayload struct {
	Participants []participantInfo `json:"participants"`
}

type kickedPayload struct {
	SessionID string `json:"sessionId"`
}

type pollCreatedPayload struct {
	Poll             *mongo.Poll `json:"poll"`
	RemainingSeconds int         `json:"remainingSeconds"`
}

type pollUpdatePayload struct {
	Poll *mongo.Poll `json:"poll"`
}
