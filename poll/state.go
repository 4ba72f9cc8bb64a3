package poll

import "github.com/pollroom/api.pollroom.dev/mongo"

// State is the snapshot pushed to clients and served by the REST surface.
// Kicked sessions get an empty snapshot with Kicked set.
type State struct {
	Poll             *mongo.Poll `json:"poll"`
	RemainingSeconds int         `json:"remainingSeconds"`
	HasVoted         bool        `json:"hasVoted"`
	VotedOptionID    string      `json:"votedOptionId,omitempty"`
	Kicked           bool        `json:"kicked,omitempty"`
}
