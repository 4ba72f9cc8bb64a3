package socket

import (
	"time"

	"github.com/pollroom/api.pollroom.dev/broadcast"
	"github.com/pollroom/api.pollroom.dev/chat"
	"github.com/pollroom/api.pollroom.dev/domain"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/poll"
	"github.com/pollroom/api.pollroom.dev/session"
	"github.com/pollroom/api.pollroom.dev/timer"
	"github.com/pollroom/api.pollroom.dev/timeutil"
	"github.com/pollroom/api.pollroom.dev/vote"
	"go.mongodb.org/mongo-driver/bson/primitive"

	log "github.com/sirupsen/logrus"
)

const unavailableMessage = "Database unavailable"

// Handler dispatches socket requests to the coordination services.
type Handler struct {
	Registry  *session.Registry
	Polls     *poll.Manager
	Votes     *vote.Ledger
	Chat      *chat.Service
	Hub       *broadcast.Hub
	Timer     *timer.Coordinator
	Ready     func() bool
	State     func(sessionID string) (*poll.State, error)
	Heartbeat time.Duration
}

func unavailableAck(requestID string) Ack {
	return Ack{RequestID: requestID, Ok: false, Message: unavailableMessage}
}

// errorAck maps a service error to an acknowledgment. Rejections keep their
// code; anything else is an infrastructure failure reported uniformly.
func errorAck(requestID string, err error) Ack {
	if rej, ok := domain.AsRejection(err); ok {
		return Ack{
			RequestID:   requestID,
			Ok:          false,
			Code:        rej.Code,
			Message:     rej.Message,
			WaitSeconds: rej.WaitSeconds,
		}
	}
	log.Errorf("socket, err=%v", err)
	return unavailableAck(requestID)
}

func (h *Handler) dispatch(client *broadcast.Client, state *connState, req *Request) Ack {
	switch req.Op {
	case OpSessionInit:
		return h.sessionInit(client, state, req)
	case OpRequestState:
		return h.requestState(client, req)
	case OpCreatePoll:
		return h.createPoll(req)
	case OpVote:
		return h.submitVote(req)
	case OpKick:
		return h.kick(req)
	case OpSessionsRequest:
		h.emitParticipants()
		return Ack{RequestID: req.RequestID, Ok: true}
	case OpChatMessage:
		return h.chatMessage(req)
	}
	return Ack{RequestID: req.RequestID, Ok: false, Message: "Unknown operation"}
}

func (h *Handler) sessionInit(client *broadcast.Client, state *connState, req *Request) Ack {
	if !h.Ready() {
		return unavailableAck(req.RequestID)
	}
	var p initPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Ack{RequestID: req.RequestID, Ok: false, Code: domain.CodeSessionInvalid, Message: "Session info missing"}
	}

	s, err := h.Registry.Announce(p.SessionID, p.Name, p.Role, p.Password)
	if err != nil {
		ack := errorAck(req.RequestID, err)
		if ack.Code == domain.CodeSessionBlocked {
			client.Send(broadcast.EventKicked, kickedPayload{SessionID: p.SessionID})
		}
		return ack
	}

	state.set(s.SessionID)
	st, err := h.State(s.SessionID)
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	client.Send(broadcast.EventPollState, st)
	if messages, err := h.Chat.Recent(); err == nil {
		client.Send(broadcast.EventChatHistory, struct {
			Messages []chat.Message `json:"messages"`
		}{messages})
	}
	h.emitParticipants()
	return Ack{RequestID: req.RequestID, Ok: true, State: st}
}

func (h *Handler) requestState(client *broadcast.Client, req *Request) Ack {
	if !h.Ready() {
		return unavailableAck(req.RequestID)
	}
	var p statePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Ack{RequestID: req.RequestID, Ok: false, Code: domain.CodeInvalidID, Message: "Invalid request"}
	}
	st, err := h.State(p.SessionID)
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	if st.Kicked {
		client.Send(broadcast.EventKicked, kickedPayload{SessionID: p.SessionID})
		return Ack{RequestID: req.RequestID, Ok: false, Code: domain.CodeSessionBlocked, Message: "You were removed"}
	}
	client.Send(broadcast.EventPollState, st)
	return Ack{RequestID: req.RequestID, Ok: true, State: st}
}

func (h *Handler) authorizedTeacher(sessionID string) (*mongo.Session, error) {
	actor, err := h.Registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.Role != mongo.RoleTeacher || actor.Kicked {
		return nil, nil
	}
	return actor, nil
}

func (h *Handler) createPoll(req *Request) Ack {
	if !h.Ready() {
		return unavailableAck(req.RequestID)
	}
	var p createPollPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Ack{RequestID: req.RequestID, Ok: false, Message: "Invalid request"}
	}

	actor, err := h.authorizedTeacher(p.SessionID)
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	if actor == nil {
		return Ack{RequestID: req.RequestID, Ok: false, Message: "Not authorized to create polls"}
	}

	// Only allow a new poll if none is running or every active student has
	// already answered the current one; in the latter case finish it early.
	active, err := h.Polls.GetActive()
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	if active != nil && timeutil.RemainingSeconds(active.ExpiresAt, time.Now()) > 0 {
		votes, err := h.Votes.CountForPoll(active.ID)
		if err != nil {
			return errorAck(req.RequestID, err)
		}
		students, err := h.Registry.ActiveStudentCount()
		if err != nil {
			return errorAck(req.RequestID, err)
		}
		if votes < int64(students) {
			return Ack{
				RequestID: req.RequestID,
				Ok:        false,
				Code:      domain.CodeActivePollWaiting,
				Message:   "Wait for all students to answer or let the timer finish.",
			}
		}
		if err := h.Timer.Finish(active.ID); err != nil {
			return errorAck(req.RequestID, err)
		}
	}

	options := make([]poll.OptionInput, len(p.Options))
	for i, o := range p.Options {
		options[i] = poll.OptionInput{Text: o.Text, IsCorrect: o.IsCorrect}
	}
	created, err := h.Polls.Create(p.Question, options, p.DurationSeconds, actor.SessionID)
	if err != nil {
		return errorAck(req.RequestID, err)
	}

	remaining := timeutil.RemainingSeconds(created.ExpiresAt, time.Now())
	h.Hub.Emit(broadcast.EventPollCreated, pollCreatedPayload{Poll: created, RemainingSeconds: remaining})
	h.Timer.Start(created)
	return Ack{RequestID: req.RequestID, Ok: true, Poll: created}
}

func (h *Handler) submitVote(req *Request) Ack {
	if !h.Ready() {
		return unavailableAck(req.RequestID)
	}
	var p votePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Ack{RequestID: req.RequestID, Ok: false, Code: domain.CodeInvalidID, Message: "Invalid request"}
	}

	if _, err := h.Votes.Submit(p.PollID, p.OptionID, p.SessionID, p.VoterName); err != nil {
		return errorAck(req.RequestID, err)
	}

	pid, _ := primitive.ObjectIDFromHex(p.PollID)
	if updated, err := h.Polls.GetByID(pid); err == nil && updated != nil {
		h.Hub.Emit(broadcast.EventPollUpdate, pollUpdatePayload{Poll: updated})
	}
	return Ack{RequestID: req.RequestID, Ok: true}
}

func (h *Handler) kick(req *Request) Ack {
	if !h.Ready() {
		return unavailableAck(req.RequestID)
	}
	var p kickPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Ack{RequestID: req.RequestID, Ok: false, Message: "Invalid request"}
	}

	actor, err := h.authorizedTeacher(p.ActorSessionID)
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	if actor == nil {
		return Ack{RequestID: req.RequestID, Ok: false, Message: "Not authorized"}
	}

	updated, err := h.Registry.Kick(p.TargetSessionID)
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	if updated != nil {
		h.Hub.Emit(broadcast.EventKicked, kickedPayload{SessionID: p.TargetSessionID})
		h.emitParticipants()
	}
	return Ack{RequestID: req.RequestID, Ok: true}
}

func (h *Handler) chatMessage(req *Request) Ack {
	if !h.Ready() {
		return unavailableAck(req.RequestID)
	}
	var p chatPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Ack{RequestID: req.RequestID, Ok: false, Code: domain.CodeChatInvalid, Message: "Invalid message"}
	}

	msg, err := h.Chat.Post(p.SessionID, p.Text)
	if err != nil {
		return errorAck(req.RequestID, err)
	}
	h.Hub.Emit(broadcast.EventChatMessage, msg)
	return Ack{RequestID: req.RequestID, Ok: true}
}

func (h *Handler) emitParticipants() {
	sessions, err := h.Registry.ListActive()
	if err != nil {
		log.Errorf("participants, err=%v", err)
		return
	}
	participants := make([]participantInfo, len(sessions))
	for i, s := range sessions {
		participants[i] = participantInfo{SessionID: s.SessionID, Name: s.Name, Role: s.Role}
	}
	h.Hub.Emit(broadcast.EventSessions, participantsPayload{Participants: participants})
}
