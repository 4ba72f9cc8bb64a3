package domain

// Rejection codes reported through socket acknowledgments. These are expected
// outcomes, not failures: callers render them, they are never logged as errors.
const (
	CodeSessionInvalid    = "SESSION_INVALID"
	CodeTeacherExists     = "TEACHER_EXISTS"
	CodeSessionBlocked    = "SESSION_BLOCKED"
	CodeActivePollExists  = "ACTIVE_POLL_EXISTS"
	CodeActivePollWaiting = "ACTIVE_POLL_WAITING"
	CodePollInactive      = "POLL_INACTIVE"
	CodePollEnded         = "POLL_ENDED"
	CodeOptionNotFound    = "OPTION_NOT_FOUND"
	CodeAlreadyVoted      = "ALREADY_VOTED"
	CodeInvalidID         = "INVALID_ID"
	CodeChatInvalid       = "CHAT_INVALID"
)

// Rejection is a domain outcome carried back to the initiating caller with
// enough structure to render a specific remedial UI.
type Rejection struct {
	Code        string
	Message     string
	WaitSeconds int
}

func (r *Rejection) Error() string {
	return r.Message
}

func Reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// AsRejection returns err as a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	r, ok := err.(*Rejection)
	return r, ok
}
