package agent

import "context"

// Session is the conversational pipeline driven by the Controller. The
// controller only sequences calls on it; turn-taking, speech and model
// dispatch live behind this interface.
type Session interface {
	Start(ctx context.Context) error
	// GenerateReply asks the model to speak from the given prompt.
	GenerateReply(ctx context.Context, prompt string) error
	// Say speaks literal text. With allowInterruptions false the caller's
	// audio must not cut the playback short.
	Say(ctx context.Context, text string, allowInterruptions bool) error
	// WaitForPlayout blocks until pending speech has finished playing, or the
	// context expires.
	WaitForPlayout(ctx context.Context)
	Close(ctx context.Context) error
}

// RoomConnector is the slice of the room provider the controller needs.
type RoomConnector interface {
	Connect(ctx context.Context, roomName string) error
	DeleteRoom(ctx context.Context, roomName string) error
}

// Tool is an action the remote model may invoke by name. Args arrive as the
// raw JSON argument object composed by the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]string
	Handler     func(ctx context.Context, argsJSON string) error
}

// State of the call session owned by a Controller.
type State int

const (
	StateConstructed State = iota
	StateActive
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Shutdown reason labels attached to worker exit.
const (
	ReasonConnectionTimeout = "connection_timeout"
	ReasonConnectionFailed  = "connection_failed"
	ReasonVoicemailLeft     = "voicemail_left"
)
