package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"

	"github.com/vinesh178/customer-service-agent/internal/callctx"
)

// sipClient is the slice of the provider SIP API the initiator uses.
type sipClient interface {
	CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error)
}

// roomDirectory is the slice of the room service used to enumerate and end
// active calls.
type roomDirectory interface {
	ListRooms(ctx context.Context) ([]*livekit.Room, error)
	ListParticipants(ctx context.Context, roomName string) ([]*livekit.ParticipantInfo, error)
	RemoveParticipant(ctx context.Context, roomName, identity string) error
}

// CallResult is the outcome of placing one outbound call. Provider failures
// are reported in the result, never raised: automation callers need a
// machine-readable value.
type CallResult struct {
	Success       bool   `json:"success"`
	RoomName      string `json:"room_name,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	PhoneNumber   string `json:"phone_number"`
	Error         string `json:"error,omitempty"`
}

// ActiveCall describes one in-progress SIP participant.
type ActiveCall struct {
	ParticipantID string `json:"participant_id"`
	Identity      string `json:"identity"`
	RoomName      string `json:"room_name"`
	State         string `json:"state"`
}

// ListResult is the outcome of an active-call enumeration.
type ListResult struct {
	Success     bool         `json:"success"`
	ActiveCalls []ActiveCall `json:"active_calls,omitempty"`
	Count       int          `json:"count"`
	Error       string       `json:"error,omitempty"`
}

// HangupResult is the outcome of ending one call leg.
type HangupResult struct {
	Success  bool   `json:"success"`
	RoomName string `json:"room_name"`
	Identity string `json:"identity"`
	Error    string `json:"error,omitempty"`
}

// Initiator places and manages outbound calls. Safe for concurrent use; it
// holds no per-call state.
type Initiator struct {
	sip     sipClient
	rooms   roomDirectory
	trunkID string
}

func NewInitiator(sip sipClient, rooms roomDirectory, trunkID string) *Initiator {
	return &Initiator{sip: sip, rooms: rooms, trunkID: trunkID}
}

// sanitizePhone strips separators from a dialable number but keeps the E.164
// plus sign. The result must not contain the room-name delimiter.
func sanitizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '(', ')', '.', '_':
			return -1
		}
		return r
	}, phone)
}

// newRoomName generates "outbound_<phone>_<random>". The random suffix keeps
// concurrent calls to the same number in distinct rooms.
func newRoomName(phone string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", callctx.Outbound, sanitizePhone(phone), suffix)
}

// MakeCall creates a fresh outbound room and dials the customer into it,
// waiting until the call is answered before returning.
func (i *Initiator) MakeCall(ctx context.Context, phone string, customerData map[string]string) CallResult {
	roomName := newRoomName(phone)

	meta, err := json.Marshal(map[string]any{
		"phone_number":  phone,
		"customer_data": customerData,
		"call_type":     "outbound_service",
	})
	if err != nil {
		return CallResult{Success: false, Error: fmt.Sprintf("encode metadata: %v", err), PhoneNumber: phone}
	}

	log.Printf("telephony: dialing %s into room %s", phone, roomName)
	participant, err := i.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		RoomName:            roomName,
		SipTrunkId:          i.trunkID,
		SipCallTo:           phone,
		ParticipantIdentity: "caller-" + phone,
		ParticipantName:     "Customer " + phone,
		WaitUntilAnswered:   true,
		ParticipantMetadata: string(meta),
	})
	if err != nil {
		log.Printf("telephony: dial %s failed: %v", phone, err)
		return CallResult{Success: false, Error: err.Error(), PhoneNumber: phone}
	}

	log.Printf("telephony: SIP participant created: %s", participant.ParticipantId)
	return CallResult{
		Success:       true,
		RoomName:      roomName,
		ParticipantID: participant.ParticipantId,
		PhoneNumber:   phone,
	}
}

// ListActiveCalls enumerates SIP participants across call rooms.
func (i *Initiator) ListActiveCalls(ctx context.Context) ListResult {
	rooms, err := i.rooms.ListRooms(ctx)
	if err != nil {
		return ListResult{Success: false, Error: err.Error()}
	}

	var calls []ActiveCall
	for _, room := range rooms {
		direction, _ := callctx.ParseRoomName(room.Name)
		if direction != callctx.Inbound && direction != callctx.Outbound {
			continue
		}
		participants, err := i.rooms.ListParticipants(ctx, room.Name)
		if err != nil {
			log.Printf("telephony: list participants in %s: %v", room.Name, err)
			continue
		}
		for _, p := range participants {
			if p.Kind != livekit.ParticipantInfo_SIP {
				continue
			}
			calls = append(calls, ActiveCall{
				ParticipantID: p.Sid,
				Identity:      p.Identity,
				RoomName:      room.Name,
				State:         p.State.String(),
			})
		}
	}
	return ListResult{Success: true, ActiveCalls: calls, Count: len(calls)}
}

// HangupCall removes the caller's participant from its room, dropping the
// SIP leg.
func (i *Initiator) HangupCall(ctx context.Context, roomName, identity string) HangupResult {
	if err := i.rooms.RemoveParticipant(ctx, roomName, identity); err != nil {
		return HangupResult{Success: false, RoomName: roomName, Identity: identity, Error: err.Error()}
	}
	log.Printf("telephony: hung up %s in room %s", identity, roomName)
	return HangupResult{Success: true, RoomName: roomName, Identity: identity}
}
