package livekit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// Manager wraps the LiveKit server SDK for the operations this service
// needs: joining a room as the agent participant, room administration, and
// supervisor join tokens.
type Manager struct {
	url       string
	apiKey    string
	apiSecret string
	identity  string

	roomSvc *lksdk.RoomServiceClient

	mu       sync.Mutex
	room     *lksdk.Room
	callback *lksdk.RoomCallback
}

func NewManager(url, apiKey, apiSecret, identity string) *Manager {
	return &Manager{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		identity:  identity,
		roomSvc:   lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
	}
}

// SetCallback installs the room callback used for the next Connect. Must be
// called before Connect.
func (m *Manager) SetCallback(cb *lksdk.RoomCallback) {
	m.mu.Lock()
	m.callback = cb
	m.mu.Unlock()
}

// Connect joins the named room, honoring the context deadline. The SDK's
// connect has no context parameter, so a late success after the deadline is
// reaped by disconnecting it.
func (m *Manager) Connect(ctx context.Context, roomName string) error {
	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()
	if cb == nil {
		cb = &lksdk.RoomCallback{}
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoom(m.url, lksdk.ConnectInfo{
			APIKey:              m.apiKey,
			APISecret:           m.apiSecret,
			RoomName:            roomName,
			ParticipantIdentity: m.identity,
			ParticipantName:     m.identity,
		}, cb)
		done <- result{room, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.room != nil {
				r.room.Disconnect()
			}
		}()
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("livekit: connect to room %q: %w", roomName, r.err)
		}
		m.mu.Lock()
		m.room = r.room
		m.mu.Unlock()
		return nil
	}
}

// Room returns the connected room, or nil before Connect succeeds.
func (m *Manager) Room() *lksdk.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// Disconnect leaves the room if connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	room := m.room
	m.room = nil
	m.mu.Unlock()
	if room != nil {
		room.Disconnect()
	}
}

// DeleteRoom removes the named room server-side, dropping every participant.
func (m *Manager) DeleteRoom(ctx context.Context, roomName string) error {
	_, err := m.roomSvc.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	if err != nil {
		return fmt.Errorf("livekit: delete room %q: %w", roomName, err)
	}
	log.Printf("livekit: deleted room %q", roomName)
	return nil
}

// ListRooms returns all active rooms.
func (m *Manager) ListRooms(ctx context.Context) ([]*livekit.Room, error) {
	resp, err := m.roomSvc.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("livekit: list rooms: %w", err)
	}
	return resp.Rooms, nil
}

// ListParticipants returns the participants of one room.
func (m *Manager) ListParticipants(ctx context.Context, roomName string) ([]*livekit.ParticipantInfo, error) {
	resp, err := m.roomSvc.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomName})
	if err != nil {
		return nil, fmt.Errorf("livekit: list participants in %q: %w", roomName, err)
	}
	return resp.Participants, nil
}

// RemoveParticipant kicks a participant out of a room. For SIP participants
// this hangs up the call leg.
func (m *Manager) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	_, err := m.roomSvc.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     roomName,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("livekit: remove participant %q from %q: %w", identity, roomName, err)
	}
	return nil
}

// JoinToken issues a supervisor access token for an existing room.
func (m *Manager) JoinToken(roomName, participantName string) (string, error) {
	canPublish := true
	canSubscribe := true
	at := auth.NewAccessToken(m.apiKey, m.apiSecret).
		SetIdentity("supervisor_"+participantName).
		SetName(participantName).
		SetValidFor(6 * time.Hour).
		SetVideoGrant(&auth.VideoGrant{
			Room:           roomName,
			RoomJoin:       true,
			CanSubscribe:   &canSubscribe,
			CanPublish:     &canPublish,
			CanPublishData: &canPublish,
		})
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("livekit: sign join token: %w", err)
	}
	return token, nil
}

// ServerURL is the provider websocket URL clients connect to.
func (m *Manager) ServerURL() string { return m.url }
