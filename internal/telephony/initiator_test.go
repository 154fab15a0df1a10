package telephony

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/livekit/protocol/livekit"

	"github.com/vinesh178/customer-service-agent/internal/callctx"
)

type fakeSIP struct {
	err      error
	requests []*livekit.CreateSIPParticipantRequest
}

func (f *fakeSIP) CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &livekit.SIPParticipantInfo{ParticipantId: "PA_test", ParticipantIdentity: req.ParticipantIdentity}, nil
}

type fakeRooms struct {
	rooms        []*livekit.Room
	participants map[string][]*livekit.ParticipantInfo
	removed      []string
	listErr      error
	removeErr    error
}

func (f *fakeRooms) ListRooms(ctx context.Context) ([]*livekit.Room, error) {
	return f.rooms, f.listErr
}

func (f *fakeRooms) ListParticipants(ctx context.Context, roomName string) ([]*livekit.ParticipantInfo, error) {
	return f.participants[roomName], nil
}

func (f *fakeRooms) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	f.removed = append(f.removed, roomName+"/"+identity)
	return f.removeErr
}

func TestMakeCall_Success(t *testing.T) {
	sip := &fakeSIP{}
	init := NewInitiator(sip, &fakeRooms{}, "ST_trunk")

	res := init.MakeCall(context.Background(), "+15551234567", map[string]string{"name": "John"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ParticipantID != "PA_test" || res.PhoneNumber != "+15551234567" {
		t.Fatalf("unexpected result: %+v", res)
	}

	direction, callerKey := callctx.ParseRoomName(res.RoomName)
	if direction != callctx.Outbound {
		t.Fatalf("room name must carry outbound direction: %q", res.RoomName)
	}
	if callerKey != "+15551234567" {
		t.Fatalf("room name must carry the caller key with plus sign: %q", res.RoomName)
	}

	req := sip.requests[0]
	if req.SipTrunkId != "ST_trunk" || req.SipCallTo != "+15551234567" || !req.WaitUntilAnswered {
		t.Fatalf("unexpected sip request: %+v", req)
	}
	if !strings.Contains(req.ParticipantMetadata, "outbound_service") {
		t.Fatalf("metadata missing call type: %q", req.ParticipantMetadata)
	}
}

func TestMakeCall_DistinctRoomNamesForSameNumber(t *testing.T) {
	init := NewInitiator(&fakeSIP{}, &fakeRooms{}, "ST_trunk")
	a := init.MakeCall(context.Background(), "+15551234567", nil)
	b := init.MakeCall(context.Background(), "+15551234567", nil)
	if a.RoomName == b.RoomName {
		t.Fatalf("expected distinct room names, both %q", a.RoomName)
	}
}

func TestMakeCall_ProviderFailureIsAValue(t *testing.T) {
	init := NewInitiator(&fakeSIP{err: errors.New("trunk not found")}, &fakeRooms{}, "ST_trunk")
	res := init.MakeCall(context.Background(), "+15550001111", nil)
	if res.Success {
		t.Fatalf("expected failure result")
	}
	if res.Error == "" {
		t.Fatalf("expected non-empty error message")
	}
	if res.PhoneNumber != "+15550001111" {
		t.Fatalf("phone number must be echoed back, got %q", res.PhoneNumber)
	}
}

func TestSanitizePhone_KeepsPlusDropsSeparators(t *testing.T) {
	if got := sanitizePhone("+1 (555) 123-4567"); got != "+15551234567" {
		t.Fatalf("got %q", got)
	}
}

func TestListActiveCalls_FiltersCallRoomsAndSIPKind(t *testing.T) {
	rooms := &fakeRooms{
		rooms: []*livekit.Room{
			{Name: "outbound_+15551234567_ab12cd34"},
			{Name: "inbound_+15559876543"},
			{Name: "lobby"},
		},
		participants: map[string][]*livekit.ParticipantInfo{
			"outbound_+15551234567_ab12cd34": {
				{Sid: "PA_1", Identity: "caller-+15551234567", Kind: livekit.ParticipantInfo_SIP, State: livekit.ParticipantInfo_ACTIVE},
				{Sid: "PA_2", Identity: "service-agent", Kind: livekit.ParticipantInfo_AGENT},
			},
			"inbound_+15559876543": {
				{Sid: "PA_3", Identity: "sip_+15559876543", Kind: livekit.ParticipantInfo_SIP, State: livekit.ParticipantInfo_ACTIVE},
			},
			"lobby": {
				{Sid: "PA_4", Identity: "visitor", Kind: livekit.ParticipantInfo_STANDARD},
			},
		},
	}
	init := NewInitiator(&fakeSIP{}, rooms, "ST_trunk")

	res := init.ListActiveCalls(context.Background())
	if !res.Success || res.Count != 2 {
		t.Fatalf("expected 2 active calls, got %+v", res)
	}
	for _, c := range res.ActiveCalls {
		if c.RoomName == "lobby" {
			t.Fatalf("non-call room must be excluded")
		}
	}
}

func TestListActiveCalls_ProviderFailureIsAValue(t *testing.T) {
	init := NewInitiator(&fakeSIP{}, &fakeRooms{listErr: errors.New("unavailable")}, "ST_trunk")
	res := init.ListActiveCalls(context.Background())
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
}

func TestHangupCall(t *testing.T) {
	rooms := &fakeRooms{}
	init := NewInitiator(&fakeSIP{}, rooms, "ST_trunk")

	res := init.HangupCall(context.Background(), "outbound_+15551234567_ab12cd34", "caller-+15551234567")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(rooms.removed) != 1 {
		t.Fatalf("expected one removal, got %v", rooms.removed)
	}

	rooms.removeErr = errors.New("no such participant")
	res = init.HangupCall(context.Background(), "outbound_x", "nobody")
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
}
