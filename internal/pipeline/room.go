package pipeline

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/hraban/opus"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// RoomAudio binds a session to a room: subscribed caller audio is decoded
// into the transcriber and the agent's synthesized voice is published as a
// local track.
type RoomAudio struct {
	session *Session
	writer  *OpusPacedWriter
}

func NewRoomAudio(session *Session) *RoomAudio { return &RoomAudio{session: session} }

// Callback returns the room callback that routes subscribed audio tracks
// into the session.
func (ra *RoomAudio) Callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: ra.onTrackSubscribed,
		},
	}
}

func (ra *RoomAudio) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	log.Printf("pipeline: subscribed to audio track from %s", rp.Identity())
	go ra.readLoop(track)
}

// readLoop decodes incoming Opus to 16kHz mono PCM and feeds the session.
func (ra *RoomAudio) readLoop(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		log.Printf("pipeline: create opus decoder: %v", err)
		return
	}
	pcm := make([]int16, 1920) // up to 120ms at 16kHz
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("pipeline: track read ended: %v", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		out := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm[i]))
		}
		ra.session.FeedPCM16KLE(out)
	}
}

// PublishMicrophone publishes the agent's voice track and installs the paced
// writer as the session's playout sink.
func (ra *RoomAudio) PublishMicrophone(room *lksdk.Room, name string) error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		return fmt.Errorf("pipeline: create local track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return fmt.Errorf("pipeline: publish track: %w", err)
	}
	writer, err := NewOpusPacedWriter(localTrack{track})
	if err != nil {
		return fmt.Errorf("pipeline: create paced writer: %w", err)
	}
	ra.writer = writer
	ra.session.SetSink(writer)
	return nil
}

// Close stops the playout writer.
func (ra *RoomAudio) Close() {
	if ra.writer != nil {
		ra.writer.Close()
	}
}

type localTrack struct{ t *lksdk.LocalSampleTrack }

func (l localTrack) WriteSample(s media.Sample) error { return l.t.WriteSample(s, nil) }
