package barge

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmSine(sr int, hz float64, durMs int) []byte {
	n := sr * durMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

func TestDetector_TriggersOnSpeechWithTranscriptGrowth(t *testing.T) {
	var triggered bool
	var preRoll []byte
	d := NewDetector(DefaultTelephone(), Events{
		OnInterrupt: func(ts time.Time, pre []byte) {
			triggered = true
			preRoll = pre
		},
	})
	d.SetSpeaking(true)
	d.NotifyPartial("wait stop please")

	d.FeedMic16k(pcmSine(16000, 220, 400))

	if !triggered {
		t.Fatalf("expected interruption trigger")
	}
	if len(preRoll) == 0 {
		t.Fatalf("expected pre-roll audio with trigger")
	}
}

func TestDetector_SilentWhenNotSpeaking(t *testing.T) {
	triggered := false
	d := NewDetector(DefaultTelephone(), Events{
		OnInterrupt: func(time.Time, []byte) { triggered = true },
	})
	d.NotifyPartial("wait stop please")
	d.FeedMic16k(pcmSine(16000, 220, 400))
	if triggered {
		t.Fatalf("must not trigger while agent is not speaking")
	}
}

func TestDetector_EnergyAloneDoesNotTrigger(t *testing.T) {
	triggered := false
	d := NewDetector(DefaultTelephone(), Events{
		OnInterrupt: func(time.Time, []byte) { triggered = true },
	})
	d.SetSpeaking(true)
	// loud line noise but no transcript growth
	d.FeedMic16k(pcmSine(16000, 220, 400))
	if triggered {
		t.Fatalf("energy without transcript growth must not trigger")
	}
}

func TestDetector_EchoedWordsAreDiscounted(t *testing.T) {
	triggered := false
	d := NewDetector(DefaultTelephone(), Events{
		OnInterrupt: func(time.Time, []byte) { triggered = true },
	})
	d.SetSpeaking(true)
	d.NotifyTTSText("your furnace maintenance appointment")
	// transcript only echoes the agent's own words
	d.NotifyPartial("furnace maintenance appointment")
	d.FeedMic16k(pcmSine(16000, 220, 400))
	if triggered {
		t.Fatalf("echoed agent speech must not trigger")
	}
}

func TestDetector_TriggerDisarmsUntilRearmed(t *testing.T) {
	count := 0
	d := NewDetector(DefaultTelephone(), Events{
		OnInterrupt: func(time.Time, []byte) { count++ },
	})
	d.SetSpeaking(true)
	d.NotifyPartial("hold on a second")
	d.FeedMic16k(pcmSine(16000, 220, 400))
	d.FeedMic16k(pcmSine(16000, 220, 400))
	if count != 1 {
		t.Fatalf("expected exactly one trigger, got %d", count)
	}
}
