package barge

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
)

// Config holds the thresholds for interruption detection.
type Config struct {
	SampleRate      int // engine expects 10ms frames at this rate; 16000 typical
	ASRTokens       int // new non-echo tokens required to count as caller speech
	FuseWinMs       int // voting window before triggering
	HysteresisOffMs int // sustained-silence window that clears accumulated votes
	PreRollMs       int // caller audio retained and handed to OnInterrupt
	ASRFreshMs      int // how long a transcript-growth signal stays live
}

// DefaultTelephone is tuned for 16kHz SIP call audio.
func DefaultTelephone() Config {
	return Config{
		SampleRate:      16000,
		ASRTokens:       2,
		FuseWinMs:       160,
		HysteresisOffMs: 200,
		PreRollMs:       220,
		ASRFreshMs:      600,
	}
}

// Events lets the host react to a detected interruption.
type Events struct {
	// OnInterrupt fires once per barge-in; preRoll is the last PreRollMs of
	// caller audio as PCM16LE at SampleRate so the opening words are not lost.
	OnInterrupt func(ts time.Time, preRoll []byte)
}

// Detector decides when the caller is talking over agent playback. It fuses
// frame-energy voice detection with transcript growth: energy alone is too
// easily fooled by line echo of the agent's own voice.
type Detector struct {
	cfg Config
	ev  Events

	mu         sync.Mutex
	speaking   bool
	lastTokens int
	asrFreshAt time.Time
	votesOn    *voteWindow
	votesOff   *voteWindow
	preRoll    *circularPCM
	spokenEcho *bloom
	vadWin     []bool
}

func NewDetector(cfg Config, ev Events) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Detector{
		cfg:        cfg,
		ev:         ev,
		votesOn:    newVoteWindow(cfg.FuseWinMs),
		votesOff:   newVoteWindow(cfg.HysteresisOffMs),
		preRoll:    newCircularPCM(300, cfg.SampleRate),
		spokenEcho: newBloom(4096),
	}
}

// SetSpeaking toggles detection. The host enables it only while playing back
// interruptible speech; uninterruptible playout simply never arms the detector.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	d.speaking = on
	if !on {
		d.votesOn.Reset()
		d.votesOff.Reset()
	}
	d.mu.Unlock()
}

// Reset clears vote and transcript state between turns.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.votesOn.Reset()
	d.votesOff.Reset()
	d.lastTokens = 0
	d.asrFreshAt = time.Time{}
	d.mu.Unlock()
}

// NotifyTTSText records words the agent is about to speak so echoed content
// in the transcript is discounted.
func (d *Detector) NotifyTTSText(text string) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		d.spokenEcho.Add(strings.Trim(w, ".,!?;:"))
	}
}

// NotifyPartial supplies the latest running transcript. Growth by ASRTokens
// non-echo tokens marks the transcript signal fresh.
func (d *Detector) NotifyPartial(text string) {
	tokens := strings.Fields(strings.ToLower(text))
	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := 0
	for i := d.lastTokens; i < len(tokens); i++ {
		w := strings.Trim(tokens[i], ".,!?;:")
		if isStopword(w) || d.spokenEcho.Contains(w) {
			continue
		}
		fresh++
	}
	if len(tokens) < d.lastTokens {
		d.lastTokens = 0
	} else {
		d.lastTokens = len(tokens)
	}
	if fresh >= d.cfg.ASRTokens {
		d.asrFreshAt = time.Now()
	}
}

// FeedMic16k consumes arbitrary-length caller PCM16LE at SampleRate, split
// internally into 10ms frames.
func (d *Detector) FeedMic16k(pcm []byte) {
	samplesPer10ms := d.cfg.SampleRate / 100
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		frame := make([]int16, samplesPer10ms)
		for i := 0; i < samplesPer10ms; i++ {
			frame[i] = int16(binary.LittleEndian.Uint16(pcm[off+i*2 : off+i*2+2]))
		}
		d.onFrame(frame)
	}
}

func (d *Detector) onFrame(frame []int16) {
	d.preRoll.Write(frame)

	vadYes := d.isSpeech(frame)

	d.mu.Lock()
	speaking := d.speaking
	asrYes := !d.asrFreshAt.IsZero() && time.Since(d.asrFreshAt) <= time.Duration(d.cfg.ASRFreshMs)*time.Millisecond
	d.mu.Unlock()

	if !speaking {
		return
	}

	d.votesOn.Push(vadYes && asrYes)
	d.votesOff.Push(!vadYes)

	if d.votesOn.Ratio() >= 2.0/3.0 {
		d.trigger()
		return
	}
	if d.votesOff.Ratio() >= 2.0/3.0 {
		d.votesOn.Reset()
	}
}

// isSpeech is a smoothed RMS gate over the last few frames.
func (d *Detector) isSpeech(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	d.mu.Lock()
	d.vadWin = append(d.vadWin, rms >= 300.0)
	if len(d.vadWin) > 4 {
		d.vadWin = d.vadWin[len(d.vadWin)-4:]
	}
	trueCount := 0
	for _, b := range d.vadWin {
		if b {
			trueCount++
		}
	}
	win := len(d.vadWin)
	d.mu.Unlock()
	return trueCount*2 >= win
}

func (d *Detector) trigger() {
	pre := d.preRoll.ReadLastMs(d.cfg.PreRollMs)
	preBytes := make([]byte, len(pre)*2)
	for i, s := range pre {
		binary.LittleEndian.PutUint16(preBytes[i*2:], uint16(s))
	}
	d.mu.Lock()
	d.speaking = false
	d.mu.Unlock()
	d.votesOn.Reset()
	d.votesOff.Reset()
	if d.ev.OnInterrupt != nil {
		d.ev.OnInterrupt(time.Now(), preBytes)
	}
}

func isStopword(s string) bool {
	switch s {
	case "the", "a", "an", "and", "or", "to", "of", "in", "on", "for", "is", "it", "uh", "um":
		return true
	}
	return false
}
