package barge

import (
	"sync"
	"time"
)

// circularPCM is a ring of 16-bit PCM samples backing the pre-roll.
type circularPCM struct {
	mu       sync.Mutex
	buf      []int16
	cap      int
	writePos int
	sr       int
}

func newCircularPCM(capacityMs int, sampleRate int) *circularPCM {
	samples := capacityMs * sampleRate / 1000
	if samples < sampleRate/10 {
		samples = sampleRate / 10
	}
	return &circularPCM{buf: make([]int16, samples), cap: samples, sr: sampleRate}
}

func (c *circularPCM) Write(frame []int16) {
	c.mu.Lock()
	for _, s := range frame {
		c.buf[c.writePos] = s
		c.writePos = (c.writePos + 1) % c.cap
	}
	c.mu.Unlock()
}

func (c *circularPCM) ReadLastMs(ms int) []int16 {
	c.mu.Lock()
	n := ms * c.sr / 1000
	if n > c.cap {
		n = c.cap
	}
	out := make([]int16, n)
	start := (c.writePos - n + c.cap) % c.cap
	for i := 0; i < n; i++ {
		out[i] = c.buf[(start+i)%c.cap]
	}
	c.mu.Unlock()
	return out
}

// voteWindow tracks boolean votes over a rolling time window of 10ms frames.
type voteWindow struct {
	winDur time.Duration
	hist   []bool
	mu     sync.Mutex
}

func newVoteWindow(ms int) *voteWindow {
	return &voteWindow{winDur: time.Duration(ms) * time.Millisecond}
}

func (v *voteWindow) Push(b bool) {
	v.mu.Lock()
	v.hist = append(v.hist, b)
	max := int(v.winDur/(10*time.Millisecond)) + 1
	if len(v.hist) > max {
		v.hist = v.hist[len(v.hist)-max:]
	}
	v.mu.Unlock()
}

func (v *voteWindow) Ratio() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.hist) == 0 {
		return 0
	}
	var t int
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(len(v.hist))
}

func (v *voteWindow) Reset() {
	v.mu.Lock()
	v.hist = v.hist[:0]
	v.mu.Unlock()
}

// bloom is a tiny set used to discount echoed agent speech.
type bloom struct{ bits []byte }

func newBloom(n int) *bloom { return &bloom{bits: make([]byte, n)} }

func (b *bloom) hash(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h) % len(b.bits)
}

func (b *bloom) Add(s string) {
	if len(b.bits) > 0 && s != "" {
		b.bits[b.hash(s)] = 1
	}
}

func (b *bloom) Contains(s string) bool { return len(b.bits) > 0 && b.bits[b.hash(s)] == 1 }
