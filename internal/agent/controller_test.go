package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vinesh178/customer-service-agent/internal/callctx"
	"github.com/vinesh178/customer-service-agent/internal/directory"
)

// opLog records operations across fakes so ordering can be asserted.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ops))
	copy(out, l.ops)
	return out
}

type fakeSession struct {
	log      *opLog
	startErr error
	sayErr   error
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.log.add("start")
	return f.startErr
}

func (f *fakeSession) GenerateReply(ctx context.Context, prompt string) error {
	f.log.add("reply")
	return nil
}

func (f *fakeSession) Say(ctx context.Context, text string, allowInterruptions bool) error {
	f.log.add(fmt.Sprintf("say(interruptions=%v)", allowInterruptions))
	return f.sayErr
}

func (f *fakeSession) WaitForPlayout(ctx context.Context) { f.log.add("wait_playout") }

func (f *fakeSession) Close(ctx context.Context) error {
	f.log.add("close_session")
	return nil
}

type fakeRoom struct {
	log       *opLog
	connectFn func(ctx context.Context) error
	attempts  int
	deleteErr error
	mu        sync.Mutex
}

func (f *fakeRoom) Connect(ctx context.Context, roomName string) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	if f.connectFn != nil {
		return f.connectFn(ctx)
	}
	return nil
}

func (f *fakeRoom) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeRoom) DeleteRoom(ctx context.Context, roomName string) error {
	f.log.add("delete_room:" + roomName)
	return f.deleteErr
}

type shutdownRecorder struct {
	log *opLog
	mu  sync.Mutex
	got []string
}

func (s *shutdownRecorder) fn(reason string) {
	s.log.add("shutdown:" + reason)
	s.mu.Lock()
	s.got = append(s.got, reason)
	s.mu.Unlock()
}

func (s *shutdownRecorder) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	copy(out, s.got)
	return out
}

func outboundInfo(t *testing.T) *callctx.CallInfo {
	t.Helper()
	r, err := callctx.NewResolver(directory.NewDemo())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	info, err := r.Resolve(context.Background(), "outbound_+15551234567_ab12cd34")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return info
}

func inboundInfo(t *testing.T) *callctx.CallInfo {
	t.Helper()
	r, err := callctx.NewResolver(directory.NewDemo())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	info, err := r.Resolve(context.Background(), "inbound_+15559876543")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return info
}

func fastConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Millisecond,
		MaxRetries:     3,
		RetryDelay:     func() time.Duration { return time.Millisecond },
		StepTimeout:    50 * time.Millisecond,
		VoicemailGrace: time.Millisecond,
	}
}

func TestConnect_TimeoutsExhaustRetriesThenShutdown(t *testing.T) {
	for _, maxRetries := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("retries_%d", maxRetries), func(t *testing.T) {
			log := &opLog{}
			sess := &fakeSession{log: log}
			room := &fakeRoom{log: log, connectFn: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}}
			sd := &shutdownRecorder{log: log}
			cfg := fastConfig()
			cfg.MaxRetries = maxRetries

			c, err := NewController(outboundInfo(t), sess, room, sd.fn, cfg)
			if err != nil {
				t.Fatalf("new controller: %v", err)
			}
			if err := c.Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := room.Attempts(); got != maxRetries {
				t.Fatalf("expected %d attempts, got %d", maxRetries, got)
			}
			if got := sd.reasons(); len(got) != 1 || got[0] != ReasonConnectionTimeout {
				t.Fatalf("expected single %q shutdown, got %v", ReasonConnectionTimeout, got)
			}
			for _, op := range log.snapshot() {
				if op == "reply" {
					t.Fatalf("initial reply must not run after failed connect")
				}
			}
		})
	}
}

func TestConnect_FatalErrorShutsDownWithoutRetry(t *testing.T) {
	log := &opLog{}
	sess := &fakeSession{log: log}
	room := &fakeRoom{log: log, connectFn: func(ctx context.Context) error {
		return errors.New("permission denied")
	}}
	sd := &shutdownRecorder{log: log}

	c, err := NewController(outboundInfo(t), sess, room, sd.fn, fastConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := room.Attempts(); got != 1 {
		t.Fatalf("expected exactly 1 attempt for non-timeout error, got %d", got)
	}
	if got := sd.reasons(); len(got) != 1 || got[0] != ReasonConnectionFailed {
		t.Fatalf("expected single %q shutdown, got %v", ReasonConnectionFailed, got)
	}
}

func TestRun_ConnectedSessionIssuesInitialReply(t *testing.T) {
	log := &opLog{}
	sess := &fakeSession{log: log}
	room := &fakeRoom{log: log}
	sd := &shutdownRecorder{log: log}

	c, err := NewController(outboundInfo(t), sess, room, sd.fn, fastConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.State() != StateActive {
		t.Fatalf("expected active state, got %v", c.State())
	}
	ops := log.snapshot()
	if len(ops) < 2 || ops[0] != "start" || ops[len(ops)-1] != "reply" {
		t.Fatalf("expected start then reply, got %v", ops)
	}
	if got := sd.reasons(); len(got) != 0 {
		t.Fatalf("no shutdown expected on the happy path, got %v", got)
	}
}

func TestTerminate_Idempotent(t *testing.T) {
	log := &opLog{}
	sess := &fakeSession{log: log}
	room := &fakeRoom{log: log, deleteErr: errors.New("already deleted")}
	sd := &shutdownRecorder{log: log}

	c, err := NewController(outboundInfo(t), sess, room, sd.fn, fastConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	c.Terminate(ReasonVoicemailLeft)
	c.Terminate(ReasonVoicemailLeft)

	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", c.State())
	}
	var deletes, closes int
	for _, op := range log.snapshot() {
		if strings.HasPrefix(op, "delete_room") {
			deletes++
		}
		if op == "close_session" {
			closes++
		}
	}
	if deletes != 1 || closes != 1 {
		t.Fatalf("expected one delete and one close, got %d/%d", deletes, closes)
	}
	if got := sd.reasons(); len(got) != 1 {
		t.Fatalf("expected single shutdown, got %v", got)
	}
}

func TestTools_DirectionGating(t *testing.T) {
	log := &opLog{}
	mk := func(info *callctx.CallInfo) *Controller {
		c, err := NewController(info, &fakeSession{log: log}, &fakeRoom{log: log}, nil, fastConfig())
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}
		return c
	}

	if tools := mk(inboundInfo(t)).Tools(); len(tools) != 0 {
		t.Fatalf("inbound must expose no tools, got %d", len(tools))
	}
	tools := mk(outboundInfo(t)).Tools()
	if len(tools) != 1 || tools[0].Name != "leave_voicemail" {
		t.Fatalf("outbound must expose exactly leave_voicemail, got %+v", tools)
	}
	if tools[0].Handler == nil {
		t.Fatalf("voicemail tool must be callable")
	}
}

func TestVoicemail_EndToEndOrder(t *testing.T) {
	info := outboundInfo(t)
	if !strings.Contains(info.InitialPrompt, "Sarah") || !strings.Contains(info.InitialPrompt, "furnace") {
		t.Fatalf("initial utterance should reference Sarah and furnace: %q", info.InitialPrompt)
	}

	log := &opLog{}
	sess := &fakeSession{log: log}
	room := &fakeRoom{log: log}
	sd := &shutdownRecorder{log: log}

	c, err := NewController(info, sess, room, sd.fn, fastConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	tool := c.Tools()[0]
	args := `{"voicemail_message": "Hi, this is Sarah from Express Service Company..."}`
	if err := tool.Handler(context.Background(), args); err != nil {
		t.Fatalf("voicemail handler: %v", err)
	}

	want := []string{
		"say(interruptions=false)",
		"wait_playout",
		"delete_room:outbound_+15551234567_ab12cd34",
		"close_session",
		"shutdown:voicemail_left",
	}
	ops := log.snapshot()
	idx := 0
	for _, op := range ops {
		if idx < len(want) && op == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Fatalf("teardown order mismatch: want subsequence %v in %v", want, ops)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state after voicemail, got %v", c.State())
	}
}

func TestVoicemail_SayFailureStillTearsDown(t *testing.T) {
	log := &opLog{}
	sess := &fakeSession{log: log, sayErr: errors.New("audio channel closed")}
	room := &fakeRoom{log: log}
	sd := &shutdownRecorder{log: log}

	c, err := NewController(outboundInfo(t), sess, room, sd.fn, fastConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.LeaveVoicemail(context.Background(), "message"); err != nil {
		t.Fatalf("leave voicemail: %v", err)
	}
	if got := sd.reasons(); len(got) != 1 || got[0] != ReasonVoicemailLeft {
		t.Fatalf("expected %q shutdown despite say failure, got %v", ReasonVoicemailLeft, got)
	}
	var deleted bool
	for _, op := range log.snapshot() {
		if strings.HasPrefix(op, "delete_room") {
			deleted = true
		}
	}
	if !deleted {
		t.Fatalf("room must be deleted even when say fails")
	}
}

func TestVoicemail_BadArgsRejected(t *testing.T) {
	log := &opLog{}
	c, err := NewController(outboundInfo(t), &fakeSession{log: log}, &fakeRoom{log: log}, nil, fastConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Tools()[0].Handler(context.Background(), "not-json"); err == nil {
		t.Fatalf("expected error for malformed tool args")
	}
	if c.State() == StateClosed {
		t.Fatalf("malformed args must not tear the call down")
	}
}
