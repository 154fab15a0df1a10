package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/vinesh178/customer-service-agent/internal/callctx"
)

// Config tunes the controller's timing. Zero values take the defaults below.
type Config struct {
	// ConnectTimeout bounds a single room connection attempt.
	ConnectTimeout time.Duration
	// MaxRetries is the total number of connection attempts.
	MaxRetries int
	// RetryDelay returns the wait between attempts. Defaults to 1s plus up to
	// 1s of jitter.
	RetryDelay func() time.Duration
	// StepTimeout bounds each teardown step so a hung remote call cannot
	// block shutdown.
	StepTimeout time.Duration
	// VoicemailGrace is the fixed wait after speaking a voicemail before
	// checking playout, so playback buffering has started.
	VoicemailGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == nil {
		c.RetryDelay = func() time.Duration {
			return time.Second + time.Duration(rand.Int63n(int64(time.Second)))
		}
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 5 * time.Second
	}
	if c.VoicemailGrace <= 0 {
		c.VoicemailGrace = time.Second
	}
	return c
}

// Controller owns the one active call session of this worker process: it
// connects the worker to the room, drives the initial utterance, exposes the
// direction-gated tool set to the model, and guarantees teardown of the room
// and session on every exit path.
type Controller struct {
	info     *callctx.CallInfo
	session  Session
	room     RoomConnector
	shutdown func(reason string)
	cfg      Config

	mu           sync.Mutex
	state        State
	shutdownOnce sync.Once
}

// NewController builds a controller for a resolved call. The direction is
// fixed here: it decides the tool set and cannot change for the session's
// lifetime.
func NewController(info *callctx.CallInfo, session Session, room RoomConnector, shutdown func(reason string), cfg Config) (*Controller, error) {
	if info == nil {
		return nil, fmt.Errorf("agent: call info is required")
	}
	if session == nil || room == nil {
		return nil, fmt.Errorf("agent: session and room connector are required")
	}
	if shutdown == nil {
		shutdown = func(string) {}
	}
	return &Controller{
		info:     info,
		session:  session,
		room:     room,
		shutdown: shutdown,
		cfg:      cfg.withDefaults(),
	}, nil
}

// State reports the session's lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tools returns the actions the remote model may invoke. Only outbound calls
// carry the voicemail tool; inbound sessions never expose it.
func (c *Controller) Tools() []Tool {
	if c.info.Direction != callctx.Outbound {
		return nil
	}
	return []Tool{{
		Name: "leave_voicemail",
		Description: "Leave a voicemail message after detecting a voicemail system. " +
			"Use AFTER hearing the greeting/beep. The voicemail_message parameter should " +
			"contain the complete message you want to leave for the customer.",
		Parameters: map[string]string{
			"voicemail_message": "Complete voicemail message to speak to the customer.",
		},
		Handler: c.handleLeaveVoicemail,
	}}
}

// Run starts the session, connects to the room with bounded retries, and
// issues the initial utterance. On connection failure the shutdown hook has
// already fired and Run returns nil.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.session.Start(ctx); err != nil {
		return fmt.Errorf("agent: start session: %w", err)
	}
	if !c.connect(ctx) {
		return nil
	}
	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()

	if err := c.session.GenerateReply(ctx, c.info.InitialPrompt); err != nil {
		log.Printf("agent: initial reply failed: %v", err)
	}
	return nil
}

// connect attempts the room connection up to MaxRetries times. Timeouts are
// retried; any other error is fatal immediately. Both failure paths label the
// shutdown and return false.
func (c *Controller) connect(ctx context.Context) bool {
	log.Printf("agent: connecting to room %q", c.info.RoomName)
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		err := c.room.Connect(attemptCtx, c.info.RoomName)
		cancel()
		if err == nil {
			log.Printf("agent: connected to room %q", c.info.RoomName)
			return true
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("agent: connection failed: %v", err)
			c.invokeShutdown(ReasonConnectionFailed)
			return false
		}
		log.Printf("agent: connection attempt %d/%d timed out", attempt, c.cfg.MaxRetries)
		if attempt == c.cfg.MaxRetries {
			log.Printf("agent: all connection attempts failed for room %q", c.info.RoomName)
			c.invokeShutdown(ReasonConnectionTimeout)
			return false
		}
		select {
		case <-time.After(c.cfg.RetryDelay()):
		case <-ctx.Done():
			c.invokeShutdown(ReasonConnectionTimeout)
			return false
		}
	}
	return false
}

func (c *Controller) handleLeaveVoicemail(ctx context.Context, argsJSON string) error {
	var args struct {
		VoicemailMessage string `json:"voicemail_message"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Errorf("agent: leave_voicemail args: %w", err)
	}
	return c.LeaveVoicemail(ctx, args.VoicemailMessage)
}

// LeaveVoicemail speaks the model-composed message with interruptions
// disabled, waits for playout, then tears the call down. A failed say is
// logged and teardown proceeds anyway; a partially delivered message is an
// accepted limitation.
func (c *Controller) LeaveVoicemail(ctx context.Context, message string) error {
	log.Printf("agent: leaving voicemail on room %q", c.info.RoomName)
	if err := c.session.Say(ctx, message, false); err != nil {
		log.Printf("agent: voicemail say failed: %v", err)
	}
	select {
	case <-time.After(c.cfg.VoicemailGrace):
	case <-ctx.Done():
	}
	c.session.WaitForPlayout(ctx)
	c.Terminate(ReasonVoicemailLeft)
	return nil
}

// Terminate runs the ordered teardown: delete the room so the caller's line
// drops promptly, close the session, then shut the worker down with the given
// reason. Idempotent; each step is bounded by StepTimeout and a step failure
// never blocks the next.
func (c *Controller) Terminate(reason string) {
	c.mu.Lock()
	if c.state == StateTerminating || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminating
	c.mu.Unlock()

	deleteCtx, cancel := context.WithTimeout(context.Background(), c.cfg.StepTimeout)
	if err := c.room.DeleteRoom(deleteCtx, c.info.RoomName); err != nil {
		log.Printf("agent: delete room %q: %v", c.info.RoomName, err)
	}
	cancel()

	closeCtx, cancel := context.WithTimeout(context.Background(), c.cfg.StepTimeout)
	if err := c.session.Close(closeCtx); err != nil {
		log.Printf("agent: close session: %v", err)
	}
	cancel()

	c.invokeShutdown(reason)

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

func (c *Controller) invokeShutdown(reason string) {
	c.shutdownOnce.Do(func() {
		log.Printf("agent: shutting down: %s", reason)
		c.shutdown(reason)
	})
}
