package callctx

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/vinesh178/customer-service-agent/internal/directory"
)

// Direction is the first segment of the room name. Inbound and Outbound are
// the two recognized values; an unrecognized token parses without error but
// will fail template selection at construction time.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// ParseRoomName splits a room name of the form
// "<direction>_<caller_key>[_<random>]" into its direction token and caller
// key. A name with no delimiter yields the whole name as the direction and an
// empty caller key; parsing never fails.
func ParseRoomName(roomName string) (Direction, string) {
	parts := strings.Split(roomName, "_")
	direction := Direction(parts[0])
	callerKey := ""
	if len(parts) >= 2 {
		callerKey = parts[1]
	}
	return direction, callerKey
}

// CallInfo is the fully resolved context for one call: identity, direction,
// the caller's directory snapshot, and the rendered prompt texts.
type CallInfo struct {
	RoomName      string
	Direction     Direction
	CallerKey     string
	Caller        directory.CallerContext
	Instructions  string
	InitialPrompt string
}

type directionTemplates struct {
	instructions  *template.Template
	initialPrompt *template.Template
}

// Resolver turns a room name into a CallInfo using a caller directory and a
// pair of prompt templates per direction.
type Resolver struct {
	dir       directory.Directory
	templates map[Direction]directionTemplates
}

// NewResolver parses the built-in prompt templates. A missing or malformed
// template for either direction is a configuration error and fails here, not
// mid-call.
func NewResolver(dir directory.Directory) (*Resolver, error) {
	r := &Resolver{dir: dir, templates: make(map[Direction]directionTemplates)}
	for direction, src := range promptSources {
		if src.instructions == "" || src.initialPrompt == "" {
			return nil, fmt.Errorf("callctx: missing prompt template for direction %q", direction)
		}
		inst, err := template.New(string(direction) + "_instructions").Parse(src.instructions)
		if err != nil {
			return nil, fmt.Errorf("callctx: parse instructions template for %q: %w", direction, err)
		}
		init, err := template.New(string(direction) + "_initial").Parse(src.initialPrompt)
		if err != nil {
			return nil, fmt.Errorf("callctx: parse initial prompt template for %q: %w", direction, err)
		}
		r.templates[direction] = directionTemplates{instructions: inst, initialPrompt: init}
	}
	return r, nil
}

// Resolve parses the room name, fetches the caller context and renders the
// direction's templates. Deterministic for a given room name and directory
// state.
func (r *Resolver) Resolve(ctx context.Context, roomName string) (*CallInfo, error) {
	direction, callerKey := ParseRoomName(roomName)
	tmpl, ok := r.templates[direction]
	if !ok {
		return nil, fmt.Errorf("callctx: no templates for direction %q", direction)
	}

	caller, err := r.dir.GetContext(ctx, callerKey)
	if err != nil {
		return nil, fmt.Errorf("callctx: resolve caller %q: %w", callerKey, err)
	}

	var instructions, initialPrompt strings.Builder
	if err := tmpl.instructions.Execute(&instructions, caller); err != nil {
		return nil, fmt.Errorf("callctx: render instructions: %w", err)
	}
	if err := tmpl.initialPrompt.Execute(&initialPrompt, caller); err != nil {
		return nil, fmt.Errorf("callctx: render initial prompt: %w", err)
	}

	return &CallInfo{
		RoomName:      roomName,
		Direction:     direction,
		CallerKey:     callerKey,
		Caller:        caller,
		Instructions:  instructions.String(),
		InitialPrompt: initialPrompt.String(),
	}, nil
}
