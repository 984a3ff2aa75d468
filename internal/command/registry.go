package command

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Request is one engine command. Target addresses an instance by GUID or
// registered name; Args carry command-specific parameters.
type Request struct {
	Command string         `json:"command"`
	Target  string         `json:"target,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// Response is the outcome of one command. Error is a stable code string
// ("not_found", "bad_request", ...) rather than prose, so callers can match
// on it.
type Response struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Stable error codes.
const (
	ErrUnknownCommand = "unknown_command"
	ErrNotFound       = "not_found"
	ErrBadRequest     = "bad_request"
	ErrInternal       = "internal_error"
)

// HandlerFunc is the callback signature for command handlers.
type HandlerFunc func(req Request) Response

// Registry maps command names to handlers. Commands are addressed by name,
// never by reflection over method sets, so the dispatch surface is exactly
// what was registered.
type Registry struct {
	handlers map[string]HandlerFunc
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		log:      log,
	}
}

// Register maps a command name to a handler. Later registrations replace
// earlier ones.
func (reg *Registry) Register(name string, fn HandlerFunc) {
	reg.handlers[name] = fn
}

// Commands lists the registered command names.
func (reg *Registry) Commands() []string {
	out := make([]string, 0, len(reg.handlers))
	for name := range reg.handlers {
		out = append(out, name)
	}
	return out
}

// Dispatch finds the handler for the request's command and calls it.
func (reg *Registry) Dispatch(req Request) Response {
	entry, ok := reg.handlers[req.Command]
	if !ok {
		if reg.log != nil {
			reg.log.Debug("unknown command", zap.String("command", req.Command))
		}
		return Fail(ErrUnknownCommand)
	}
	return reg.safeCall(entry, req)
}

// DispatchJSON decodes a JSON request envelope, dispatches it, and encodes
// the response. Malformed input yields a bad_request response, never an
// error return, so transports can forward the bytes unconditionally.
func (reg *Registry) DispatchJSON(raw []byte) []byte {
	var req Request
	resp := Response{}
	if err := json.Unmarshal(raw, &req); err != nil {
		resp = Fail(ErrBadRequest)
	} else {
		resp = reg.Dispatch(req)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out = []byte(`{"ok":false,"error":"internal_error"}`)
	}
	return out
}

// safeCall executes a handler with panic recovery so a single bad command
// cannot crash the update loop.
func (reg *Registry) safeCall(fn HandlerFunc, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			if reg.log != nil {
				reg.log.Error("command handler panic recovered",
					zap.String("command", req.Command),
					zap.Any("panic", rec),
				)
			}
			resp = Fail(fmt.Sprintf("%s: %v", ErrInternal, rec))
		}
	}()
	return fn(req)
}

// OK builds a success response.
func OK(result map[string]any) Response {
	return Response{OK: true, Result: result}
}

// Fail builds an error response carrying a code.
func Fail(code string) Response {
	return Response{OK: false, Error: code}
}
