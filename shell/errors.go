package shell

import "fmt"

// Kind classifies a shell session failure.
type Kind string

const (
	KindBusy           Kind = "busy"
	KindTimeout        Kind = "timeout"
	KindDead           Kind = "dead"
	KindInvalidCommand Kind = "invalid_command"
	KindCanceled       Kind = "canceled"
)

var kindText = map[Kind]string{
	KindBusy:           "shell session is busy",
	KindTimeout:        "command timed out",
	KindDead:           "shell session is not running",
	KindInvalidCommand: "invalid command",
	KindCanceled:       "command canceled",
}

// Error is returned by Send. Compare with errors.Is against the sentinel
// values below; the command and cause are carried for messages and logs.
type Error struct {
	Kind    Kind
	Command string
	Cause   error
}

// Sentinel errors for errors.Is.
var (
	ErrSessionBusy     = &Error{Kind: KindBusy}
	ErrSessionTimeout  = &Error{Kind: KindTimeout}
	ErrSessionDead     = &Error{Kind: KindDead}
	ErrInvalidCommand  = &Error{Kind: KindInvalidCommand}
	ErrSessionCanceled = &Error{Kind: KindCanceled}
)

func (e *Error) Error() string {
	msg := kindText[e.Kind]
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, command string, cause error) *Error {
	return &Error{Kind: kind, Command: command, Cause: cause}
}
