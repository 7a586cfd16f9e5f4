// Package command turns free-text chat lines into typed, authorized command
// invocations.
//
// A [Table] maps names such as "ping" or "music volume" to a [Descriptor]
// that declares the parameter kinds, the access level, and the handler. The
// [Dispatcher] runs each line through four stages: the longest registered
// name is matched, the caller is authorized against the command's required
// group, the remainder is parsed into typed [Value]s, and the handler is
// executed. A failure at any stage stops the invocation and yields a reply
// that names the stage that failed.
//
// Handlers are plain functions receiving pre-parsed values; no reflection is
// involved.
package command

import (
	"context"
	"fmt"
)

// Caller identifies who sent a command on a connection.
type Caller struct {
	// Ref is the host's reference for replying to the sender, such as a
	// chat channel or client id.
	Ref string

	// UniqueID is the sender's stable identifier.
	UniqueID string

	// DBID is the sender's database id once resolved.
	DBID uint64

	// GroupID is the sender's server group once resolved.
	GroupID uint64

	// Resolved reports whether GroupID is known.
	Resolved bool
}

// Access is the permission a command requires.
type Access struct {
	admin bool
	group uint64
}

// Anyone lets every caller run the command.
var Anyone = Access{}

// AdminOnly requires the process-wide admin group.
var AdminOnly = Access{admin: true}

// MinGroup requires a caller group of at least g.
func MinGroup(g uint64) Access { return Access{group: g} }

// Required returns the minimum group for this access level given the
// configured admin group. 0 means any caller.
func (a Access) Required(adminGroup uint64) uint64 {
	if a.admin {
		return adminGroup
	}
	return a.group
}

// Admin reports whether the access level is admin-only.
func (a Access) Admin() bool { return a.admin }

// Handler executes a command. It runs synchronously on the dispatching
// goroutine and must not block; long work should be started elsewhere and
// reported later.
type Handler func(ctx context.Context, call *Call) Result

// Descriptor declares one command.
type Descriptor struct {
	// Name is the command name relative to its table, for example "volume"
	// inside the "music" group. Multi-word names are allowed.
	Name string

	// Kinds lists the parameter kinds in order.
	Kinds []Kind

	// Description is shown in help.
	Description string

	// Visible lists the command in help output.
	Visible bool

	// Access is the required permission.
	Access Access

	// Handler runs the command.
	Handler Handler
}

// Usage returns the name followed by one placeholder per parameter.
func (d *Descriptor) Usage() string {
	u := d.Name
	for _, k := range d.Kinds {
		u += " " + k.Placeholder()
	}
	return u
}

// Call is what a handler receives.
type Call struct {
	// ID correlates the invocation across log lines.
	ID string

	// Conn is the connection handle the command arrived on.
	Conn uint64

	// Caller is the sender.
	Caller Caller

	// Message is the full original text.
	Message string

	// Name is the matched full command name.
	Name string

	// Rest is the text after the command name, unparsed.
	Rest string

	// Args holds one value per declared kind.
	Args []Value
}

type resultKind int

const (
	resultReply resultKind = iota
	resultSilent
	resultFail
)

// Result is a handler's outcome.
type Result struct {
	kind resultKind
	text string
	err  error
}

// Reply returns a successful result answered with text.
func Reply(text string) Result { return Result{kind: resultReply, text: text} }

// Replyf is Reply with formatting.
func Replyf(format string, args ...any) Result {
	return Reply(fmt.Sprintf(format, args...))
}

// Silent returns a successful result that sends no reply.
func Silent() Result { return Result{kind: resultSilent} }

// Fail returns a failed result. The error text is sent to the caller.
func Fail(err error) Result { return Result{kind: resultFail, err: err} }

// Failf is Fail with a formatted error.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Errorf(format, args...))
}
