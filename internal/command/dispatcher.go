package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Stage is how far an invocation progressed through the dispatcher.
type Stage int

const (
	StageReceived Stage = iota
	StageMatched
	StageAuthorized
	StageParsed
	StageExecuted

	// StagePending means the caller's group is not yet known and the
	// invocation is queued until [Dispatcher.Resume].
	StagePending

	// StageRejected means a stage failed; Outcome.Err says which.
	StageRejected
)

// String returns the lower-case stage name used in logs and metrics.
func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageMatched:
		return "matched"
	case StageAuthorized:
		return "authorized"
	case StageParsed:
		return "parsed"
	case StageExecuted:
		return "executed"
	case StagePending:
		return "pending"
	case StageRejected:
		return "rejected"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// Authorizer decides whether caller may run a command requiring group.
type Authorizer interface {
	Authorize(caller Caller, required uint64) bool
}

// AuthorizerFunc adapts a function to [Authorizer].
type AuthorizerFunc func(caller Caller, required uint64) bool

// Authorize calls f.
func (f AuthorizerFunc) Authorize(caller Caller, required uint64) bool { return f(caller, required) }

// Threshold authorizes callers whose resolved group is at least the required
// group. A requirement of 0 admits everyone.
type Threshold struct{}

// Authorize implements [Authorizer].
func (Threshold) Authorize(caller Caller, required uint64) bool {
	return required == 0 || (caller.Resolved && caller.GroupID >= required)
}

// Invocation is one received chat line.
type Invocation struct {
	ID      string
	Conn    uint64
	Caller  Caller
	Message string
}

// Outcome reports what happened to an invocation.
type Outcome struct {
	Invocation Invocation
	Stage      Stage

	// Command is the matched full name, empty when nothing matched.
	Command string

	// Reply is the text to send back. Empty when Silent or pending.
	Reply string

	// Silent is set when the handler asked for no reply.
	Silent bool

	// Err classifies a rejection: [ErrUnknownCommand], [ErrNotAuthorized],
	// [ErrPendingLimit], [ErrPendingExpired], a *[BadArgumentsError] or a
	// *[HandlerError].
	Err error

	// Elapsed is the time spent in the handler.
	Elapsed time.Duration
}

// Config holds dispatcher settings.
type Config struct {
	// AdminGroup is the group required by [AdminOnly] commands.
	AdminGroup uint64

	// PendingTimeout bounds how long an invocation waits for the caller's
	// group. Default: 10s.
	PendingTimeout time.Duration

	// PendingLimit caps queued invocations per caller. Default: 8.
	PendingLimit int

	// Authorizer overrides the default [Threshold] policy.
	Authorizer Authorizer
}

// Dispatcher runs invocations against a [Table]. Safe for concurrent use.
type Dispatcher struct {
	table          *Table
	auth           Authorizer
	adminGroup     uint64
	pendingTimeout time.Duration
	pendingLimit   int
	now            func() time.Time
	log            *slog.Logger

	mu      sync.Mutex
	pending map[pendingKey][]pendingEntry
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher returns a dispatcher over table.
func NewDispatcher(table *Table, cfg Config, opts ...Option) *Dispatcher {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 10 * time.Second
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = 8
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = Threshold{}
	}
	d := &Dispatcher{
		table:          table,
		auth:           cfg.Authorizer,
		adminGroup:     cfg.AdminGroup,
		pendingTimeout: cfg.PendingTimeout,
		pendingLimit:   cfg.PendingLimit,
		now:            time.Now,
		log:            slog.Default(),
		pending:        make(map[pendingKey][]pendingEntry),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// AdminGroup returns the configured admin group.
func (d *Dispatcher) AdminGroup() uint64 { return d.adminGroup }

// Table returns the dispatcher's command table.
func (d *Dispatcher) Table() *Table { return d.table }

// Dispatch runs inv through matching, authorization, parsing and execution.
// When the command needs a group and the caller is unresolved, the
// invocation is queued and the outcome has [StagePending]; the host should
// then look up the caller's group and call [Dispatcher.Resume].
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Outcome {
	m, ok := d.table.Lookup(inv.Message)
	if !ok {
		out := Outcome{Invocation: inv, Stage: StageRejected, Err: ErrUnknownCommand}
		out.Reply = unknownReply(d.table, inv.Message)
		return out
	}
	return d.proceed(ctx, inv, m, true)
}

// proceed runs the stages after matching.
func (d *Dispatcher) proceed(ctx context.Context, inv Invocation, m Match, mayQueue bool) Outcome {
	desc := m.Descriptor
	out := Outcome{Invocation: inv, Stage: StageMatched, Command: desc.Name}

	required := desc.Access.Required(d.adminGroup)
	if required > 0 && !inv.Caller.Resolved && mayQueue {
		if err := d.enqueue(inv, m); err != nil {
			return reject(out, err, "Too many commands are waiting for your permissions. Try again shortly.")
		}
		out.Stage = StagePending
		return out
	}
	if !d.auth.Authorize(inv.Caller, required) {
		return reject(out, ErrNotAuthorized, fmt.Sprintf("You are not allowed to use %q.", desc.Name))
	}
	out.Stage = StageAuthorized

	args, err := Parse(m.Rest, desc.Kinds)
	if err != nil {
		return reject(out, err, badArgsReply(desc, err))
	}
	out.Stage = StageParsed

	call := &Call{
		ID:      inv.ID,
		Conn:    inv.Conn,
		Caller:  inv.Caller,
		Message: inv.Message,
		Name:    desc.Name,
		Rest:    m.Rest,
		Args:    args,
	}
	start := d.now()
	res := d.execute(ctx, desc, call)
	out.Elapsed = d.now().Sub(start)
	out.Stage = StageExecuted

	switch res.kind {
	case resultSilent:
		out.Silent = true
	case resultFail:
		err := res.err
		if err == nil {
			err = errors.New("failed")
		}
		out.Err = &HandlerError{Command: desc.Name, Err: err}
		out.Reply = "Error: " + err.Error()
	default:
		out.Reply = res.text
	}
	return out
}

// execute runs the handler, converting a panic into a failed result.
func (d *Dispatcher) execute(ctx context.Context, desc *Descriptor, call *Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command: handler panicked", "command", desc.Name, "id", call.ID, "panic", r)
			res = Fail(errors.New("internal error"))
		}
	}()
	return desc.Handler(ctx, call)
}

func reject(out Outcome, err error, reply string) Outcome {
	out.Stage = StageRejected
	out.Err = err
	out.Reply = reply
	return out
}

func unknownReply(t *Table, message string) string {
	if s, ok := t.Suggest(message); ok {
		return fmt.Sprintf("Unknown command. Did you mean %q?", s)
	}
	return `Unknown command. Type "help" for a list of commands.`
}

func badArgsReply(desc *Descriptor, err error) string {
	var bad *BadArgumentsError
	if !errors.As(err, &bad) {
		return "Invalid arguments. Usage: " + desc.Usage()
	}
	if bad.Token == "" {
		return fmt.Sprintf("Argument %d: %s. Usage: %s", bad.Position, bad.Reason, desc.Usage())
	}
	return fmt.Sprintf("Argument %d (%q): %s. Usage: %s", bad.Position, bad.Token, bad.Reason, desc.Usage())
}
