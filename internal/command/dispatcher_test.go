package command_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/audiobob/internal/command"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	disp   *command.Dispatcher
	clock  *clock
	volume float64
	calls  map[string]*atomic.Int32
	last   *command.Call
	mu     sync.Mutex
}

func newFixture(t *testing.T, cfg command.Config) *fixture {
	t.Helper()
	f := &fixture{
		clock: &clock{t: time.Unix(1_700_000_000, 0)},
		calls: map[string]*atomic.Int32{},
	}
	counted := func(name string, h command.Handler) command.Handler {
		f.calls[name] = &atomic.Int32{}
		return func(ctx context.Context, c *command.Call) command.Result {
			f.calls[name].Add(1)
			f.mu.Lock()
			f.last = c
			f.mu.Unlock()
			return h(ctx, c)
		}
	}

	tbl := command.NewTable()
	tbl.MustRegister(
		command.Descriptor{Name: "ping", Visible: true, Handler: counted("ping", func(context.Context, *command.Call) command.Result {
			return command.Reply("pong")
		})},
		command.Descriptor{Name: "exit", Visible: true, Access: command.AdminOnly, Handler: counted("exit", func(context.Context, *command.Call) command.Result {
			return command.Reply("bye")
		})},
		command.Descriptor{Name: "mod", Access: command.MinGroup(10), Handler: counted("mod", func(context.Context, *command.Call) command.Result {
			return command.Silent()
		})},
		command.Descriptor{Name: "error", Kinds: []command.Kind{command.KindString}, Handler: counted("error", func(_ context.Context, c *command.Call) command.Result {
			return command.Fail(errors.New(c.Args[0].Text()))
		})},
		command.Descriptor{Name: "panic", Handler: counted("panic", func(context.Context, *command.Call) command.Result {
			panic("boom")
		})},
	)
	tbl.Group("music", "Music").MustRegister(command.Descriptor{
		Name: "volume", Kinds: []command.Kind{command.KindFloat}, Visible: true,
		Handler: counted("music volume", func(_ context.Context, c *command.Call) command.Result {
			f.mu.Lock()
			f.volume = c.Args[0].Float()
			f.mu.Unlock()
			return command.Replyf("Volume set to %.2f", c.Args[0].Float())
		}),
	})

	f.disp = command.NewDispatcher(tbl, cfg, command.WithClock(f.clock.now))
	return f
}

func (f *fixture) count(name string) int32 { return f.calls[name].Load() }

func resolved(group uint64) command.Caller {
	return command.Caller{Ref: "chan-1", UniqueID: "uid-1", DBID: 1, GroupID: group, Resolved: true}
}

func unresolved() command.Caller {
	return command.Caller{Ref: "chan-1", UniqueID: "uid-1"}
}

func inv(caller command.Caller, text string) command.Invocation {
	return command.Invocation{ID: "inv", Conn: 7, Caller: caller, Message: text}
}

func TestDispatch_MusicVolume(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	ctx := context.Background()

	out := f.disp.Dispatch(ctx, inv(resolved(0), "music volume 0.5"))
	if out.Stage != command.StageExecuted || out.Err != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if f.volume != 0.5 || out.Reply != "Volume set to 0.50" || out.Command != "music volume" {
		t.Errorf("volume=%v reply=%q command=%q", f.volume, out.Reply, out.Command)
	}

	out = f.disp.Dispatch(ctx, inv(resolved(0), "music volume loud"))
	var bad *command.BadArgumentsError
	if out.Stage != command.StageRejected || !errors.As(out.Err, &bad) {
		t.Fatalf("expected bad arguments, got %+v", out)
	}
	if bad.Position != 1 || bad.Token != "loud" {
		t.Errorf("BadArguments = (%d, %q), want (1, \"loud\")", bad.Position, bad.Token)
	}
	if !strings.Contains(out.Reply, "music volume <number>") {
		t.Errorf("reply should show usage, got %q", out.Reply)
	}
	if f.count("music volume") != 1 || f.volume != 0.5 {
		t.Error("a failed parse must not run the handler")
	}
}

func TestDispatch_ExactlyOnceForWellFormed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	ctx := context.Background()
	lines := map[string]string{
		"ping":                 "ping",
		"  ping  ":             "ping",
		"music volume 1":       "music volume",
		"music volume\t2.25":   "music volume",
		"exit":                 "exit",
		"mod":                  "mod",
		"error something bad ": "error",
	}
	for line, name := range lines {
		before := f.count(name)
		out := f.disp.Dispatch(ctx, inv(resolved(50), line))
		if out.Stage != command.StageExecuted {
			t.Errorf("%q: stage %v, err %v", line, out.Stage, out.Err)
		}
		if got := f.count(name) - before; got != 1 {
			t.Errorf("%q: handler ran %d times", line, got)
		}
	}
}

func TestDispatch_UnauthorizedExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	out := f.disp.Dispatch(context.Background(), inv(resolved(0), "exit"))
	if out.Stage != command.StageRejected || !errors.Is(out.Err, command.ErrNotAuthorized) {
		t.Fatalf("outcome = %+v", out)
	}
	if f.count("exit") != 0 {
		t.Error("handler must not run for an unauthorized caller")
	}
	if out.Reply == "" {
		t.Error("rejection must be reported to the caller")
	}
}

func TestDispatch_GroupThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		group uint64
		cmd   string
		ok    bool
	}{
		{49, "exit", false},
		{50, "exit", true},
		{51, "exit", true},
		{9, "mod", false},
		{10, "mod", true},
		{0, "ping", true},
	}
	for _, tt := range tests {
		f := newFixture(t, command.Config{AdminGroup: 50})
		out := f.disp.Dispatch(context.Background(), inv(resolved(tt.group), tt.cmd))
		if got := out.Stage == command.StageExecuted; got != tt.ok {
			t.Errorf("group %d %q: executed = %v, want %v (%v)", tt.group, tt.cmd, got, tt.ok, out.Err)
		}
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{})
	out := f.disp.Dispatch(context.Background(), inv(resolved(0), "music volum 0.5"))
	if !errors.Is(out.Err, command.ErrUnknownCommand) || out.Stage != command.StageRejected {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.Contains(out.Reply, `"music volume"`) {
		t.Errorf("reply should suggest the closest command, got %q", out.Reply)
	}

	out = f.disp.Dispatch(context.Background(), inv(resolved(0), "qqqq"))
	if !strings.Contains(out.Reply, "help") {
		t.Errorf("reply without suggestion should point to help, got %q", out.Reply)
	}
}

func TestDispatch_HandlerResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{})
	ctx := context.Background()

	out := f.disp.Dispatch(ctx, inv(resolved(10), "mod"))
	if !out.Silent || out.Reply != "" || out.Err != nil {
		t.Errorf("silent handler outcome = %+v", out)
	}

	out = f.disp.Dispatch(ctx, inv(resolved(0), "error disk   full"))
	var herr *command.HandlerError
	if !errors.As(out.Err, &herr) || herr.Command != "error" {
		t.Fatalf("expected HandlerError, got %v", out.Err)
	}
	if out.Reply != "Error: disk   full" || out.Stage != command.StageExecuted {
		t.Errorf("failed handler outcome = %+v", out)
	}

	out = f.disp.Dispatch(ctx, inv(resolved(0), "panic"))
	if !errors.As(out.Err, &herr) || out.Reply != "Error: internal error" {
		t.Errorf("panicking handler outcome = %+v", out)
	}
}

func TestDispatch_CallFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{})
	f.disp.Dispatch(context.Background(), inv(resolved(0), "music volume  0.75"))
	c := f.last
	if c.Conn != 7 || c.ID != "inv" || c.Name != "music volume" || c.Rest != "  0.75" {
		t.Errorf("call = %+v", c)
	}
	if c.Message != "music volume  0.75" || len(c.Args) != 1 || c.Caller.UniqueID != "uid-1" {
		t.Errorf("call = %+v", c)
	}
}

func TestDispatch_UnresolvedQueuesAndResumes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	ctx := context.Background()

	out := f.disp.Dispatch(ctx, inv(unresolved(), "exit"))
	if out.Stage != command.StagePending || out.Reply != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if f.disp.Pending() != 1 || f.count("exit") != 0 {
		t.Fatal("invocation must be queued, not executed")
	}

	// Resolution for a different caller leaves the queue alone.
	other := resolved(50)
	other.UniqueID = "uid-2"
	if outs := f.disp.Resume(ctx, 7, other); len(outs) != 0 {
		t.Errorf("resume for another caller returned %v", outs)
	}
	// Unresolved resume is a no-op.
	if outs := f.disp.Resume(ctx, 7, unresolved()); len(outs) != 0 || f.disp.Pending() != 1 {
		t.Error("unresolved resume must not touch the queue")
	}

	caller := resolved(50)
	caller.Ref = "ignored"
	outs := f.disp.Resume(ctx, 7, caller)
	if len(outs) != 1 || outs[0].Stage != command.StageExecuted || outs[0].Reply != "bye" {
		t.Fatalf("resume outcomes = %+v", outs)
	}
	if outs[0].Invocation.Caller.Ref != "chan-1" {
		t.Errorf("reply must go to the original sender ref, got %q", outs[0].Invocation.Caller.Ref)
	}
	if again := f.disp.Resume(ctx, 7, caller); len(again) != 0 {
		t.Error("queued invocations must be replayed at most once")
	}
	if f.count("exit") != 1 {
		t.Errorf("handler ran %d times, want 1", f.count("exit"))
	}
}

func TestDispatch_UnresolvedLowGroupNeverRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	ctx := context.Background()

	f.disp.Dispatch(ctx, inv(unresolved(), "exit"))
	outs := f.disp.Resume(ctx, 7, resolved(10))
	if len(outs) != 1 || !errors.Is(outs[0].Err, command.ErrNotAuthorized) {
		t.Fatalf("outcomes = %+v", outs)
	}
	if f.count("exit") != 0 {
		t.Error("low-group caller must never trigger the handler")
	}
}

func TestDispatch_UnresolvedAnyoneRunsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{})
	out := f.disp.Dispatch(context.Background(), inv(unresolved(), "ping"))
	if out.Stage != command.StageExecuted || out.Reply != "pong" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestDispatch_PendingLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50, PendingLimit: 2})
	ctx := context.Background()
	for range 2 {
		if out := f.disp.Dispatch(ctx, inv(unresolved(), "exit")); out.Stage != command.StagePending {
			t.Fatalf("outcome = %+v", out)
		}
	}
	out := f.disp.Dispatch(ctx, inv(unresolved(), "exit"))
	if !errors.Is(out.Err, command.ErrPendingLimit) || out.Reply == "" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestDispatch_PendingExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50, PendingTimeout: time.Second})
	ctx := context.Background()

	f.disp.Dispatch(ctx, inv(unresolved(), "exit"))
	f.clock.advance(500 * time.Millisecond)
	f.disp.Dispatch(ctx, inv(unresolved(), "mod"))

	f.clock.advance(600 * time.Millisecond)
	swept := f.disp.Sweep()
	if len(swept) != 1 || swept[0].Command != "exit" || !errors.Is(swept[0].Err, command.ErrPendingExpired) {
		t.Fatalf("swept = %+v", swept)
	}
	if f.disp.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.disp.Pending())
	}

	f.clock.advance(time.Second)
	outs := f.disp.Resume(ctx, 7, resolved(50))
	if len(outs) != 1 || !errors.Is(outs[0].Err, command.ErrPendingExpired) {
		t.Fatalf("late resume = %+v", outs)
	}
	if f.count("exit") != 0 || f.count("mod") != 0 {
		t.Error("expired invocations must not run")
	}
}

func TestDispatch_Forget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	ctx := context.Background()
	f.disp.Dispatch(ctx, inv(unresolved(), "exit"))
	other := inv(unresolved(), "exit")
	other.Conn = 8
	f.disp.Dispatch(ctx, other)

	if n := f.disp.Forget(7); n != 1 {
		t.Errorf("Forget(7) = %d, want 1", n)
	}
	if f.disp.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.disp.Pending())
	}
	if outs := f.disp.Resume(ctx, 7, resolved(50)); len(outs) != 0 {
		t.Error("forgotten invocations must not replay")
	}
}

func TestDispatch_CustomAuthorizer(t *testing.T) {
	t.Parallel()

	onlyDB42 := command.AuthorizerFunc(func(c command.Caller, required uint64) bool {
		return required == 0 || c.DBID == 42
	})
	f := newFixture(t, command.Config{AdminGroup: 50, Authorizer: onlyDB42})
	caller := resolved(0)
	caller.DBID = 42
	if out := f.disp.Dispatch(context.Background(), inv(caller, "exit")); out.Stage != command.StageExecuted {
		t.Errorf("custom authorizer ignored: %+v", out)
	}
}

func TestDispatch_ConcurrentLowGroupNeverRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, command.Config{AdminGroup: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				f.disp.Dispatch(ctx, inv(unresolved(), "exit"))
			} else {
				f.disp.Dispatch(ctx, inv(resolved(49), "exit"))
			}
			f.disp.Resume(ctx, 7, resolved(49))
		}()
	}
	wg.Wait()
	f.disp.Resume(ctx, 7, resolved(49))
	if f.count("exit") != 0 {
		t.Errorf("handler ran %d times for low-group callers", f.count("exit"))
	}
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	if command.StagePending.String() != "pending" || command.StageRejected.String() != "rejected" {
		t.Error("unexpected stage names")
	}
}
