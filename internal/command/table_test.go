package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/audiobob/internal/command"
)

func nop(context.Context, *command.Call) command.Result { return command.Silent() }

func TestTable_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	tbl := command.NewTable()
	if err := tbl.Register(command.Descriptor{Name: "ping", Handler: nop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := tbl.Register(command.Descriptor{Name: "ping", Handler: nop})
	if !errors.Is(err, command.ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}

	// Full names are unique across groups too.
	music := tbl.Group("music", "Music playback")
	if err := tbl.Register(command.Descriptor{Name: "music stop", Handler: nop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := music.Register(command.Descriptor{Name: "stop", Handler: nop}); !errors.Is(err, command.ErrDuplicateCommand) {
		t.Errorf("expected ErrDuplicateCommand across groups, got %v", err)
	}
}

func TestTable_RegisterInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    command.Descriptor
	}{
		{"empty name", command.Descriptor{Handler: nop}},
		{"double space", command.Descriptor{Name: "music  stop", Handler: nop}},
		{"leading space", command.Descriptor{Name: " ping", Handler: nop}},
		{"nil handler", command.Descriptor{Name: "ping"}},
		{"string not last", command.Descriptor{Name: "x", Kinds: []command.Kind{command.KindString, command.KindInt}, Handler: nop}},
		{"zero kind", command.Descriptor{Name: "x", Kinds: []command.Kind{0}, Handler: nop}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := command.NewTable().Register(tt.d); !errors.Is(err, command.ErrInvalidDescriptor) {
				t.Errorf("expected ErrInvalidDescriptor, got %v", err)
			}
		})
	}
}

func TestTable_MustRegisterPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicates")
		}
	}()
	command.NewTable().MustRegister(
		command.Descriptor{Name: "ping", Handler: nop},
		command.Descriptor{Name: "ping", Handler: nop},
	)
}

func TestTable_LookupLongestMatch(t *testing.T) {
	t.Parallel()

	tbl := command.NewTable()
	tbl.MustRegister(
		command.Descriptor{Name: "music", Handler: nop},
		command.Descriptor{Name: "help", Handler: nop},
	)
	music := tbl.Group("music", "")
	music.MustRegister(command.Descriptor{Name: "volume", Kinds: []command.Kind{command.KindFloat}, Handler: nop})
	tbl.MustRegister(command.Descriptor{Name: "help music", Handler: nop})

	tests := []struct {
		in       string
		wantName string
		wantRest string
		ok       bool
	}{
		{"music volume 0.5", "music volume", " 0.5", true},
		{"  music   volume\t0.5", "music volume", "\t0.5", true},
		{"music something", "music", " something", true},
		{"music", "music", "", true},
		{"help music", "help music", "", true},
		{"help", "help", "", true},
		{"Music volume 1", "", "", false},
		{"volume 1", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		m, ok := tbl.Lookup(tt.in)
		if ok != tt.ok {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if m.Descriptor.Name != tt.wantName || m.Rest != tt.wantRest {
			t.Errorf("Lookup(%q) = (%q, %q), want (%q, %q)", tt.in, m.Descriptor.Name, m.Rest, tt.wantName, tt.wantRest)
		}
	}

	// Lookup from a group resolves full names from the root.
	if m, ok := music.Lookup("help"); !ok || m.Descriptor.Name != "help" {
		t.Errorf("group lookup of root command failed: %v %v", m, ok)
	}
}

func TestTable_Describe(t *testing.T) {
	t.Parallel()

	tbl := command.NewTable()
	tbl.MustRegister(command.Descriptor{Name: "help", Description: "Show help", Visible: true, Handler: nop})
	music := tbl.Group("music", "Music playback")
	tbl.MustRegister(
		command.Descriptor{Name: "error", Description: "hidden", Handler: nop},
		command.Descriptor{Name: "ping", Description: "Pong", Visible: true, Handler: nop},
	)
	music.MustRegister(command.Descriptor{
		Name: "volume", Kinds: []command.Kind{command.KindFloat},
		Description: "Set volume", Visible: true, Handler: nop,
	})

	root := tbl.Describe()
	wantRoot := []command.Entry{
		{Name: "help", Usage: "help", Description: "Show help"},
		{Name: "music", Usage: "music", Description: "Music playback", Group: true},
		{Name: "ping", Usage: "ping", Description: "Pong"},
	}
	if len(root) != len(wantRoot) {
		t.Fatalf("Describe() = %+v", root)
	}
	for i := range wantRoot {
		if root[i] != wantRoot[i] {
			t.Errorf("entry %d = %+v, want %+v", i, root[i], wantRoot[i])
		}
	}

	sub := music.Describe()
	if len(sub) != 1 || sub[0].Name != "music volume" || sub[0].Usage != "music volume <number>" {
		t.Errorf("music.Describe() = %+v", sub)
	}

	if g, ok := tbl.Subtable("music"); !ok || g != music || g.Prefix() != "music" {
		t.Errorf("Subtable(music) = %v, %v", g, ok)
	}
	if again := tbl.Group("music", "ignored"); again != music {
		t.Error("Group must return the existing sub-table")
	}
}

func TestTable_Suggest(t *testing.T) {
	t.Parallel()

	tbl := command.NewTable()
	tbl.MustRegister(
		command.Descriptor{Name: "ping", Visible: true, Handler: nop},
		command.Descriptor{Name: "secret", Handler: nop},
	)
	tbl.Group("music", "").MustRegister(command.Descriptor{Name: "volume", Visible: true, Handler: nop})

	if s, ok := tbl.Suggest("music volum 0.5"); !ok || s != "music volume" {
		t.Errorf("Suggest(music volum) = %q, %v", s, ok)
	}
	if s, ok := tbl.Suggest("pnig"); !ok || s != "ping" {
		t.Errorf("Suggest(pnig) = %q, %v", s, ok)
	}
	if s, ok := tbl.Suggest("secrte"); ok {
		t.Errorf("hidden commands must not be suggested, got %q", s)
	}
	if s, ok := tbl.Suggest("xyzzy"); ok {
		t.Errorf("unrelated input should not get a suggestion, got %q", s)
	}
}
