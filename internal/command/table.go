package command

import (
	"fmt"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a suggestion.
const suggestThreshold = 0.8

// Entry is one line of help output.
type Entry struct {
	// Name is the full name, e.g. "music volume".
	Name string

	// Usage is the name followed by parameter placeholders. Groups have no
	// placeholders.
	Usage string

	Description string

	// Group marks a sub-table rather than a command.
	Group bool
}

// Match is the result of a successful [Table.Lookup].
type Match struct {
	Descriptor *Descriptor

	// Rest is the input after the matched name, including its leading
	// whitespace.
	Rest string
}

// registry is shared by a root table and all its groups.
type registry struct {
	mu        sync.RWMutex
	commands  map[string]*Descriptor
	maxTokens int
}

// Table is a set of commands, optionally nested into named groups. Full
// names are unique across the whole tree and every command can be looked up
// from any table of the tree. Safe for concurrent use.
type Table struct {
	reg    *registry
	prefix string

	// Guarded by reg.mu.
	entries []Entry
	groups  map[string]*Table
}

// NewTable returns an empty root table.
func NewTable() *Table {
	return &Table{
		reg:    &registry{commands: make(map[string]*Descriptor)},
		groups: make(map[string]*Table),
	}
}

// Prefix returns the group path of t, empty for the root.
func (t *Table) Prefix() string { return t.prefix }

func (t *Table) fullName(name string) string {
	if t.prefix == "" {
		return name
	}
	return t.prefix + " " + name
}

func validName(name string) bool {
	return name != "" && strings.Join(strings.Fields(name), " ") == name
}

// Group returns the sub-table name, creating it with description on first
// use. The group is listed in t's help output.
func (t *Table) Group(name, description string) *Table {
	if !validName(name) {
		panic(fmt.Sprintf("command: invalid group name %q", name))
	}
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	if g, ok := t.groups[name]; ok {
		return g
	}
	g := &Table{
		reg:    t.reg,
		prefix: t.fullName(name),
		groups: make(map[string]*Table),
	}
	t.groups[name] = g
	t.entries = append(t.entries, Entry{
		Name:        g.prefix,
		Usage:       g.prefix,
		Description: description,
		Group:       true,
	})
	return g
}

// Subtable returns the group registered under name, if any.
func (t *Table) Subtable(name string) (*Table, bool) {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	g, ok := t.groups[name]
	return g, ok
}

// Register adds d to t. It fails with [ErrDuplicateCommand] when the full
// name is taken and with [ErrInvalidDescriptor] for an empty or badly spaced
// name, a nil handler, or a [KindString] parameter that is not last.
func (t *Table) Register(d Descriptor) error {
	if !validName(d.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidDescriptor, d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidDescriptor, d.Name)
	}
	for i, k := range d.Kinds {
		if k < KindBool || k > KindString {
			return fmt.Errorf("%w: %q parameter %d has unknown kind", ErrInvalidDescriptor, d.Name, i+1)
		}
		if k == KindString && i != len(d.Kinds)-1 {
			return fmt.Errorf("%w: %q text parameter must be last", ErrInvalidDescriptor, d.Name)
		}
	}

	full := t.fullName(d.Name)
	stored := d
	stored.Name = full
	stored.Kinds = append([]Kind(nil), d.Kinds...)

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	if _, ok := t.reg.commands[full]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCommand, full)
	}
	t.reg.commands[full] = &stored
	t.reg.maxTokens = max(t.reg.maxTokens, len(strings.Fields(full)))
	if d.Visible {
		t.entries = append(t.entries, Entry{
			Name:        full,
			Usage:       stored.Usage(),
			Description: d.Description,
		})
	}
	return nil
}

// MustRegister registers every descriptor and panics on the first error.
// Use it for the static command set built at startup.
func (t *Table) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := t.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup finds the command whose full name is the longest leading run of
// whitespace-separated tokens in text. Matching is case-sensitive.
func (t *Table) Lookup(text string) (Match, bool) {
	toks := tokenize(text)

	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()

	for n := min(len(toks), t.reg.maxTokens); n > 0; n-- {
		words := make([]string, n)
		for i := range n {
			words[i] = toks[i].text
		}
		if d, ok := t.reg.commands[strings.Join(words, " ")]; ok {
			return Match{Descriptor: d, Rest: text[toks[n-1].end:]}, true
		}
	}
	return Match{}, false
}

// Describe returns the visible commands and groups of t in registration
// order. Commands of sub-groups are not included.
func (t *Table) Describe() []Entry {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	return append([]Entry(nil), t.entries...)
}

// Suggest returns the visible command name closest to the start of text by
// Jaro-Winkler similarity, if any is close enough.
func (t *Table) Suggest(text string) (string, bool) {
	toks := tokenize(text)
	if len(toks) == 0 {
		return "", false
	}

	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()

	best, bestScore := "", 0.0
	for name, d := range t.reg.commands {
		if !d.Visible {
			continue
		}
		n := min(len(strings.Fields(name)), len(toks))
		words := make([]string, n)
		for i := range n {
			words[i] = toks[i].text
		}
		score := matchr.JaroWinkler(strings.Join(words, " "), name, false)
		if score > bestScore || (score == bestScore && name < best) {
			best, bestScore = name, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}
