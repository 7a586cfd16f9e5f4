// Package mock provides a recording test double for the bot's host.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/registry"
)

// Reply is one recorded SendReply call.
type Reply struct {
	Handle    registry.Handle
	Recipient string
	Text      string
}

// GroupQuery is one recorded QueryCurrentGroup call.
type GroupQuery struct {
	Handle   registry.Handle
	UniqueID string
}

// WhisperUpdate is one recorded SetWhisperTargets call.
type WhisperUpdate struct {
	Handle   registry.Handle
	Clients  []int64
	Channels []int64
}

// Host records every call for test assertions. It implements [bot.Host],
// [bot.WhisperSink] and [bot.Directory]. Safe for concurrent use.
type Host struct {
	mu sync.Mutex

	replies  []Reply
	queries  []GroupQuery
	whispers []WhisperUpdate

	// ReplyErr is returned by SendReply when non-nil.
	ReplyErr error

	// QueryErr is returned by QueryCurrentGroup when non-nil.
	QueryErr error

	// ClientList and ChannelList are returned by the Directory methods.
	ClientList  []bot.Client
	ChannelList []bot.Channel

	// DirectoryErr is returned by the Directory methods when non-nil.
	DirectoryErr error

	// SendReplyCallCount is the number of SendReply calls.
	SendReplyCallCount int
}

var (
	_ bot.Host        = (*Host)(nil)
	_ bot.WhisperSink = (*Host)(nil)
	_ bot.Directory   = (*Host)(nil)
)

// SendReply implements [bot.Host].
func (m *Host) SendReply(_ context.Context, h registry.Handle, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendReplyCallCount++
	m.replies = append(m.replies, Reply{Handle: h, Recipient: recipient, Text: text})
	return m.ReplyErr
}

// QueryCurrentGroup implements [bot.Host].
func (m *Host) QueryCurrentGroup(_ context.Context, h registry.Handle, uniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, GroupQuery{Handle: h, UniqueID: uniqueID})
	return m.QueryErr
}

// SetWhisperTargets implements [bot.WhisperSink].
func (m *Host) SetWhisperTargets(h registry.Handle, clients, channels []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.whispers = append(m.whispers, WhisperUpdate{Handle: h, Clients: clients, Channels: channels})
	return nil
}

// Clients implements [bot.Directory].
func (m *Host) Clients(context.Context, registry.Handle) ([]bot.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ClientList, m.DirectoryErr
}

// Channels implements [bot.Directory].
func (m *Host) Channels(context.Context, registry.Handle) ([]bot.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChannelList, m.DirectoryErr
}

// Replies returns a copy of the recorded replies.
func (m *Host) Replies() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reply(nil), m.replies...)
}

// LastReply returns the most recent reply text, or "".
func (m *Host) LastReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return ""
	}
	return m.replies[len(m.replies)-1].Text
}

// Queries returns a copy of the recorded group queries.
func (m *Host) Queries() []GroupQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GroupQuery(nil), m.queries...)
}

// Whispers returns a copy of the recorded whisper updates.
func (m *Host) Whispers() []WhisperUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WhisperUpdate(nil), m.whispers...)
}

// Reset clears all recorded calls.
func (m *Host) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies, m.queries, m.whispers = nil, nil, nil
	m.SendReplyCallCount = 0
}

// Bare returns a [bot.Host] that forwards to m and implements nothing else.
func (m *Host) Bare() bot.Host { return bare{m} }

type bare struct{ m *Host }

func (b bare) SendReply(ctx context.Context, h registry.Handle, recipient, text string) error {
	return b.m.SendReply(ctx, h, recipient, text)
}

func (b bare) QueryCurrentGroup(ctx context.Context, h registry.Handle, uniqueID string) error {
	return b.m.QueryCurrentGroup(ctx, h, uniqueID)
}
