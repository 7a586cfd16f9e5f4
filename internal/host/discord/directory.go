package discord

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/registry"
)

// Clients lists the members currently in a voice channel of the guild.
func (h *Host) Clients(_ context.Context, handle registry.Handle) ([]bot.Client, error) {
	g, err := h.guild(handle)
	if err != nil {
		return nil, err
	}

	h.state.RLock()
	defer h.state.RUnlock()

	names := make(map[string]string, len(g.Members))
	for _, m := range g.Members {
		if m.User == nil {
			continue
		}
		names[m.User.ID] = displayName(m)
	}

	out := make([]bot.Client, 0, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		id, err := strconv.ParseInt(vs.UserID, 10, 64)
		if err != nil {
			continue
		}
		ch, _ := strconv.ParseInt(vs.ChannelID, 10, 64)
		name := names[vs.UserID]
		if name == "" && vs.Member != nil {
			name = displayName(vs.Member)
		}
		out = append(out, bot.Client{ID: id, Name: name, ChannelID: ch})
	}
	slices.SortFunc(out, func(a, b bot.Client) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Channels lists the guild's text and voice channels and categories in
// display order.
func (h *Host) Channels(_ context.Context, handle registry.Handle) ([]bot.Channel, error) {
	g, err := h.guild(handle)
	if err != nil {
		return nil, err
	}

	h.state.RLock()
	chans := slices.Clone(g.Channels)
	h.state.RUnlock()

	slices.SortFunc(chans, func(a, b *discordgo.Channel) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	out := make([]bot.Channel, 0, len(chans))
	for _, c := range chans {
		switch c.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildCategory:
		default:
			continue
		}
		id, err := strconv.ParseInt(c.ID, 10, 64)
		if err != nil {
			continue
		}
		parent, _ := strconv.ParseInt(c.ParentID, 10, 64)
		out = append(out, bot.Channel{ID: id, Name: c.Name, ParentID: parent})
	}
	return out, nil
}

func (h *Host) guild(handle registry.Handle) (*discordgo.Guild, error) {
	if h.state == nil {
		return nil, ErrUnknownGuild
	}
	g, err := h.state.Guild(strconv.FormatUint(handle, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrUnknownGuild, handle, err)
	}
	return g, nil
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
