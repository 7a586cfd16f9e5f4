package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/audiobob/internal/command"
	"github.com/MrWong99/audiobob/internal/session"
)

// renderHelp lists the visible entries of t, one per line.
func renderHelp(t *command.Table) string {
	var sb strings.Builder
	if t.Prefix() == "" {
		sb.WriteString("Commands:")
	} else {
		fmt.Fprintf(&sb, "Commands in %q:", t.Prefix())
	}
	for _, e := range t.Describe() {
		sb.WriteString("\n  ")
		if e.Group {
			fmt.Fprintf(&sb, "%s: %s (type \"help %s\")", e.Name, e.Description, e.Name)
			continue
		}
		sb.WriteString(e.Usage)
		if e.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(e.Description)
		}
	}
	return sb.String()
}

func qualityName(high bool) string {
	if high {
		return "high (48 kHz)"
	}
	return "low (24 kHz)"
}

func renderAudioStatus(on, high bool) string {
	state := "off"
	if on {
		state = "on"
	}
	return fmt.Sprintf("Audio: %s, quality: %s", state, qualityName(high))
}

func renderWhisperStatus(clients, channels []int64) string {
	if len(clients) == 0 && len(channels) == 0 {
		return "Speaking to everyone"
	}
	var parts []string
	if len(clients) > 0 {
		parts = append(parts, "clients "+joinIDs(clients))
	}
	if len(channels) > 0 {
		parts = append(parts, "channels "+joinIDs(channels))
	}
	return "Whispering to " + strings.Join(parts, " and ")
}

func joinIDs(ids []int64) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(s, ", ")
}

func renderMusicStatus(s session.Snapshot) string {
	switch {
	case !s.Enabled:
		return "Audio is disabled"
	case s.Loading:
		return fmt.Sprintf("Loading %q", s.Descriptor)
	case s.Descriptor == "" || (!s.Playing && !s.Paused):
		if s.LastError != "" {
			return "Nothing is playing (last error: " + s.LastError + ")"
		}
		return nothingPlaying
	}

	var sb strings.Builder
	if s.Paused {
		sb.WriteString("Paused ")
	} else {
		sb.WriteString("Playing ")
	}
	fmt.Fprintf(&sb, "%q at %s", s.Descriptor, formatClock(s.Position))
	if s.DurationKnown {
		sb.WriteString(" / " + formatClock(s.Duration))
	}
	fmt.Fprintf(&sb, ", volume %.2f", s.Volume)
	if s.Looping {
		sb.WriteString(", looping")
	}
	return sb.String()
}

// formatClock renders seconds as m:ss, or h:mm:ss from one hour on.
func formatClock(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h, m, sec := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

func renderClients(clients []Client) string {
	if len(clients) == 0 {
		return "No clients"
	}
	var sb strings.Builder
	sb.WriteString("Clients:")
	for _, c := range clients {
		fmt.Fprintf(&sb, "\n  %d %s (channel %d)", c.ID, c.Name, c.ChannelID)
	}
	return sb.String()
}

func renderChannels(channels []Channel) string {
	if len(channels) == 0 {
		return "No channels"
	}
	var sb strings.Builder
	sb.WriteString("Channels:")
	for _, c := range channels {
		fmt.Fprintf(&sb, "\n  %d %s", c.ID, c.Name)
		if c.ParentID != 0 {
			fmt.Fprintf(&sb, " (in %d)", c.ParentID)
		}
	}
	return sb.String()
}
