package config

import (
	"maps"
	"slices"
)

// ConfigDiff lists the changes between two configs that can be applied
// without a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RoleGroupsChanged is set when any role-to-group mapping changed.
	RoleGroupsChanged bool
	RoleGroups        map[string]uint64

	ReplyRateChanged bool
	NewReplyRate     float64

	// GuildsAdded and GuildsRemoved list guild ids whose voice channel
	// entry appeared or disappeared. A changed channel appears in both.
	GuildsAdded   []string
	GuildsRemoved []string
}

// Empty reports whether nothing reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RoleGroupsChanged && !d.ReplyRateChanged &&
		len(d.GuildsAdded) == 0 && len(d.GuildsRemoved) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !maps.Equal(old.Discord.RoleGroups, new.Discord.RoleGroups) {
		d.RoleGroupsChanged = true
		d.RoleGroups = maps.Clone(new.Discord.RoleGroups)
	}
	if old.Discord.ReplyRate != new.Discord.ReplyRate {
		d.ReplyRateChanged = true
		d.NewReplyRate = new.Discord.ReplyRate
	}

	for guild, ch := range old.Discord.VoiceChannels {
		if nc, ok := new.Discord.VoiceChannels[guild]; !ok || nc != ch {
			d.GuildsRemoved = append(d.GuildsRemoved, guild)
		}
	}
	for guild, ch := range new.Discord.VoiceChannels {
		if oc, ok := old.Discord.VoiceChannels[guild]; !ok || oc != ch {
			d.GuildsAdded = append(d.GuildsAdded, guild)
		}
	}
	slices.Sort(d.GuildsAdded)
	slices.Sort(d.GuildsRemoved)
	return d
}
