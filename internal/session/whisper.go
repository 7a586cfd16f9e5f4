package session

// Whisper targets are recorded here and handed to the voice transport, which
// decides how to route audio to them. With both lists empty the bot speaks to
// its whole channel.

// AddWhisperClient adds a client to the whisper list. It reports whether the
// list changed.
func (s *Session) AddWhisperClient(id int64) bool {
	return s.addTarget(s.whisperClients, id)
}

// RemoveWhisperClient removes a client from the whisper list. It reports
// whether the list changed.
func (s *Session) RemoveWhisperClient(id int64) bool {
	return s.removeTarget(s.whisperClients, id)
}

// AddWhisperChannel adds a channel to the whisper list.
func (s *Session) AddWhisperChannel(id int64) bool {
	return s.addTarget(s.whisperChannels, id)
}

// RemoveWhisperChannel removes a channel from the whisper list.
func (s *Session) RemoveWhisperChannel(id int64) bool {
	return s.removeTarget(s.whisperChannels, id)
}

// ClearWhisper empties both whisper lists and reports whether either held
// anything.
func (s *Session) ClearWhisper() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := len(s.whisperClients) > 0 || len(s.whisperChannels) > 0
	clear(s.whisperClients)
	clear(s.whisperChannels)
	return had
}

// WhisperTargets returns sorted copies of the whisper lists.
func (s *Session) WhisperTargets() (clients, channels []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.whisperClients), sortedKeys(s.whisperChannels)
}

// Whispering reports whether any whisper target is set.
func (s *Session) Whispering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.whisperClients) > 0 || len(s.whisperChannels) > 0
}

func (s *Session) addTarget(m map[int64]struct{}, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m[id]; ok {
		return false
	}
	m[id] = struct{}{}
	return true
}

func (s *Session) removeTarget(m map[int64]struct{}, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	return true
}
