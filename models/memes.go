package models

import "time"

// CycleLength is the length of a single meme contest.
const CycleLength = 7 * 24 * time.Hour

// MemeCycle represents a guild's meme contest.
type MemeCycle struct {
	ChannelID       string         `json:"channel"`
	CycleStart      time.Time      `json:"cycle_start"`
	AnchorMessageID string         `json:"anchor_message,omitempty"`
	TrackedMessages []string       `json:"tracked_messages,omitempty"`
	SelfReacted     bool           `json:"self_reacted"`
	Victories       map[string]int `json:"victories,omitempty"`

	// Draining holds entries taken out of TrackedMessages by a reset that
	// hasn't published its result yet.
	Draining []string `json:"draining,omitempty"`
	// ResultMessageID is the placeholder result message of an unfinished
	// reset.
	ResultMessageID string `json:"result_message,omitempty"`
}

// NewMemeCycle starts a fresh contest in the given channel.
func NewMemeCycle(channelID string, now time.Time) *MemeCycle {
	return &MemeCycle{
		ChannelID:  channelID,
		CycleStart: now,
		Victories:  make(map[string]int),
	}
}

// NextReset is the time at which the current contest ends.
func (m *MemeCycle) NextReset() time.Time {
	return m.CycleStart.Add(CycleLength)
}

// LastSeen returns the id pagination should resume after: the newest
// tracked message, or the anchor if nothing is tracked.
func (m *MemeCycle) LastSeen() string {
	if n := len(m.TrackedMessages); n > 0 {
		return m.TrackedMessages[n-1]
	}
	return m.AnchorMessageID
}

// Tracks reports whether the message id is already tracked or draining.
func (m *MemeCycle) Tracks(messageID string) bool {
	for _, id := range m.TrackedMessages {
		if id == messageID {
			return true
		}
	}
	for _, id := range m.Draining {
		if id == messageID {
			return true
		}
	}
	return false
}

// Track appends the message id unless it's already known. It returns
// whether the id was added.
func (m *MemeCycle) Track(messageID string) bool {
	if m.Tracks(messageID) {
		return false
	}
	m.TrackedMessages = append(m.TrackedMessages, messageID)
	return true
}

// AddVictory records a win for the user.
func (m *MemeCycle) AddVictory(userID string) int {
	if m.Victories == nil {
		m.Victories = make(map[string]int)
	}
	m.Victories[userID]++
	return m.Victories[userID]
}

// Clone returns a deep copy.
func (m *MemeCycle) Clone() MemeCycle {
	c := *m
	c.TrackedMessages = append([]string(nil), m.TrackedMessages...)
	c.Draining = append([]string(nil), m.Draining...)
	if m.Victories != nil {
		c.Victories = make(map[string]int, len(m.Victories))
		for k, v := range m.Victories {
			c.Victories[k] = v
		}
	}
	return c
}
