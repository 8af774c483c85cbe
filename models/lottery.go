package models

import (
	"sort"
	"time"
)

// MaxNicknameLength is the longest nickname, in characters, the lottery
// accepts.
const MaxNicknameLength = 30

// DefaultLotteryTitle heads nickname change announcements.
const DefaultLotteryTitle = "Bot demands new nickname"

// Interval is a range of seconds between nickname draws.
type Interval struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// MaxIntervalSeconds bounds both ends of an interval to a year.
const MaxIntervalSeconds = 366 * 24 * 60 * 60

// Valid reports whether the interval is usable.
func (i Interval) Valid() bool {
	return i.Min > 0 && i.Min <= i.Max && i.Max <= MaxIntervalSeconds
}

// MinDuration returns the lower bound as a duration.
func (i Interval) MinDuration() time.Duration {
	return time.Duration(i.Min) * time.Second
}

// NicknameEntry is a single nickname a user may be given.
type NicknameEntry struct {
	Text      string    `json:"nickname"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"time,omitempty"`
	Context   string    `json:"context,omitempty"`
}

// NicknameLottery holds a guild's nickname lottery data and configuration.
type NicknameLottery struct {
	Nicknames             map[string][]NicknameEntry `json:"user_specific_nicknames,omitempty"`
	RefreshInterval       *Interval                  `json:"refresh_interval,omitempty"`
	AnnouncementChannelID string                     `json:"channel,omitempty"`
	TitleOverride         string                     `json:"title_override,omitempty"`
}

// Title returns the announcement title.
func (n *NicknameLottery) Title() string {
	if n.TitleOverride != "" {
		return n.TitleOverride
	}
	return DefaultLotteryTitle
}

// Users returns the ids of every user with at least one nickname, sorted.
func (n *NicknameLottery) Users() []string {
	users := make([]string, 0, len(n.Nicknames))
	for id, entries := range n.Nicknames {
		if len(entries) > 0 {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// Clone returns a deep copy.
func (n *NicknameLottery) Clone() NicknameLottery {
	c := *n
	if n.RefreshInterval != nil {
		i := *n.RefreshInterval
		c.RefreshInterval = &i
	}
	if n.Nicknames != nil {
		c.Nicknames = make(map[string][]NicknameEntry, len(n.Nicknames))
		for k, v := range n.Nicknames {
			c.Nicknames[k] = append([]NicknameEntry(nil), v...)
		}
	}
	return c
}
