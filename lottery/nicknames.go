package lottery

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"loki/models"
)

var (
	ErrNoSuchNickname    = errors.New("no such nickname")
	ErrDuplicateNickname = errors.New("nickname already registered")
	ErrNicknameTooLong   = errors.New("nickname too long")
	ErrEmptyNickname     = errors.New("nickname is empty")
	ErrInvalidInterval   = errors.New("invalid interval")
)

// AddNickname registers a nickname for the user and returns its position,
// counting from 1.
func (l *Lottery) AddNickname(ctx context.Context, guildID, userID, nickname, authorID string) (int, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return 0, ErrEmptyNickname
	}
	if utf8.RuneCountInString(nickname) > models.MaxNicknameLength {
		return 0, ErrNicknameTooLong
	}

	var position int
	err := l.store.Update(ctx, guildID, func(g *models.Guild) error {
		data := g.LotteryData()
		for _, entry := range data.Nicknames[userID] {
			if entry.Text == nickname {
				return ErrDuplicateNickname
			}
		}
		if data.Nicknames == nil {
			data.Nicknames = make(map[string][]models.NicknameEntry)
		}
		data.Nicknames[userID] = append(data.Nicknames[userID], models.NicknameEntry{
			Text:      nickname,
			Author:    authorID,
			CreatedAt: l.clock.Now(),
		})
		position = len(data.Nicknames[userID])
		return nil
	})
	if err != nil {
		return 0, err
	}
	log := l.guildLog(guildID)
	log.Debug().Str("user", userID).Int("position", position).Msg("Added nickname.")
	return position, nil
}

// RemoveNickname removes the user's nth nickname, counting from 1.
func (l *Lottery) RemoveNickname(ctx context.Context, guildID, userID string, n int) (models.NicknameEntry, error) {
	var removed models.NicknameEntry
	err := l.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.NicknameLottery == nil {
			return ErrNoSuchNickname
		}
		entries := g.NicknameLottery.Nicknames[userID]
		if n < 1 || n > len(entries) {
			return ErrNoSuchNickname
		}
		removed = entries[n-1]
		entries = append(entries[:n-1:n-1], entries[n:]...)
		if len(entries) == 0 {
			delete(g.NicknameLottery.Nicknames, userID)
		} else {
			g.NicknameLottery.Nicknames[userID] = entries
		}
		return nil
	})
	return removed, err
}

// SetNicknameContext attaches a note to the user's nth nickname.
func (l *Lottery) SetNicknameContext(ctx context.Context, guildID, userID string, n int, note string) error {
	return l.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.NicknameLottery == nil {
			return ErrNoSuchNickname
		}
		entries := g.NicknameLottery.Nicknames[userID]
		if n < 1 || n > len(entries) {
			return ErrNoSuchNickname
		}
		entries[n-1].Context = note
		return nil
	})
}

// Nicknames lists the user's nicknames in registration order.
func (l *Lottery) Nicknames(guildID, userID string) []models.NicknameEntry {
	data, _ := l.data(guildID)
	return data.Nicknames[userID]
}

// Nickname returns the user's nth nickname, counting from 1.
func (l *Lottery) Nickname(guildID, userID string, n int) (models.NicknameEntry, error) {
	entries := l.Nicknames(guildID, userID)
	if n < 1 || n > len(entries) {
		return models.NicknameEntry{}, ErrNoSuchNickname
	}
	return entries[n-1], nil
}

// SetRefreshInterval overrides the guild's draw interval, in seconds. It
// takes effect from the next draw.
func (l *Lottery) SetRefreshInterval(ctx context.Context, guildID string, minSeconds, maxSeconds int64) error {
	interval := models.Interval{Min: minSeconds, Max: maxSeconds}
	if !interval.Valid() {
		return ErrInvalidInterval
	}
	return l.store.Update(ctx, guildID, func(g *models.Guild) error {
		g.LotteryData().RefreshInterval = &interval
		return nil
	})
}

// ResetRefreshInterval returns the guild to the default draw interval.
func (l *Lottery) ResetRefreshInterval(ctx context.Context, guildID string) error {
	return l.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.NicknameLottery != nil {
			g.NicknameLottery.RefreshInterval = nil
		}
		return nil
	})
}

// Interval returns the guild's draw interval, and whether the guild
// overrides the default.
func (l *Lottery) Interval(guildID string) (models.Interval, bool) {
	return l.interval(guildID)
}

// ConfigureAnnouncements updates where and under which title changes are
// announced. Empty arguments are left as they are. It returns the
// resulting channel and title.
func (l *Lottery) ConfigureAnnouncements(ctx context.Context, guildID, channelID, title string) (string, string, error) {
	var channel, heading string
	err := l.store.Update(ctx, guildID, func(g *models.Guild) error {
		data := g.LotteryData()
		if channelID != "" {
			data.AnnouncementChannelID = channelID
		}
		if title != "" {
			data.TitleOverride = title
		}
		channel, heading = data.AnnouncementChannelID, data.Title()
		return nil
	})
	return channel, heading, err
}

// StopAnnouncements forgets the announcement channel and title.
func (l *Lottery) StopAnnouncements(ctx context.Context, guildID string) error {
	return l.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.NicknameLottery != nil {
			g.NicknameLottery.AnnouncementChannelID = ""
			g.NicknameLottery.TitleOverride = ""
		}
		return nil
	})
}
