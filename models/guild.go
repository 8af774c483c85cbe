package models

import "time"

// Guild is the persisted document for a single guild. Nested records are
// stored as JSON columns so each guild is saved and loaded as a whole.
type Guild struct {
	ID string `gorm:"primaryKey"`
	// StartedBy holds the instance id of the process that last started this
	// guild's workflows.
	StartedBy       string
	Memes           *MemeCycle       `gorm:"serializer:json"`
	NicknameLottery *NicknameLottery `gorm:"serializer:json"`
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the guild document.
func (g *Guild) Clone() Guild {
	c := *g
	if g.Memes != nil {
		m := g.Memes.Clone()
		c.Memes = &m
	}
	if g.NicknameLottery != nil {
		n := g.NicknameLottery.Clone()
		c.NicknameLottery = &n
	}
	return c
}

// LotteryData returns the guild's nickname lottery record, creating it if
// it doesn't exist yet.
func (g *Guild) LotteryData() *NicknameLottery {
	if g.NicknameLottery == nil {
		g.NicknameLottery = &NicknameLottery{}
	}
	return g.NicknameLottery
}
