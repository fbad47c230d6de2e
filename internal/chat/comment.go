// Package chat provides the comment model and the bounded priority
// admission queue that gates comments into the response pipeline.
package chat

import (
	"fmt"
	"time"
)

// Platform identifies the streaming service a comment came from.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformTwitch   Platform = "twitch"
	PlatformNiconico Platform = "niconico"
)

// Comment is one chat message from any platform. Fields are fixed at
// construction; Priority is derived once and never recomputed.
type Comment struct {
	ID               string
	Platform         Platform
	UserID           string
	UserName         string
	Message          string
	Timestamp        time.Time
	IsMember         bool
	IsModerator      bool
	DonationAmount   int // smallest currency unit, 0 = none
	DonationCurrency string
	Priority         int
}

// NewComment builds a Comment and derives its priority:
// donations score 100 plus an amount bonus capped at 100, members +20,
// moderators +10. Plain comments score 0.
func NewComment(id string, platform Platform, userID, userName, message string) Comment {
	c := Comment{
		ID:        id,
		Platform:  platform,
		UserID:    userID,
		UserName:  userName,
		Message:   message,
		Timestamp: time.Now(),
	}
	c.Priority = c.calculatePriority()
	return c
}

// WithDonation returns a copy carrying a donation and a recomputed priority.
func (c Comment) WithDonation(amount int, currency string) Comment {
	c.DonationAmount = amount
	c.DonationCurrency = currency
	c.Priority = c.calculatePriority()
	return c
}

// WithFlags returns a copy with member/moderator flags and a recomputed priority.
func (c Comment) WithFlags(member, moderator bool) Comment {
	c.IsMember = member
	c.IsModerator = moderator
	c.Priority = c.calculatePriority()
	return c
}

// WithPriority returns a copy with an explicit caller-supplied priority,
// overriding the derived value.
func (c Comment) WithPriority(p int) Comment {
	c.Priority = p
	return c
}

func (c Comment) calculatePriority() int {
	p := 0
	if c.DonationAmount > 0 {
		bonus := c.DonationAmount / 100
		if bonus > 100 {
			bonus = 100
		}
		p += 100 + bonus
	}
	if c.IsMember {
		p += 20
	}
	if c.IsModerator {
		p += 10
	}
	return p
}

func (c Comment) String() string {
	msg := c.Message
	// Truncate on runes so multi-byte text is never split mid-character.
	if runes := []rune(msg); len(runes) > 30 {
		msg = string(runes[:30]) + "..."
	}
	return fmt.Sprintf("Comment(user=%q, message=%q, priority=%d)", c.UserName, msg, c.Priority)
}
