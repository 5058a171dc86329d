// Package domain holds the meetup records and the gateway the flows use to reach them.
package domain

import (
	"strings"
	"time"

	"github.com/m3rciful/meetupbot/core/telegram/format"
)

// Role of a registration.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleSpeaker     Role = "speaker"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleParticipant || r == RoleSpeaker
}

// Event is a meetup.
type Event struct {
	ID          int64     `db:"id" yaml:"id"`
	Title       string    `db:"title" yaml:"title"`
	Description string    `db:"description" yaml:"description"`
	Date        time.Time `db:"date" yaml:"date"`
	IsActive    bool      `db:"is_active" yaml:"is_active"`
}

// Participant is a bot user. TelegramID is unique.
type Participant struct {
	ID             int64     `db:"id"`
	TelegramID     int64     `db:"telegram_id"`
	Username       string    `db:"telegram_username"`
	Name           string    `db:"name"`
	Bio            string    `db:"bio"`
	IsSpeaker      bool      `db:"is_speaker"`
	IsEventManager bool      `db:"is_event_manager"`
	IsSubscribed   bool      `db:"is_subscribed"`
	CreatedAt      time.Time `db:"created_at"`
}

// ProfileComplete reports whether the participant is shown when browsing profiles.
func (p Participant) ProfileComplete() bool {
	return strings.TrimSpace(p.Bio) != ""
}

// ParticipantDefaults fills a participant created on first contact.
type ParticipantDefaults struct {
	Username string
	Name     string
}

// Speaker is matched by Telegram handle. TelegramID is 0 until the speaker talks to the bot.
type Speaker struct {
	ID         int64  `db:"id" yaml:"id"`
	Name       string `db:"name" yaml:"name"`
	Username   string `db:"telegram_username" yaml:"username"`
	TelegramID int64  `db:"telegram_id" yaml:"telegram_id"`
	Bio        string `db:"bio" yaml:"bio"`
}

// Question is routed from a participant to a speaker.
type Question struct {
	ID            int64     `db:"id"`
	EventID       int64     `db:"event_id"`
	SpeakerID     int64     `db:"speaker_id"`
	ParticipantID int64     `db:"participant_id"`
	Text          string    `db:"text"`
	IsAnswered    bool      `db:"is_answered"`
	CreatedAt     time.Time `db:"created_at"`
}

// Donation references the payment created for it. IsConfirmed flips when the provider reports success.
type Donation struct {
	ID            int64     `db:"id"`
	EventID       int64     `db:"event_id"`
	ParticipantID int64     `db:"participant_id"`
	Amount        int64     `db:"amount"`
	PaymentID     string    `db:"payment_id"`
	IsConfirmed   bool      `db:"is_confirmed"`
	CreatedAt     time.Time `db:"created_at"`
}

// Registration links a participant to an event. (ParticipantID, EventID) is unique.
type Registration struct {
	ParticipantID int64     `db:"participant_id"`
	EventID       int64     `db:"event_id"`
	Role          Role      `db:"role"`
	EventTitle    string    `db:"event_title"`
	CreatedAt     time.Time `db:"created_at"`
}

// ConnectionRequest is a networking contact request. (ParticipantID, TargetID) is unique.
type ConnectionRequest struct {
	ID            int64     `db:"id"`
	ParticipantID int64     `db:"participant_id"`
	TargetID      int64     `db:"target_id"`
	IsAccepted    bool      `db:"is_accepted"`
	CreatedAt     time.Time `db:"created_at"`
}

// NormalizeHandle reduces "@Alice" or a t.me link to the lowercase username.
func NormalizeHandle(h string) string {
	return format.NormalizeHandle(h)
}
