package domain

import (
	"context"

	"github.com/m3rciful/meetupbot/core/conversation"
)

// Gateway is the record store the flows work against. Lookups that do not
// resolve to one record return a *LookupError.
type Gateway interface {
	FindActiveEvent(ctx context.Context) (Event, error)
	ListActiveEvents(ctx context.Context) ([]Event, error)
	GetEvent(ctx context.Context, id int64) (Event, error)
	// CreateEvent stores ev and, when it is active, announces it to subscribers.
	CreateEvent(ctx context.Context, ev Event) (Event, error)

	GetOrCreateParticipant(ctx context.Context, telegramID int64, defaults ParticipantDefaults) (Participant, bool, error)
	GetParticipantByTelegramID(ctx context.Context, telegramID int64) (Participant, error)
	GetParticipant(ctx context.Context, id int64) (Participant, error)
	UpdateProfile(ctx context.Context, participantID int64, name, bio string) (Participant, error)
	ToggleSubscription(ctx context.Context, participantID int64, subscribed bool) (bool, error)
	ListSubscribedParticipants(ctx context.Context) ([]Participant, error)
	// ListCandidateProfiles returns completed profiles other than the excluded one, ordered by id.
	ListCandidateProfiles(ctx context.Context, excludeParticipantID int64) ([]Participant, error)

	FindSpeakerByHandle(ctx context.Context, handle string) (Speaker, error)
	ListEventSpeakers(ctx context.Context, eventID int64) ([]Speaker, error)
	GetSpeaker(ctx context.Context, id int64) (Speaker, error)
	// GetSpeakerByTelegramID returns the lowest-id speaker linked to telegramID.
	GetSpeakerByTelegramID(ctx context.Context, telegramID int64) (Speaker, error)

	CreateQuestion(ctx context.Context, q Question) (Question, error)
	GetQuestion(ctx context.Context, id int64) (Question, error)
	// MarkQuestionAnswered toggles the flag on and reports whether it changed.
	MarkQuestionAnswered(ctx context.Context, id int64) (bool, error)
	ListUnansweredQuestions(ctx context.Context, speakerID int64) ([]Question, error)

	CreateDonation(ctx context.Context, d Donation) (Donation, error)
	// ConfirmDonation marks the donation behind paymentID paid and reports whether it changed.
	ConfirmDonation(ctx context.Context, paymentID string) (bool, error)

	// AddRegistration creates the registration or upgrades a participant
	// registration to speaker. It reports false when nothing changed.
	AddRegistration(ctx context.Context, r Registration) (bool, error)
	RemoveRegistration(ctx context.Context, participantID, eventID int64) (bool, error)
	ListRegistrations(ctx context.Context, participantID int64) ([]Registration, error)

	// CreateConnectionRequest reports false when the pair already exists.
	CreateConnectionRequest(ctx context.Context, from, to int64) (ConnectionRequest, bool, error)
}

// Messenger delivers a message to a chat outside the current update.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb *conversation.Keyboard) error
}

// Deliver sends through m and wraps any failure in a *DeliveryError.
func Deliver(ctx context.Context, m Messenger, chatID int64, text string, kb *conversation.Keyboard) error {
	if err := m.Send(ctx, chatID, text, kb); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}
