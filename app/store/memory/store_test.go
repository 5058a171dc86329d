package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetupbot/app/domain"
)

func TestFindSpeakerByHandle(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.AddSpeaker(ctx, domain.Speaker{Name: "Ann", Username: "@Ann"})
	require.NoError(t, err)
	_, err = s.AddSpeaker(ctx, domain.Speaker{Name: "Bob", Username: "bob"})
	require.NoError(t, err)
	_, err = s.AddSpeaker(ctx, domain.Speaker{Name: "Bob Two", Username: "bob"})
	require.NoError(t, err)

	sp, err := s.FindSpeakerByHandle(ctx, "ann")
	require.NoError(t, err)
	require.Equal(t, "Ann", sp.Name)

	_, err = s.FindSpeakerByHandle(ctx, "@nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.FindSpeakerByHandle(ctx, "@bob")
	require.ErrorIs(t, err, domain.ErrAmbiguous)
	var lerr *domain.LookupError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, "speaker", lerr.Entity)
}

func TestGetOrCreateParticipantLinksSpeaker(t *testing.T) {
	ctx := context.Background()
	s := New()
	sp, _ := s.AddSpeaker(ctx, domain.Speaker{Name: "Ann", Username: "ann"})

	p, created, err := s.GetOrCreateParticipant(ctx, 42, domain.ParticipantDefaults{Username: "Ann"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "Anonymous", p.Name)

	again, created, err := s.GetOrCreateParticipant(ctx, 42, domain.ParticipantDefaults{Name: "other"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, p.ID, again.ID)

	linked, err := s.GetSpeakerByTelegramID(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, sp.ID, linked.ID)
}

func TestAddSpeakerLinksExistingParticipant(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _, err := s.GetOrCreateParticipant(ctx, 900, domain.ParticipantDefaults{Username: "@ann"})
	require.NoError(t, err)

	sp, err := s.AddSpeaker(ctx, domain.Speaker{Name: "Ann", Username: "ann"})
	require.NoError(t, err)
	require.Equal(t, int64(900), sp.TelegramID)

	linked, err := s.GetSpeakerByTelegramID(ctx, 900)
	require.NoError(t, err)
	require.Equal(t, sp.ID, linked.ID)
}

func TestUpsertSpeakerByHandle(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev, _ := s.CreateEvent(ctx, domain.Event{Title: "Go meetup", IsActive: true})

	first, created, err := s.UpsertSpeaker(ctx, domain.Speaker{Name: "Ann", Username: "@ann"}, ev.ID)
	require.NoError(t, err)
	require.True(t, created)
	again, created, err := s.UpsertSpeaker(ctx, domain.Speaker{Name: "Ann Lee", Username: "ANN", Bio: "gopher"}, ev.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "Ann Lee", again.Name)

	sp, err := s.FindSpeakerByHandle(ctx, "ann")
	require.NoError(t, err)
	require.Equal(t, "gopher", sp.Bio)
	speakers, err := s.ListEventSpeakers(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, speakers, 1)
}

func TestUpsertEventByTitleAndDate(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)
	var announced int
	s.OnEventCreated(func(context.Context, domain.Event) { announced++ })

	a, created, err := s.UpsertEvent(ctx, domain.Event{Title: "Go meetup", Date: day, IsActive: true})
	require.NoError(t, err)
	require.True(t, created)
	b, created, err := s.UpsertEvent(ctx, domain.Event{Title: "Go meetup", Date: day.Add(3 * time.Hour), IsActive: true})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, a.ID, b.ID)

	_, created, err = s.UpsertEvent(ctx, domain.Event{Title: "Go meetup", Date: day.AddDate(0, 1, 0), IsActive: true})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 2, announced)
}

func TestSpeakerLookupByTelegramIDPrefersLowestID(t *testing.T) {
	ctx := context.Background()
	s := New()
	var ids []int64
	for i := 0; i < 5; i++ {
		sp, err := s.AddSpeaker(ctx, domain.Speaker{Name: "Bob", Username: "bob", TelegramID: 77})
		require.NoError(t, err)
		ids = append(ids, sp.ID)
	}
	for i := 0; i < 20; i++ {
		sp, err := s.GetSpeakerByTelegramID(ctx, 77)
		require.NoError(t, err)
		require.Equal(t, ids[0], sp.ID)
	}
	got, err := s.GetSpeaker(ctx, ids[3])
	require.NoError(t, err)
	require.Equal(t, ids[3], got.ID)
}

func TestConcurrentRegistrationsStoreOne(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev, _ := s.CreateEvent(ctx, domain.Event{Title: "Go meetup", IsActive: true})
	p, _, _ := s.GetOrCreateParticipant(ctx, 1, domain.ParticipantDefaults{Name: "A"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AddRegistration(ctx, domain.Registration{ParticipantID: p.ID, EventID: ev.ID, Role: domain.RoleParticipant})
			require.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, added)

	regs, err := s.ListRegistrations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, "Go meetup", regs[0].EventTitle)

	removed, err := s.RemoveRegistration(ctx, p.ID, ev.ID)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = s.RemoveRegistration(ctx, p.ID, ev.ID)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestSpeakerRegistrationMarksParticipant(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev, _ := s.CreateEvent(ctx, domain.Event{Title: "Go meetup", IsActive: true})
	p, _, _ := s.GetOrCreateParticipant(ctx, 7, domain.ParticipantDefaults{Username: "carol"})

	ok, err := s.AddRegistration(ctx, domain.Registration{ParticipantID: p.ID, EventID: ev.ID, Role: domain.RoleSpeaker})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.IsSpeaker)
}

func TestRegistrationUpgradesToSpeaker(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev, _ := s.CreateEvent(ctx, domain.Event{Title: "Go meetup", IsActive: true})
	p, _, _ := s.GetOrCreateParticipant(ctx, 8, domain.ParticipantDefaults{Username: "dave"})

	ok, err := s.AddRegistration(ctx, domain.Registration{ParticipantID: p.ID, EventID: ev.ID, Role: domain.RoleParticipant})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.AddRegistration(ctx, domain.Registration{ParticipantID: p.ID, EventID: ev.ID, Role: domain.RoleSpeaker})
	require.NoError(t, err)
	require.True(t, ok)

	// a speaker is never downgraded
	ok, err = s.AddRegistration(ctx, domain.Registration{ParticipantID: p.ID, EventID: ev.ID, Role: domain.RoleParticipant})
	require.NoError(t, err)
	require.False(t, ok)

	regs, err := s.ListRegistrations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, domain.RoleSpeaker, regs[0].Role)
	got, err := s.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.IsSpeaker)
}

func TestOnEventCreatedFiresForActiveEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	var seen []string
	s.OnEventCreated(func(_ context.Context, ev domain.Event) { seen = append(seen, ev.Title) })

	_, err := s.CreateEvent(ctx, domain.Event{Title: "draft"})
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, domain.Event{Title: "launch", IsActive: true, Date: time.Now()})
	require.NoError(t, err)
	require.Equal(t, []string{"launch"}, seen)
}

func TestQuestionAnsweredOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	q, err := s.CreateQuestion(ctx, domain.Question{SpeakerID: 3, Text: "why?"})
	require.NoError(t, err)

	open, _ := s.ListUnansweredQuestions(ctx, 3)
	require.Len(t, open, 1)

	changed, err := s.MarkQuestionAnswered(ctx, q.ID)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = s.MarkQuestionAnswered(ctx, q.ID)
	require.NoError(t, err)
	require.False(t, changed)

	_, err = s.MarkQuestionAnswered(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDonationConfirm(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateDonation(ctx, domain.Donation{Amount: 100, PaymentID: "pay-1"})
	require.NoError(t, err)
	// same payment id is not stored twice
	_, err = s.CreateDonation(ctx, domain.Donation{Amount: 100, PaymentID: "pay-1"})
	require.NoError(t, err)
	require.Len(t, s.Donations(), 1)

	changed, err := s.ConfirmDonation(ctx, "pay-1")
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = s.ConfirmDonation(ctx, "pay-1")
	require.NoError(t, err)
	require.False(t, changed)

	_, err = s.ConfirmDonation(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCandidateProfilesExcludeSelfAndIncomplete(t *testing.T) {
	ctx := context.Background()
	s := New()
	me, _, _ := s.GetOrCreateParticipant(ctx, 1, domain.ParticipantDefaults{Name: "me"})
	_, err := s.UpdateProfile(ctx, me.ID, "me", "gopher")
	require.NoError(t, err)
	other, _, _ := s.GetOrCreateParticipant(ctx, 2, domain.ParticipantDefaults{Name: "other"})
	_, err = s.UpdateProfile(ctx, other.ID, "other", "rustacean")
	require.NoError(t, err)
	_, _, _ = s.GetOrCreateParticipant(ctx, 3, domain.ParticipantDefaults{Name: "silent"})

	got, err := s.ListCandidateProfiles(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, other.ID, got[0].ID)

	cr, created, err := s.CreateConnectionRequest(ctx, me.ID, other.ID)
	require.NoError(t, err)
	require.True(t, created)
	again, created, err := s.CreateConnectionRequest(ctx, me.ID, other.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, cr.ID, again.ID)
}
