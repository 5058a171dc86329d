package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/app/store/memory"
	"github.com/m3rciful/meetupbot/core/conversation"
)

type fakeMessenger struct {
	mu    sync.Mutex
	fail  map[int64]bool
	block map[int64]bool
	sent  map[int64][]string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{fail: map[int64]bool{}, block: map[int64]bool{}, sent: map[int64][]string{}}
}

func (f *fakeMessenger) Send(ctx context.Context, chatID int64, text string, _ *conversation.Keyboard) error {
	f.mu.Lock()
	fail, block := f.fail[chatID], f.block[chatID]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("blocked by user")
	}
	f.mu.Lock()
	f.sent[chatID] = append(f.sent[chatID], text)
	f.mu.Unlock()
	return nil
}

func subscribe(t *testing.T, s *memory.Store, telegramID int64) {
	t.Helper()
	p, _, err := s.GetOrCreateParticipant(context.Background(), telegramID, domain.ParticipantDefaults{Name: "p"})
	require.NoError(t, err)
	_, err = s.ToggleSubscription(context.Background(), p.ID, true)
	require.NoError(t, err)
}

func TestNotifySubscribersSkipsFailures(t *testing.T) {
	s := memory.New()
	for _, id := range []int64{1, 2, 3, 4} {
		subscribe(t, s, id)
	}
	// not subscribed
	_, _, _ = s.GetOrCreateParticipant(context.Background(), 5, domain.ParticipantDefaults{})

	m := newFakeMessenger()
	m.fail[2] = true
	m.block[3] = true

	n := New(s, m, Options{Workers: 2, Timeout: 50 * time.Millisecond})
	sent, err := n.NotifySubscribers(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Equal(t, []string{"hello"}, m.sent[1])
	require.Equal(t, []string{"hello"}, m.sent[4])
	require.Empty(t, m.sent[5])
}

func TestNotifySubscribersEmpty(t *testing.T) {
	n := New(memory.New(), newFakeMessenger(), Options{})
	sent, err := n.NotifySubscribers(context.Background(), "hello")
	require.NoError(t, err)
	require.Zero(t, sent)
}

func TestAnnounceEventOnCreate(t *testing.T) {
	s := memory.New()
	subscribe(t, s, 10)
	m := newFakeMessenger()
	n := New(s, m, Options{})
	s.OnEventCreated(n.AnnounceEvent)

	_, err := s.CreateEvent(context.Background(), domain.Event{Title: "Go meetup", IsActive: true})
	require.NoError(t, err)
	require.Len(t, m.sent[10], 1)
	require.Contains(t, m.sent[10][0], "Go meetup")
}
