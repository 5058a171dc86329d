// Package memory is an in-process Gateway for local runs and tests.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/logger"
)

type pair struct{ a, b int64 }

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	// upsertMu serializes UpsertEvent, which releases mu to run event hooks.
	upsertMu sync.Mutex

	seq int64

	events        map[int64]domain.Event
	participants  map[int64]domain.Participant
	byTelegram    map[int64]int64
	speakers      map[int64]domain.Speaker
	eventSpeakers map[int64][]int64
	questions     map[int64]domain.Question
	donations     map[int64]domain.Donation
	registrations map[pair]domain.Registration
	connections   map[pair]domain.ConnectionRequest

	onEvent []EventHook
}

var _ domain.Gateway = (*Store)(nil)

// EventHook observes newly created active events.
type EventHook func(ctx context.Context, ev domain.Event)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:           time.Now,
		events:        make(map[int64]domain.Event),
		participants:  make(map[int64]domain.Participant),
		byTelegram:    make(map[int64]int64),
		speakers:      make(map[int64]domain.Speaker),
		eventSpeakers: make(map[int64][]int64),
		questions:     make(map[int64]domain.Question),
		donations:     make(map[int64]domain.Donation),
		registrations: make(map[pair]domain.Registration),
		connections:   make(map[pair]domain.ConnectionRequest),
	}
}

// OnEventCreated registers fn to run after an active event is created.
// Hooks run synchronously outside the store lock.
func (s *Store) OnEventCreated(fn EventHook) {
	s.mu.Lock()
	s.onEvent = append(s.onEvent, fn)
	s.mu.Unlock()
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

// AddSpeaker stores sp and links it to the given events. A speaker without a
// Telegram id is linked to an existing participant with the same handle.
func (s *Store) AddSpeaker(_ context.Context, sp domain.Speaker, eventIDs ...int64) (domain.Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSpeaker(sp, eventIDs), nil
}

func (s *Store) addSpeaker(sp domain.Speaker, eventIDs []int64) domain.Speaker {
	if sp.ID == 0 {
		sp.ID = s.next()
	} else if sp.ID > s.seq {
		s.seq = sp.ID
	}
	sp.Username = domain.NormalizeHandle(sp.Username)
	if sp.TelegramID == 0 {
		sp.TelegramID = s.participantByHandle(sp.Username).TelegramID
	}
	s.speakers[sp.ID] = sp
	s.linkEvents(sp.ID, eventIDs)
	return sp
}

// UpsertSpeaker updates the lowest-id speaker with sp's handle, or adds sp
// when the handle is new. It reports whether a record was created.
func (s *Store) UpsertSpeaker(_ context.Context, sp domain.Speaker, eventIDs ...int64) (domain.Speaker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := domain.NormalizeHandle(sp.Username)
	found := s.speakersWhere(func(x domain.Speaker) bool { return h != "" && x.Username == h })
	if len(found) == 0 {
		return s.addSpeaker(sp, eventIDs), true, nil
	}
	cur := found[0]
	if sp.Name != "" {
		cur.Name = sp.Name
	}
	if sp.Bio != "" {
		cur.Bio = sp.Bio
	}
	if cur.TelegramID == 0 {
		cur.TelegramID = sp.TelegramID
	}
	if cur.TelegramID == 0 {
		cur.TelegramID = s.participantByHandle(h).TelegramID
	}
	s.speakers[cur.ID] = cur
	s.linkEvents(cur.ID, eventIDs)
	return cur, false, nil
}

func (s *Store) linkEvents(speakerID int64, eventIDs []int64) {
	for _, id := range eventIDs {
		if !slices.Contains(s.eventSpeakers[id], speakerID) {
			s.eventSpeakers[id] = append(s.eventSpeakers[id], speakerID)
		}
	}
}

// participantByHandle returns the lowest-id participant using handle, or a zero value.
func (s *Store) participantByHandle(handle string) domain.Participant {
	if handle == "" {
		return domain.Participant{}
	}
	match := s.filterParticipants(func(p domain.Participant) bool { return p.Username == handle })
	if len(match) == 0 {
		return domain.Participant{}
	}
	return match[0]
}

// speakersWhere returns matching speakers ordered by id.
func (s *Store) speakersWhere(keep func(domain.Speaker) bool) []domain.Speaker {
	var out []domain.Speaker
	for _, sp := range s.speakers {
		if keep(sp) {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetEventManager flips the mailing permission of a participant.
func (s *Store) SetEventManager(_ context.Context, participantID int64, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.NotFound("participant", participantID)
	}
	p.IsEventManager = v
	s.participants[participantID] = p
	return nil
}

func (s *Store) FindActiveEvent(_ context.Context) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.activeEvents()
	if len(active) == 0 {
		return domain.Event{}, domain.NotFound("event", "active")
	}
	return active[0], nil
}

func (s *Store) ListActiveEvents(_ context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeEvents(), nil
}

// activeEvents orders by date, then id.
func (s *Store) activeEvents() []domain.Event {
	var out []domain.Event
	for _, ev := range s.events {
		if ev.IsActive {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) GetEvent(_ context.Context, id int64) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.NotFound("event", id)
	}
	return ev, nil
}

func (s *Store) CreateEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	s.mu.Lock()
	if ev.ID == 0 {
		ev.ID = s.next()
	} else if ev.ID > s.seq {
		s.seq = ev.ID
	}
	s.events[ev.ID] = ev
	hooks := append([]EventHook(nil), s.onEvent...)
	s.mu.Unlock()

	logger.LogEvent(ctx, logger.Gateway, slog.LevelInfo, "event.created",
		slog.Int64("event_id", ev.ID),
		slog.Bool("active", ev.IsActive),
	)
	if ev.IsActive {
		for _, fn := range hooks {
			fn(ctx, ev)
		}
	}
	return ev, nil
}

// UpsertEvent returns the lowest-id event with ev's title and date, creating
// ev when there is none.
func (s *Store) UpsertEvent(ctx context.Context, ev domain.Event) (domain.Event, bool, error) {
	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()
	s.mu.RLock()
	var existing *domain.Event
	for _, cur := range s.events {
		if cur.Title == ev.Title && sameDay(cur.Date, ev.Date) && (existing == nil || cur.ID < existing.ID) {
			cur := cur
			existing = &cur
		}
	}
	s.mu.RUnlock()
	if existing != nil {
		return *existing, false, nil
	}
	created, err := s.CreateEvent(ctx, ev)
	return created, err == nil, err
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Store) GetOrCreateParticipant(_ context.Context, telegramID int64, d domain.ParticipantDefaults) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byTelegram[telegramID]; ok {
		return s.participants[id], false, nil
	}
	name := d.Name
	if name == "" {
		name = "Anonymous"
	}
	p := domain.Participant{
		ID:         s.next(),
		TelegramID: telegramID,
		Username:   domain.NormalizeHandle(d.Username),
		Name:       name,
		CreatedAt:  s.now(),
	}
	s.participants[p.ID] = p
	s.byTelegram[telegramID] = p.ID
	s.linkSpeaker(p)
	return p, true, nil
}

// linkSpeaker records the Telegram id of a speaker whose handle matches p.
func (s *Store) linkSpeaker(p domain.Participant) {
	if p.Username == "" {
		return
	}
	for id, sp := range s.speakers {
		if sp.Username == p.Username && sp.TelegramID == 0 {
			sp.TelegramID = p.TelegramID
			s.speakers[id] = sp
		}
	}
}

func (s *Store) GetParticipantByTelegramID(_ context.Context, telegramID int64) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTelegram[telegramID]
	if !ok {
		return domain.Participant{}, domain.NotFound("participant", telegramID)
	}
	return s.participants[id], nil
}

func (s *Store) GetParticipant(_ context.Context, id int64) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.NotFound("participant", id)
	}
	return p, nil
}

func (s *Store) UpdateProfile(_ context.Context, participantID int64, name, bio string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.NotFound("participant", participantID)
	}
	p.Name, p.Bio = name, bio
	s.participants[participantID] = p
	return p, nil
}

func (s *Store) ToggleSubscription(_ context.Context, participantID int64, subscribed bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return false, domain.NotFound("participant", participantID)
	}
	changed := p.IsSubscribed != subscribed
	p.IsSubscribed = subscribed
	s.participants[participantID] = p
	return changed, nil
}

func (s *Store) ListSubscribedParticipants(_ context.Context) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterParticipants(func(p domain.Participant) bool { return p.IsSubscribed }), nil
}

func (s *Store) ListCandidateProfiles(_ context.Context, exclude int64) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterParticipants(func(p domain.Participant) bool {
		return p.ID != exclude && p.ProfileComplete()
	}), nil
}

func (s *Store) filterParticipants(keep func(domain.Participant) bool) []domain.Participant {
	var out []domain.Participant
	for _, p := range s.participants {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) FindSpeakerByHandle(_ context.Context, handle string) (domain.Speaker, error) {
	h := domain.NormalizeHandle(handle)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []domain.Speaker
	for _, sp := range s.speakers {
		if h != "" && sp.Username == h {
			found = append(found, sp)
		}
	}
	switch len(found) {
	case 0:
		return domain.Speaker{}, domain.NotFound("speaker", "@"+h)
	case 1:
		return found[0], nil
	default:
		return domain.Speaker{}, domain.Ambiguous("speaker", "@"+h)
	}
}

func (s *Store) ListEventSpeakers(_ context.Context, eventID int64) ([]domain.Speaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Speaker
	for _, id := range s.eventSpeakers[eventID] {
		out = append(out, s.speakers[id])
	}
	return out, nil
}

func (s *Store) GetSpeaker(_ context.Context, id int64) (domain.Speaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.speakers[id]
	if !ok {
		return domain.Speaker{}, domain.NotFound("speaker", id)
	}
	return sp, nil
}

func (s *Store) GetSpeakerByTelegramID(_ context.Context, telegramID int64) (domain.Speaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.speakersWhere(func(sp domain.Speaker) bool { return telegramID != 0 && sp.TelegramID == telegramID })
	if len(found) == 0 {
		return domain.Speaker{}, domain.NotFound("speaker", telegramID)
	}
	return found[0], nil
}

func (s *Store) CreateQuestion(_ context.Context, q domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = s.next()
	q.CreatedAt = s.now()
	s.questions[q.ID] = q
	return q, nil
}

func (s *Store) GetQuestion(_ context.Context, id int64) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.NotFound("question", id)
	}
	return q, nil
}

func (s *Store) MarkQuestionAnswered(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return false, domain.NotFound("question", id)
	}
	if q.IsAnswered {
		return false, nil
	}
	q.IsAnswered = true
	s.questions[id] = q
	return true, nil
}

func (s *Store) ListUnansweredQuestions(_ context.Context, speakerID int64) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Question
	for _, q := range s.questions {
		if q.SpeakerID == speakerID && !q.IsAnswered {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateDonation(_ context.Context, d domain.Donation) (domain.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.donations {
		if d.PaymentID != "" && existing.PaymentID == d.PaymentID {
			return existing, nil
		}
	}
	d.ID = s.next()
	d.CreatedAt = s.now()
	s.donations[d.ID] = d
	return d, nil
}

func (s *Store) ConfirmDonation(_ context.Context, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.donations {
		if d.PaymentID != paymentID {
			continue
		}
		if d.IsConfirmed {
			return false, nil
		}
		d.IsConfirmed = true
		s.donations[id] = d
		return true, nil
	}
	return false, domain.NotFound("donation", paymentID)
}

// Donations returns every donation ordered by id.
func (s *Store) Donations() []domain.Donation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Donation, 0, len(s.donations))
	for _, d := range s.donations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Questions returns every question ordered by id.
func (s *Store) Questions() []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AddRegistration(_ context.Context, r domain.Registration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[r.ParticipantID]
	if !ok {
		return false, domain.NotFound("participant", r.ParticipantID)
	}
	ev, ok := s.events[r.EventID]
	if !ok {
		return false, domain.NotFound("event", r.EventID)
	}
	if !r.Role.Valid() {
		r.Role = domain.RoleParticipant
	}
	key := pair{r.ParticipantID, r.EventID}
	if cur, dup := s.registrations[key]; dup {
		// only participant -> speaker is an upgrade
		if cur.Role == r.Role || r.Role != domain.RoleSpeaker {
			return false, nil
		}
		cur.Role = r.Role
		r = cur
	} else {
		r.CreatedAt = s.now()
	}
	r.EventTitle = ev.Title
	s.registrations[key] = r
	if r.Role == domain.RoleSpeaker && !p.IsSpeaker {
		p.IsSpeaker = true
		s.participants[p.ID] = p
		s.linkSpeaker(p)
	}
	return true, nil
}

func (s *Store) RemoveRegistration(_ context.Context, participantID, eventID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{participantID, eventID}
	if _, ok := s.registrations[key]; !ok {
		return false, nil
	}
	delete(s.registrations, key)
	return true, nil
}

func (s *Store) ListRegistrations(_ context.Context, participantID int64) ([]domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Registration
	for k, r := range s.registrations {
		if k.a == participantID {
			r.EventTitle = s.events[k.b].Title
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *Store) CreateConnectionRequest(_ context.Context, from, to int64) (domain.ConnectionRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[to]; !ok {
		return domain.ConnectionRequest{}, false, domain.NotFound("participant", to)
	}
	key := pair{from, to}
	if cr, ok := s.connections[key]; ok {
		return cr, false, nil
	}
	cr := domain.ConnectionRequest{ID: s.next(), ParticipantID: from, TargetID: to, CreatedAt: s.now()}
	s.connections[key] = cr
	return cr, true, nil
}
