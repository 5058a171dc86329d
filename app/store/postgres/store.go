// Package postgres is the sqlx-backed Gateway. Per-record writes rely on
// unique constraints and single-statement upserts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/meetupbot/app/domain"
	coredatabase "github.com/m3rciful/meetupbot/core/database"
	"github.com/m3rciful/meetupbot/core/logger"
)

// EventsChannel is the NOTIFY channel fed by the events insert trigger.
const EventsChannel = "events_created"

// Store implements domain.Gateway on postgres.
type Store struct {
	db *sqlx.DB
}

var _ domain.Gateway = (*Store)(nil)

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const (
	participantCols = `id, telegram_id, telegram_username, name, bio, is_speaker, is_event_manager, is_subscribed, created_at`
	speakerCols     = `s.id, s.name, s.telegram_username, COALESCE(s.telegram_id, 0) AS telegram_id, s.bio`
	questionCols    = `id, event_id, speaker_id, participant_id, text, is_answered, created_at`
)

// one maps sql.ErrNoRows to a NotFound lookup error.
func one(err error, entity string, key any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(entity, key)
	}
	if err != nil {
		return fmt.Errorf("get %s %v: %w", entity, key, err)
	}
	return nil
}

func (s *Store) FindActiveEvent(ctx context.Context) (domain.Event, error) {
	var ev domain.Event
	err := s.db.GetContext(ctx, &ev, `SELECT id, title, description, date, is_active FROM events WHERE is_active ORDER BY date, id LIMIT 1`)
	return ev, one(err, "event", "active")
}

func (s *Store) ListActiveEvents(ctx context.Context) ([]domain.Event, error) {
	var out []domain.Event
	if err := s.db.SelectContext(ctx, &out, `SELECT id, title, description, date, is_active FROM events WHERE is_active ORDER BY date, id`); err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	var ev domain.Event
	err := s.db.GetContext(ctx, &ev, `SELECT id, title, description, date, is_active FROM events WHERE id = $1`, id)
	return ev, one(err, "event", id)
}

// CreateEvent inserts ev. Subscribers are notified through the insert trigger, see Watch.
func (s *Store) CreateEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	q := `INSERT INTO events (title, description, date, is_active) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := s.db.QueryRowxContext(ctx, q, ev.Title, ev.Description, ev.Date, ev.IsActive).Scan(&ev.ID); err != nil {
		return domain.Event{}, fmt.Errorf("create event: %w", err)
	}
	logger.LogEvent(ctx, logger.Gateway, slog.LevelInfo, "event.created",
		slog.Int64("event_id", ev.ID),
		slog.Bool("active", ev.IsActive),
	)
	return ev, nil
}

// UpsertEvent returns the lowest-id event with ev's title and date, creating
// ev when there is none.
func (s *Store) UpsertEvent(ctx context.Context, ev domain.Event) (domain.Event, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('event:' || $1))`, ev.Title); err != nil {
		return domain.Event{}, false, fmt.Errorf("lock event %q: %w", ev.Title, err)
	}
	var cur domain.Event
	err = tx.GetContext(ctx, &cur, `SELECT id, title, description, date, is_active FROM events
		WHERE title = $1 AND date = $2::date ORDER BY id LIMIT 1`, ev.Title, ev.Date)
	created := errors.Is(err, sql.ErrNoRows)
	switch {
	case created:
		q := `INSERT INTO events (title, description, date, is_active) VALUES ($1, $2, $3, $4) RETURNING id`
		if err := tx.QueryRowxContext(ctx, q, ev.Title, ev.Description, ev.Date, ev.IsActive).Scan(&ev.ID); err != nil {
			return domain.Event{}, false, fmt.Errorf("create event: %w", err)
		}
		cur = ev
	case err != nil:
		return domain.Event{}, false, fmt.Errorf("find event %q: %w", ev.Title, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, false, fmt.Errorf("commit: %w", err)
	}
	if created {
		logger.LogEvent(ctx, logger.Gateway, slog.LevelInfo, "event.created",
			slog.Int64("event_id", cur.ID),
			slog.Bool("active", cur.IsActive),
		)
	}
	return cur, created, nil
}

// Watch calls fn for every active event inserted by any process until ctx ends.
func (s *Store) Watch(ctx context.Context, cfg coredatabase.Config, fn func(ctx context.Context, ev domain.Event)) error {
	return coredatabase.Listen(ctx, cfg, EventsChannel, func(ctx context.Context, payload string) {
		id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
		if err != nil {
			logger.LogEvent(ctx, logger.Gateway, slog.LevelWarn, "event.watch",
				slog.String("payload", logger.SanitizeLimit(payload, 32)),
				slog.String("err", err.Error()),
			)
			return
		}
		ev, err := s.GetEvent(ctx, id)
		if err != nil {
			logger.LogEvent(ctx, logger.Gateway, slog.LevelWarn, "event.watch",
				slog.Int64("event_id", id),
				slog.String("err", err.Error()),
			)
			return
		}
		fn(ctx, ev)
	})
}

func (s *Store) GetOrCreateParticipant(ctx context.Context, telegramID int64, d domain.ParticipantDefaults) (domain.Participant, bool, error) {
	name := d.Name
	if name == "" {
		name = "Anonymous"
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var p domain.Participant
	insert := `INSERT INTO participants (telegram_id, telegram_username, name) VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO NOTHING RETURNING ` + participantCols
	err = tx.GetContext(ctx, &p, insert, telegramID, domain.NormalizeHandle(d.Username), name)
	created := err == nil
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &p, `SELECT `+participantCols+` FROM participants WHERE telegram_id = $1`, telegramID)
	}
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("get or create participant %d: %w", telegramID, err)
	}
	if created && p.Username != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE speakers SET telegram_id = $1 WHERE lower(telegram_username) = $2 AND telegram_id IS NULL`,
			telegramID, p.Username); err != nil {
			return domain.Participant{}, false, fmt.Errorf("link speaker: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, false, fmt.Errorf("commit: %w", err)
	}
	return p, created, nil
}

func (s *Store) GetParticipantByTelegramID(ctx context.Context, telegramID int64) (domain.Participant, error) {
	var p domain.Participant
	err := s.db.GetContext(ctx, &p, `SELECT `+participantCols+` FROM participants WHERE telegram_id = $1`, telegramID)
	return p, one(err, "participant", telegramID)
}

func (s *Store) GetParticipant(ctx context.Context, id int64) (domain.Participant, error) {
	var p domain.Participant
	err := s.db.GetContext(ctx, &p, `SELECT `+participantCols+` FROM participants WHERE id = $1`, id)
	return p, one(err, "participant", id)
}

func (s *Store) UpdateProfile(ctx context.Context, participantID int64, name, bio string) (domain.Participant, error) {
	var p domain.Participant
	err := s.db.GetContext(ctx, &p,
		`UPDATE participants SET name = $2, bio = $3 WHERE id = $1 RETURNING `+participantCols,
		participantID, name, bio)
	return p, one(err, "participant", participantID)
}

// SetEventManager flips the mailing permission of a participant.
func (s *Store) SetEventManager(ctx context.Context, participantID int64, v bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET is_event_manager = $2 WHERE id = $1`, participantID, v)
	if err != nil {
		return fmt.Errorf("set event manager: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("participant", participantID)
	}
	return nil
}

func (s *Store) ToggleSubscription(ctx context.Context, participantID int64, subscribed bool) (bool, error) {
	var prev bool
	err := s.db.QueryRowxContext(ctx,
		`UPDATE participants p SET is_subscribed = $2 FROM participants old
		 WHERE p.id = $1 AND old.id = p.id RETURNING old.is_subscribed`,
		participantID, subscribed).Scan(&prev)
	if err := one(err, "participant", participantID); err != nil {
		return false, err
	}
	return prev != subscribed, nil
}

func (s *Store) ListSubscribedParticipants(ctx context.Context) ([]domain.Participant, error) {
	var out []domain.Participant
	if err := s.db.SelectContext(ctx, &out, `SELECT `+participantCols+` FROM participants WHERE is_subscribed ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return out, nil
}

func (s *Store) ListCandidateProfiles(ctx context.Context, exclude int64) ([]domain.Participant, error) {
	var out []domain.Participant
	q := `SELECT ` + participantCols + ` FROM participants WHERE id <> $1 AND btrim(bio) <> '' ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, q, exclude); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// AddSpeaker stores sp and links it to the given events. A speaker without a
// Telegram id is linked to an existing participant with the same handle.
func (s *Store) AddSpeaker(ctx context.Context, sp domain.Speaker, eventIDs ...int64) (domain.Speaker, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Speaker{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	sp, err = addSpeaker(ctx, tx, sp)
	if err != nil {
		return domain.Speaker{}, err
	}
	if err := linkSpeaker(ctx, tx, &sp, eventIDs); err != nil {
		return domain.Speaker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Speaker{}, fmt.Errorf("commit: %w", err)
	}
	return sp, nil
}

// UpsertSpeaker updates the lowest-id speaker with sp's handle, or adds sp
// when the handle is new. It reports whether a record was created.
func (s *Store) UpsertSpeaker(ctx context.Context, sp domain.Speaker, eventIDs ...int64) (domain.Speaker, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Speaker{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	sp.Username = domain.NormalizeHandle(sp.Username)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('speaker:' || $1))`, sp.Username); err != nil {
		return domain.Speaker{}, false, fmt.Errorf("lock speaker @%s: %w", sp.Username, err)
	}
	var tgID sql.NullInt64
	if sp.TelegramID != 0 {
		tgID = sql.NullInt64{Int64: sp.TelegramID, Valid: true}
	}
	var cur domain.Speaker
	err = tx.GetContext(ctx, &cur, `UPDATE speakers SET
			name = COALESCE(NULLIF($2, ''), name),
			bio = COALESCE(NULLIF($3, ''), bio),
			telegram_id = COALESCE(telegram_id, $4)
		WHERE id = (SELECT id FROM speakers WHERE lower(telegram_username) = $1 ORDER BY id LIMIT 1)
		RETURNING id, name, telegram_username, COALESCE(telegram_id, 0) AS telegram_id, bio`,
		sp.Username, sp.Name, sp.Bio, tgID)
	created := errors.Is(err, sql.ErrNoRows)
	switch {
	case created:
		cur, err = addSpeaker(ctx, tx, sp)
		if err != nil {
			return domain.Speaker{}, false, err
		}
	case err != nil:
		return domain.Speaker{}, false, fmt.Errorf("update speaker @%s: %w", sp.Username, err)
	}
	if err := linkSpeaker(ctx, tx, &cur, eventIDs); err != nil {
		return domain.Speaker{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Speaker{}, false, fmt.Errorf("commit: %w", err)
	}
	return cur, created, nil
}

func addSpeaker(ctx context.Context, tx *sqlx.Tx, sp domain.Speaker) (domain.Speaker, error) {
	sp.Username = domain.NormalizeHandle(sp.Username)
	var tgID sql.NullInt64
	if sp.TelegramID != 0 {
		tgID = sql.NullInt64{Int64: sp.TelegramID, Valid: true}
	}
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO speakers (name, telegram_username, telegram_id, bio) VALUES ($1, $2, $3, $4) RETURNING id`,
		sp.Name, sp.Username, tgID, sp.Bio).Scan(&sp.ID)
	if err != nil {
		return domain.Speaker{}, fmt.Errorf("add speaker: %w", err)
	}
	return sp, nil
}

// linkSpeaker attaches the speaker to events and, when it has no Telegram id
// yet, to the lowest-id participant using its handle.
func linkSpeaker(ctx context.Context, tx *sqlx.Tx, sp *domain.Speaker, eventIDs []int64) error {
	for _, id := range eventIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_speakers (event_id, speaker_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, sp.ID); err != nil {
			return fmt.Errorf("link speaker to event %d: %w", id, err)
		}
	}
	if sp.TelegramID != 0 || sp.Username == "" {
		return nil
	}
	err := tx.QueryRowxContext(ctx, `UPDATE speakers s SET telegram_id = p.telegram_id
		FROM (SELECT telegram_id FROM participants WHERE telegram_username = $2 ORDER BY id LIMIT 1) p
		WHERE s.id = $1 AND s.telegram_id IS NULL
		RETURNING s.telegram_id`, sp.ID, sp.Username).Scan(&sp.TelegramID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("link speaker @%s: %w", sp.Username, err)
	}
	return nil
}

func (s *Store) FindSpeakerByHandle(ctx context.Context, handle string) (domain.Speaker, error) {
	h := domain.NormalizeHandle(handle)
	var found []domain.Speaker
	// two rows are enough to tell unique from ambiguous
	q := `SELECT ` + speakerCols + ` FROM speakers s WHERE lower(s.telegram_username) = $1 ORDER BY s.id LIMIT 2`
	if err := s.db.SelectContext(ctx, &found, q, h); err != nil {
		return domain.Speaker{}, fmt.Errorf("find speaker @%s: %w", h, err)
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

func (s *Store) ListEventSpeakers(ctx context.Context, eventID int64) ([]domain.Speaker, error) {
	var out []domain.Speaker
	q := `SELECT ` + speakerCols + ` FROM speakers s JOIN event_speakers es ON es.speaker_id = s.id
		WHERE es.event_id = $1 ORDER BY s.id`
	if err := s.db.SelectContext(ctx, &out, q, eventID); err != nil {
		return nil, fmt.Errorf("list speakers of event %d: %w", eventID, err)
	}
	return out, nil
}

func (s *Store) GetSpeaker(ctx context.Context, id int64) (domain.Speaker, error) {
	var sp domain.Speaker
	err := s.db.GetContext(ctx, &sp, `SELECT `+speakerCols+` FROM speakers s WHERE s.id = $1`, id)
	return sp, one(err, "speaker", id)
}

func (s *Store) GetSpeakerByTelegramID(ctx context.Context, telegramID int64) (domain.Speaker, error) {
	var sp domain.Speaker
	err := s.db.GetContext(ctx, &sp, `SELECT `+speakerCols+` FROM speakers s WHERE s.telegram_id = $1 ORDER BY s.id LIMIT 1`, telegramID)
	return sp, one(err, "speaker", telegramID)
}

func (s *Store) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO questions (event_id, speaker_id, participant_id, text) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		q.EventID, q.SpeakerID, q.ParticipantID, q.Text).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

func (s *Store) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	var q domain.Question
	err := s.db.GetContext(ctx, &q, `SELECT `+questionCols+` FROM questions WHERE id = $1`, id)
	return q, one(err, "question", id)
}

func (s *Store) MarkQuestionAnswered(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET is_answered = TRUE WHERE id = $1 AND NOT is_answered`, id)
	if err != nil {
		return false, fmt.Errorf("answer question %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetQuestion(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListUnansweredQuestions(ctx context.Context, speakerID int64) ([]domain.Question, error) {
	var out []domain.Question
	q := `SELECT ` + questionCols + ` FROM questions WHERE speaker_id = $1 AND NOT is_answered ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, q, speakerID); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return out, nil
}

// CreateDonation is idempotent on the payment id.
func (s *Store) CreateDonation(ctx context.Context, d domain.Donation) (domain.Donation, error) {
	q := `INSERT INTO donations (event_id, participant_id, amount, payment_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (payment_id) DO UPDATE SET payment_id = EXCLUDED.payment_id
		RETURNING id, is_confirmed, created_at`
	err := s.db.QueryRowxContext(ctx, q, d.EventID, d.ParticipantID, d.Amount, d.PaymentID).
		Scan(&d.ID, &d.IsConfirmed, &d.CreatedAt)
	if err != nil {
		return domain.Donation{}, fmt.Errorf("create donation: %w", err)
	}
	return d, nil
}

func (s *Store) ConfirmDonation(ctx context.Context, paymentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE donations SET is_confirmed = TRUE WHERE payment_id = $1 AND NOT is_confirmed`, paymentID)
	if err != nil {
		return false, fmt.Errorf("confirm donation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM donations WHERE payment_id = $1)`, paymentID); err != nil {
		return false, fmt.Errorf("confirm donation: %w", err)
	}
	if !exists {
		return false, domain.NotFound("donation", paymentID)
	}
	return false, nil
}

func (s *Store) AddRegistration(ctx context.Context, r domain.Registration) (bool, error) {
	if !r.Role.Valid() {
		r.Role = domain.RoleParticipant
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// only participant -> speaker is an upgrade
	res, err := tx.ExecContext(ctx,
		`INSERT INTO registrations (participant_id, event_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (participant_id, event_id) DO UPDATE SET role = EXCLUDED.role
		 WHERE registrations.role = 'participant' AND EXCLUDED.role = 'speaker'`,
		r.ParticipantID, r.EventID, string(r.Role))
	if err != nil {
		return false, fmt.Errorf("add registration: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 && r.Role == domain.RoleSpeaker {
		_, err := tx.ExecContext(ctx, `
			WITH p AS (UPDATE participants SET is_speaker = TRUE WHERE id = $1 RETURNING telegram_id, telegram_username)
			UPDATE speakers s SET telegram_id = p.telegram_id FROM p
			WHERE p.telegram_username <> '' AND lower(s.telegram_username) = p.telegram_username AND s.telegram_id IS NULL`,
			r.ParticipantID)
		if err != nil {
			return false, fmt.Errorf("mark speaker: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

func (s *Store) RemoveRegistration(ctx context.Context, participantID, eventID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registrations WHERE participant_id = $1 AND event_id = $2`, participantID, eventID)
	if err != nil {
		return false, fmt.Errorf("remove registration: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListRegistrations(ctx context.Context, participantID int64) ([]domain.Registration, error) {
	var out []domain.Registration
	q := `SELECT r.participant_id, r.event_id, r.role, e.title AS event_title, r.created_at
		FROM registrations r JOIN events e ON e.id = r.event_id
		WHERE r.participant_id = $1 ORDER BY r.event_id`
	if err := s.db.SelectContext(ctx, &out, q, participantID); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return out, nil
}

func (s *Store) CreateConnectionRequest(ctx context.Context, from, to int64) (domain.ConnectionRequest, bool, error) {
	var cr domain.ConnectionRequest
	insert := `INSERT INTO connection_requests (participant_id, target_id) VALUES ($1, $2)
		ON CONFLICT (participant_id, target_id) DO NOTHING
		RETURNING id, participant_id, target_id, is_accepted, created_at`
	err := s.db.GetContext(ctx, &cr, insert, from, to)
	if err == nil {
		return cr, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.ConnectionRequest{}, false, fmt.Errorf("create connection request: %w", err)
	}
	err = s.db.GetContext(ctx, &cr,
		`SELECT id, participant_id, target_id, is_accepted, created_at FROM connection_requests WHERE participant_id = $1 AND target_id = $2`,
		from, to)
	if err != nil {
		return domain.ConnectionRequest{}, false, fmt.Errorf("get connection request: %w", err)
	}
	return cr, false, nil
}
