// Package store loads reference data into either Gateway backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/logger"
)

// Seedable is implemented by both the memory and the postgres store.
type Seedable interface {
	domain.Gateway
	UpsertEvent(ctx context.Context, ev domain.Event) (domain.Event, bool, error)
	UpsertSpeaker(ctx context.Context, sp domain.Speaker, eventIDs ...int64) (domain.Speaker, bool, error)
	SetEventManager(ctx context.Context, participantID int64, v bool) error
}

// SeedSpeaker is a speaker entry of a seed file.
type SeedSpeaker struct {
	domain.Speaker `yaml:",inline"`
	Events         []int64 `yaml:"events"`
}

// SeedManager grants mailing rights to a Telegram user.
type SeedManager struct {
	TelegramID int64  `yaml:"telegram_id"`
	Username   string `yaml:"username"`
	Name       string `yaml:"name"`
}

// Seed is the YAML document read by LoadSeed.
type Seed struct {
	Events   []domain.Event `yaml:"events"`
	Speakers []SeedSpeaker  `yaml:"speakers"`
	Managers []SeedManager  `yaml:"managers"`
}

// LoadSeed parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &s, nil
}

// Apply writes the seed into dst. Events go first so speakers can reference
// their ids. Events are matched by title and date and speakers by handle, so
// applying the same seed again changes nothing.
func (s *Seed) Apply(ctx context.Context, dst Seedable) error {
	ids := make(map[int64]int64, len(s.Events))
	var newEvents, newSpeakers int
	for _, ev := range s.Events {
		declared := ev.ID
		ev.ID = 0
		stored, created, err := dst.UpsertEvent(ctx, ev)
		if err != nil {
			return fmt.Errorf("seed event %q: %w", ev.Title, err)
		}
		if created {
			newEvents++
		}
		if declared != 0 {
			ids[declared] = stored.ID
		}
	}
	for _, sp := range s.Speakers {
		events := make([]int64, 0, len(sp.Events))
		for _, id := range sp.Events {
			if mapped, ok := ids[id]; ok {
				id = mapped
			}
			events = append(events, id)
		}
		speaker := sp.Speaker
		speaker.ID = 0
		_, created, err := dst.UpsertSpeaker(ctx, speaker, events...)
		if err != nil {
			return fmt.Errorf("seed speaker %q: %w", sp.Username, err)
		}
		if created {
			newSpeakers++
		}
	}
	for _, m := range s.Managers {
		p, _, err := dst.GetOrCreateParticipant(ctx, m.TelegramID, domain.ParticipantDefaults{Username: m.Username, Name: m.Name})
		if err != nil {
			return fmt.Errorf("seed manager %d: %w", m.TelegramID, err)
		}
		if err := dst.SetEventManager(ctx, p.ID, true); err != nil {
			return fmt.Errorf("seed manager %d: %w", m.TelegramID, err)
		}
	}
	logger.LogEvent(ctx, logger.Gateway, slog.LevelInfo, "seed",
		slog.Int("events", len(s.Events)),
		slog.Int("events_new", newEvents),
		slog.Int("speakers", len(s.Speakers)),
		slog.Int("speakers_new", newSpeakers),
		slog.Int("managers", len(s.Managers)),
	)
	return nil
}
