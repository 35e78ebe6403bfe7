package store

import (
	"context"
	"strings"
	"time"

	"dicebet/internal/money"
)

type SettingsStore struct {
	db DB
}

type Settings struct {
	SupportLink  string    `db:"support_link"`
	Instructions string    `db:"instructions"`
	PresetStakes string    `db:"preset_stakes"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Presets parses the comma separated preset stakes into minor units,
// skipping entries that are not valid positive amounts.
func (s Settings) Presets() []int64 {
	var out []int64
	for _, part := range strings.Split(s.PresetStakes, ",") {
		amount, err := money.ParseMinor(strings.TrimSpace(part))
		if err != nil || amount <= 0 {
			continue
		}
		out = append(out, amount)
	}
	return out
}

func NewSettingsStore(db DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	var row Settings
	err := s.db.GetContext(ctx, &row, `
		SELECT support_link, instructions, preset_stakes, updated_at
		FROM settings
		WHERE id = 1
	`)
	if err != nil {
		return Settings{}, err
	}
	return row, nil
}

func (s *SettingsStore) Update(ctx context.Context, tx Execer, settings Settings) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO settings (id, support_link, instructions, preset_stakes, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET support_link = EXCLUDED.support_link,
		    instructions = EXCLUDED.instructions,
		    preset_stakes = EXCLUDED.preset_stakes,
		    updated_at = NOW()
	`, settings.SupportLink, settings.Instructions, settings.PresetStakes)
	return err
}
