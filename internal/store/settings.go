// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/WhiteHades/mereader/internal/apperr"
)

// Settings are the reader display preferences. There is a single row.
type Settings struct {
	ID            string    `json:"id"`
	Theme         string    `json:"theme"`
	FontFamily    string    `json:"font_family"`
	FontSize      float64   `json:"font_size"`
	LineSpacing   float64   `json:"line_spacing"`
	MarginSize    float64   `json:"margin_size"`
	TextAlignment string    `json:"text_alignment"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultSettings returns the factory preferences.
func DefaultSettings() Settings {
	return Settings{
		Theme:         "dark",
		FontFamily:    "Default",
		FontSize:      16,
		LineSpacing:   1.5,
		MarginSize:    16,
		TextAlignment: "left",
	}
}

// Validate rejects sizes the reader cannot render.
func (s *Settings) Validate() error {
	if s.FontSize <= 0 {
		return apperr.Invalid("font_size must be greater than 0")
	}
	if s.LineSpacing <= 0 {
		return apperr.Invalid("line_spacing must be greater than 0")
	}
	if s.MarginSize < 0 {
		return apperr.Invalid("margin_size must not be negative")
	}
	return nil
}

func getSettings(ctx context.Context, tx *sql.Tx) (*Settings, error) {
	var st Settings
	err := tx.QueryRowContext(ctx, `SELECT id, theme, font_family, font_size, line_spacing, margin_size,
		text_alignment, updated_at FROM settings ORDER BY rowid LIMIT 1`).
		Scan(&st.ID, &st.Theme, &st.FontFamily, &st.FontSize, &st.LineSpacing, &st.MarginSize,
			&st.TextAlignment, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		st = DefaultSettings()
		st.ID = uuid.NewString()
		st.UpdatedAt = now()
		if err := insertSettings(ctx, tx, &st); err != nil {
			return nil, err
		}
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func insertSettings(ctx context.Context, tx *sql.Tx, st *Settings) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO settings (id, theme, font_family, font_size, line_spacing,
		margin_size, text_alignment, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Theme, st.FontFamily, st.FontSize, st.LineSpacing, st.MarginSize, st.TextAlignment, st.UpdatedAt)
	return err
}

func saveSettings(ctx context.Context, tx *sql.Tx, st *Settings) error {
	st.UpdatedAt = now()
	_, err := tx.ExecContext(ctx, `UPDATE settings SET theme = ?, font_family = ?, font_size = ?,
		line_spacing = ?, margin_size = ?, text_alignment = ?, updated_at = ? WHERE id = ?`,
		st.Theme, st.FontFamily, st.FontSize, st.LineSpacing, st.MarginSize, st.TextAlignment, st.UpdatedAt, st.ID)
	return err
}

// GetSettings returns the settings row, creating it with defaults on
// first use.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	var st *Settings
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		st, err = getSettings(ctx, tx)
		return err
	})
	if err != nil {
		return nil, dbErr(err, "get settings")
	}
	return st, nil
}

// UpdateSettings loads the current settings, lets apply modify them and
// saves the result. apply typically decodes a partial JSON body onto the
// existing values.
func (s *Store) UpdateSettings(ctx context.Context, apply func(*Settings) error) (*Settings, error) {
	var st *Settings
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if st, err = getSettings(ctx, tx); err != nil {
			return err
		}
		id := st.ID
		if err := apply(st); err != nil {
			return err
		}
		st.ID = id
		if err := st.Validate(); err != nil {
			return err
		}
		return saveSettings(ctx, tx, st)
	})
	if err != nil {
		return nil, dbErr(err, "update settings")
	}
	return st, nil
}

// ResetSettings restores the defaults.
func (s *Store) ResetSettings(ctx context.Context) (*Settings, error) {
	return s.UpdateSettings(ctx, func(st *Settings) error {
		*st = DefaultSettings()
		return nil
	})
}
