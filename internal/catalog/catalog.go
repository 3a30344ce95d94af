// Package catalog implements the Catalog Service (C7): filterable,
// paginated read-only retrieval of static catalog entries (voices,
// avatars, stock media, platform presets) backed by Postgres.
//
// Grounded on the teacher's internal/database repository shape — one
// struct per aggregate, raw SQL via database/sql, no ORM — retargeted
// from the teacher's job/segment/asset repositories to these four
// read-only catalogs.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/models"
)

// MaxPageSize is the hard cap on any catalog listing's limit.
const MaxPageSize = 100

// Voice is one entry from the voices catalog.
type Voice struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Locale          string `json:"locale"`
	Gender          string `json:"gender"`
	Style           string `json:"style"`
	ProviderVoiceID string `json:"provider_voice_id"`
}

// VoiceFilter composes conjunctively; string fields are case-insensitive
// substring matches; zero values are "no filter".
type VoiceFilter struct {
	Locale        string
	Gender        string
	Style         string
	NameSubstring string
}

// Avatar is one entry from the avatars catalog.
type Avatar struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Style         string `json:"style"`
	ThumbnailPath string `json:"thumbnail_path"`
}

// AvatarFilter composes conjunctively.
type AvatarFilter struct {
	Style         string
	NameSubstring string
}

// StockMedia is one entry from the stock media catalog.
type StockMedia struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MediaType  string `json:"media_type"`
	Tags       string `json:"tags"`
	SourcePath string `json:"source_path"`
}

// StockMediaFilter composes conjunctively.
type StockMediaFilter struct {
	MediaType     string
	TagSubstring  string
	NameSubstring string
}

// Service is the Catalog Service, backed by a *sql.DB (lib/pq).
type Service struct {
	db *sql.DB
}

// New builds a Service over an already-connected database handle.
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

func clampLimit(limit int) (int, error) {
	if limit <= 0 || limit > MaxPageSize {
		return 0, fmt.Errorf("%w: limit must be in [1, %d]", apperr.ErrValidation, MaxPageSize)
	}
	return limit, nil
}

// ListVoices returns voices matching filter, ordered by name ascending, capped
// at limit (1..MaxPageSize). Unknown filter values yield an empty slice,
// never an error.
func (s *Service) ListVoices(ctx context.Context, filter VoiceFilter, limit int) ([]Voice, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, name, locale, gender, style, provider_voice_id FROM voices WHERE
		($1 = '' OR locale ILIKE '%' || $1 || '%') AND
		($2 = '' OR gender ILIKE '%' || $2 || '%') AND
		($3 = '' OR style ILIKE '%' || $3 || '%') AND
		($4 = '' OR name ILIKE '%' || $4 || '%')
		ORDER BY name ASC LIMIT $5`

	rows, err := s.db.QueryContext(ctx, query, filter.Locale, filter.Gender, filter.Style, filter.NameSubstring, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Voice
	for rows.Next() {
		var v Voice
		if err := rows.Scan(&v.ID, &v.Name, &v.Locale, &v.Gender, &v.Style, &v.ProviderVoiceID); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVoice returns a single voice by ID, or apperr.ErrNotFound.
func (s *Service) GetVoice(ctx context.Context, id string) (*Voice, error) {
	var v Voice
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, locale, gender, style, provider_voice_id FROM voices WHERE id = $1`, id,
	).Scan(&v.ID, &v.Name, &v.Locale, &v.Gender, &v.Style, &v.ProviderVoiceID)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	return &v, nil
}

// ListAvatars returns avatars matching filter, capped at limit.
func (s *Service) ListAvatars(ctx context.Context, filter AvatarFilter, limit int) ([]Avatar, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, name, style, thumbnail_path FROM avatars WHERE
		($1 = '' OR style ILIKE $1) AND
		($2 = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY name ASC LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, filter.Style, filter.NameSubstring, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Avatar
	for rows.Next() {
		var a Avatar
		if err := rows.Scan(&a.ID, &a.Name, &a.Style, &a.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAvatar returns a single avatar by ID, or apperr.ErrNotFound.
func (s *Service) GetAvatar(ctx context.Context, id string) (*Avatar, error) {
	var a Avatar
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, style, thumbnail_path FROM avatars WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Style, &a.ThumbnailPath)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	return &a, nil
}

// ListStockMedia returns stock media entries matching filter, capped at limit.
func (s *Service) ListStockMedia(ctx context.Context, filter StockMediaFilter, limit int) ([]StockMedia, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, name, media_type, tags, source_path FROM stock_media WHERE
		($1 = '' OR media_type ILIKE $1) AND
		($2 = '' OR tags ILIKE '%' || $2 || '%') AND
		($3 = '' OR name ILIKE '%' || $3 || '%')
		ORDER BY name ASC LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, filter.MediaType, filter.TagSubstring, filter.NameSubstring, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []StockMedia
	for rows.Next() {
		var m StockMedia
		if err := rows.Scan(&m.ID, &m.Name, &m.MediaType, &m.Tags, &m.SourcePath); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPlatforms returns every known platform preset.
func (s *Service) ListPlatforms(ctx context.Context) ([]models.PlatformPreset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, aspect_ratio, optimal_duration_seconds, resolution FROM platforms ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.PlatformPreset
	for rows.Next() {
		var p models.PlatformPreset
		var aspect string
		if err := rows.Scan(&p.Code, &aspect, &p.OptimalDurationSeconds, &p.Resolution); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		p.AspectRatio = models.AspectRatio(aspect)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPlatform returns a single platform preset by code, or apperr.ErrNotFound.
func (s *Service) GetPlatform(ctx context.Context, code string) (*models.PlatformPreset, error) {
	var p models.PlatformPreset
	var aspect string
	err := s.db.QueryRowContext(ctx,
		`SELECT code, aspect_ratio, optimal_duration_seconds, resolution FROM platforms WHERE code = $1`,
		strings.ToLower(code),
	).Scan(&p.Code, &aspect, &p.OptimalDurationSeconds, &p.Resolution)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	p.AspectRatio = models.AspectRatio(aspect)
	return &p, nil
}

// Healthy reports whether the backing database is reachable.
func (s *Service) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}
