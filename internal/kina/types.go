package kina

import (
	"encoding/json"
	"strings"
	"time"
)

// Timestamp accepts RFC 3339 and naive ISO timestamps (the backend sometimes
// omits the zone; those are read as UTC).
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		v, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			t.Time = v
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

type authRequest struct {
	InitData string `json:"initData"`
	Ref      string `json:"ref,omitempty"`
}

// AuthResponse is the body of POST /auth/webapp.
type AuthResponse struct {
	ID           int64      `json:"id"`
	TgUserID     int64      `json:"tg_user_id"`
	Username     *string    `json:"username"`
	FirstName    *string    `json:"first_name"`
	PremiumUntil *Timestamp `json:"premium_until"`
	AccessToken  string     `json:"access_token,omitempty"`
}

// ResolveRequest asks for the best variant; nil audio/quality let the server choose.
type ResolveRequest struct {
	TitleID   int64  `json:"title_id"`
	EpisodeID *int64 `json:"episode_id"`
	AudioID   *int64 `json:"audio_id,omitempty"`
	QualityID *int64 `json:"quality_id,omitempty"`
}

type ResolveResponse struct {
	VariantID int64 `json:"variant_id"`
	AudioID   int64 `json:"audio_id"`
	QualityID int64 `json:"quality_id"`
}

type WatchRequest struct {
	TitleID   int64  `json:"title_id"`
	EpisodeID *int64 `json:"episode_id"`
	AudioID   int64  `json:"audio_id"`
	QualityID int64  `json:"quality_id"`
}

// Watch modes.
const (
	ModeDirect = "direct"
	ModeAdGate = "ad_gate"
)

type WatchResponse struct {
	Mode      string `json:"mode"`
	VariantID int64  `json:"variant_id"`
	TitleID   int64  `json:"title_id"`
	EpisodeID *int64 `json:"episode_id"`
}

type variantBody struct {
	VariantID int64 `json:"variant_id"`
}

type DispatchResponse struct {
	Queued bool   `json:"queued"`
	Queue  string `json:"queue,omitempty"`
}

type AdStartResponse struct {
	Nonce string `json:"nonce"`
	TTL   int    `json:"ttl"`
}

type adCompleteRequest struct {
	Nonce string `json:"nonce"`
}

type AdCompleteResponse struct {
	OK        bool  `json:"ok"`
	PassTTL   int   `json:"pass_ttl"`
	VariantID int64 `json:"variant_id"`
}

type AdStatusResponse struct {
	HasPass bool `json:"has_pass"`
	PassTTL *int `json:"pass_ttl"`
}

// Title is a catalog entry.
type Title struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name,omitempty"`
	Description  string `json:"description,omitempty"`
	Year         int    `json:"year,omitempty"`
	PosterURL    string `json:"poster_url,omitempty"`
	IsPublished  bool   `json:"is_published"`
}

type Season struct {
	ID            int64  `json:"id"`
	SeasonNumber  int    `json:"season_number"`
	Name          string `json:"name,omitempty"`
	EpisodesCount int    `json:"episodes_count"`
}

// TitleDetails is the body of GET /title/{id}.
type TitleDetails struct {
	Title
	Seasons             []Season `json:"seasons"`
	EpisodesCount       int      `json:"episodes_count"`
	AvailableAudioIDs   []int64  `json:"available_audio_ids"`
	AvailableQualityIDs []int64  `json:"available_quality_ids"`
}

type Episode struct {
	ID            int64      `json:"id"`
	EpisodeNumber int        `json:"episode_number"`
	Name          string     `json:"name,omitempty"`
	PublishedAt   *Timestamp `json:"published_at,omitempty"`
}

type titleBody struct {
	TitleID int64 `json:"title_id"`
}

type FavoriteToggle struct {
	TitleID   int64 `json:"title_id"`
	Favorited bool  `json:"favorited"`
}

type Subscription struct {
	TitleID int64 `json:"title_id"`
	Enabled bool  `json:"enabled"`
}

type Referral struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

// AvailableVariant is one entry of a variant_not_found payload.
type AvailableVariant struct {
	AudioID   int64 `json:"audio_id"`
	QualityID int64 `json:"quality_id"`
	VariantID int64 `json:"variant_id"`
}

// Availability lists what does exist for a title/episode when the requested
// combination does not.
type Availability struct {
	AudioIDs   []int64            `json:"available_audio_ids"`
	QualityIDs []int64            `json:"available_quality_ids"`
	Variants   []AvailableVariant `json:"available_variants"`
}
