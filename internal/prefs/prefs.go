// Package prefs is the durable local key/value storage of the Mini App
// client: bearer token, pending referral code and the last resolved
// audio/quality preference survive restarts through it.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Persisted keys.
const (
	KeyAccessToken  = "kina.access_token"
	KeyReferralCode = "kina.referral_code"
	KeyAudioPref    = "kina.pref_audio_id"
	KeyQualityPref  = "kina.pref_quality_id"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("prefs: key not found")

// Store is a string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetOrEmpty returns "" for a missing key instead of ErrNotFound.
func GetOrEmpty(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// VariantPreference is the last audio/quality pair confirmed by the server.
type VariantPreference struct {
	AudioID   int64
	QualityID int64
}

// IsZero reports whether no preference is stored.
func (p VariantPreference) IsZero() bool { return p.AudioID == 0 && p.QualityID == 0 }

// LoadVariantPreference reads the stored preference. Missing or malformed
// values read as zero ids.
func LoadVariantPreference(ctx context.Context, s Store) (VariantPreference, error) {
	audio, err := GetOrEmpty(ctx, s, KeyAudioPref)
	if err != nil {
		return VariantPreference{}, err
	}
	quality, err := GetOrEmpty(ctx, s, KeyQualityPref)
	if err != nil {
		return VariantPreference{}, err
	}
	return VariantPreference{AudioID: parseID(audio), QualityID: parseID(quality)}, nil
}

// SaveVariantPreference persists a server-confirmed preference.
func SaveVariantPreference(ctx context.Context, s Store, p VariantPreference) error {
	if p.AudioID <= 0 || p.QualityID <= 0 {
		return fmt.Errorf("prefs: refusing to store incomplete preference %+v", p)
	}
	if err := s.Set(ctx, KeyAudioPref, strconv.FormatInt(p.AudioID, 10)); err != nil {
		return err
	}
	return s.Set(ctx, KeyQualityPref, strconv.FormatInt(p.QualityID, 10))
}

func parseID(v string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
