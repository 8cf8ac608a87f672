// Package tg decodes the Telegram WebApp launch data handed to a Mini App.
package tg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LaunchParam is the query/fragment parameter that carries init data.
const LaunchParam = "tgWebAppData"

const referralPrefix = "ref_"

var ErrEmptyInitData = errors.New("tg: init data is empty")

// User is the "user" object embedded in init data.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
}

// InitData is the decoded form of the signed init-data string. The signature
// is carried but never checked here; the backend validates it.
type InitData struct {
	QueryID    string
	User       *User
	AuthDate   time.Time
	StartParam string
	Hash       string
}

// ParseInitData decodes a raw init-data query string.
func ParseInitData(raw string) (InitData, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return InitData{}, ErrEmptyInitData
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return InitData{}, fmt.Errorf("tg: parse init data: %w", err)
	}

	out := InitData{
		QueryID:    values.Get("query_id"),
		StartParam: values.Get("start_param"),
		Hash:       values.Get("hash"),
	}
	if v := values.Get("auth_date"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return InitData{}, fmt.Errorf("tg: auth_date %q: %w", v, err)
		}
		out.AuthDate = time.Unix(sec, 0).UTC()
	}
	if v := values.Get("user"); v != "" {
		var u User
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			return InitData{}, fmt.Errorf("tg: decode user: %w", err)
		}
		out.User = &u
	}
	return out, nil
}

// UserID returns the embedded user id or 0.
func (d InitData) UserID() int64 {
	if d.User == nil {
		return 0
	}
	return d.User.ID
}

// Age reports how old the init data is relative to now. Zero when auth_date is absent.
func (d InitData) Age(now time.Time) time.Duration {
	if d.AuthDate.IsZero() {
		return 0
	}
	return now.Sub(d.AuthDate)
}

// ReferralCode extracts the code from a "ref_<code>" start param.
func ReferralCode(startParam string) string {
	startParam = strings.TrimSpace(startParam)
	if !strings.HasPrefix(startParam, referralPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(startParam, referralPrefix))
}

// LaunchParams returns the init data found in the query string and in the
// fragment of a Mini App launch URL. Either may be empty.
func LaunchParams(launchURL string) (query string, fragment string) {
	launchURL = strings.TrimSpace(launchURL)
	if launchURL == "" {
		return "", ""
	}
	u, err := url.Parse(launchURL)
	if err != nil {
		return "", ""
	}
	query = u.Query().Get(LaunchParam)
	if frag := u.EscapedFragment(); frag != "" {
		if fv, err := url.ParseQuery(frag); err == nil {
			fragment = fv.Get(LaunchParam)
		}
	}
	return query, fragment
}
