package kina

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Frozertiru-gif/Kina/internal/authgate"
	"github.com/Frozertiru-gif/Kina/internal/identity"
	"github.com/Frozertiru-gif/Kina/internal/prefs"
	"github.com/Frozertiru-gif/Kina/internal/session"
)

type fixedIdentity struct{ id identity.HostIdentity }

func (f *fixedIdentity) Current() identity.HostIdentity { return f.id }

func withInitData(raw string) *fixedIdentity {
	return &fixedIdentity{id: identity.HostIdentity{InitData: raw, Provenance: identity.ProvenanceNative}}
}

type harness struct {
	client *Client
	store  *prefs.Memory
	sess   *session.Session
	gate   *authgate.Gate
	hits   atomic.Int32
}

func newHarness(t *testing.T, h http.HandlerFunc, id IdentitySource, devUserID string, seed map[string]string) *harness {
	t.Helper()
	hs := &harness{store: prefs.NewMemory(), gate: authgate.New()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hs.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	for k, v := range seed {
		require.NoError(t, hs.store.Set(ctx, k, v))
	}
	sess, err := session.New(ctx, hs.store, devUserID)
	require.NoError(t, err)
	hs.sess = sess
	hs.client = NewClient(Config{BaseURL: srv.URL + "/", HTTPClient: srv.Client()}, sess, id, hs.gate)
	return hs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRequiresAuthWithoutIdentityFailsWithoutRequest(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}, &fixedIdentity{}, "", nil)

	_, err := hs.client.Resolve(context.Background(), ResolveRequest{TitleID: 1})
	require.Error(t, err)
	assert.Equal(t, KindAuthMissing, KindOf(err))
	assert.ErrorIs(t, err, ErrIdentityUnavailable)
	assert.Zero(t, hs.hits.Load(), "no request may be issued")
}

func TestTokenExpiredClearsTokenAndFallsBackToInitData(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAuthorization) != "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": CodeTokenExpired})
			return
		}
		if r.Header.Get(HeaderInitData) == "user=1&hash=ab" {
			writeJSON(w, http.StatusOK, []Title{{ID: 7, Name: "Dune"}})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}, withInitData("user=1&hash=ab"), "", map[string]string{prefs.KeyAccessToken: "stale"})
	hs.gate.MarkReady()

	ctx := context.Background()
	_, err := hs.client.Favorites(ctx)
	require.Error(t, err)
	assert.Equal(t, KindAuthRejected, KindOf(err))
	assert.Equal(t, CodeTokenExpired, CodeOf(err))
	assert.Empty(t, hs.sess.Token())
	_, err = hs.store.Get(ctx, prefs.KeyAccessToken)
	assert.ErrorIs(t, err, prefs.ErrNotFound)

	favs, err := hs.client.Favorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, int64(7), favs[0].ID)
}

func TestCredentialOrder(t *testing.T) {
	var got http.Header
	handler := func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, []Subscription{})
	}

	t.Run("bearer wins", func(t *testing.T) {
		hs := newHarness(t, handler, withInitData("raw"), "42", map[string]string{prefs.KeyAccessToken: "tok"})
		_, err := hs.client.Subscriptions(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok", got.Get(HeaderAuthorization))
		assert.Empty(t, got.Get(HeaderInitData))
		assert.Empty(t, got.Get(HeaderDevUserID))
		assert.NotEmpty(t, got.Get(HeaderRequestID))
	})

	t.Run("dev user id without identity", func(t *testing.T) {
		hs := newHarness(t, handler, &fixedIdentity{}, "42", nil)
		_, err := hs.client.Subscriptions(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "42", got.Get(HeaderDevUserID))
		assert.Empty(t, got.Get(HeaderAuthorization))
	})
}

func TestWaitsForGateBeforeRequest(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Referral{Code: "abc", Link: "?startapp=ref_abc"})
	}, withInitData("raw"), "", nil)

	done := make(chan error, 1)
	go func() {
		_, err := hs.client.ReferralMe(context.Background())
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("call completed before the gate was resolved")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Zero(t, hs.hits.Load())

	hs.gate.MarkReady()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("call did not resume after MarkReady")
	}
	assert.Equal(t, int32(1), hs.hits.Load())
}

func TestGateFailureSurfacesReason(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nil)
	}, withInitData("raw"), "", nil)
	hs.gate.MarkFailed(CodeClockSkew)

	_, err := hs.client.Favorites(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuthRejected, KindOf(err))
	assert.Equal(t, CodeClockSkew, CodeOf(err))
	assert.ErrorIs(t, err, authgate.ErrAuthFailed)
	assert.Zero(t, hs.hits.Load())
}

func TestVariantNotFoundCarriesAvailability(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req ResolveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AudioID != nil && *req.AudioID == 99 {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":                 CodeVariantNotFound,
				"available_audio_ids":   []int64{1, 2},
				"available_quality_ids": []int64{3},
				"available_variants":    []map[string]int64{{"audio_id": 1, "quality_id": 3, "variant_id": 10}},
			})
			return
		}
		writeJSON(w, http.StatusOK, ResolveResponse{VariantID: 10, AudioID: 1, QualityID: 3})
	}, &fixedIdentity{}, "dev", nil)

	ninetyNine := int64(99)
	_, err := hs.client.Resolve(context.Background(), ResolveRequest{TitleID: 1, AudioID: &ninetyNine, QualityID: &ninetyNine})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, ErrNotFound)

	avail, ok := AvailabilityOf(err)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, avail.AudioIDs)
	assert.Equal(t, []int64{3}, avail.QualityIDs)
	require.Len(t, avail.Variants, 1)
	assert.Equal(t, int64(10), avail.Variants[0].VariantID)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		header     string
		kind       Kind
		code       string
		retryAfter time.Duration
	}{
		{"ad cooldown", http.StatusTooManyRequests, `{"error":"ad_cooldown","retry_after":30}`, "", KindRateLimited, CodeAdCooldown, 30 * time.Second},
		{"retry-after header", http.StatusTooManyRequests, `{"error":"too_many_requests"}`, "12", KindRateLimited, CodeTooManyRequests, 12 * time.Second},
		{"title missing", http.StatusNotFound, `{"detail":"title_not_found"}`, "", KindNotFound, CodeTitleNotFound, 0},
		{"coded application error", http.StatusBadRequest, `{"error":"invalid_or_expired_nonce"}`, "", KindApplication, "invalid_or_expired_nonce", 0},
		{"uncoded server error", http.StatusBadGateway, `upstream down`, "", KindUnexpected, "", 0},
		{"forbidden", http.StatusForbidden, `{"error":"nonce_user_mismatch"}`, "", KindAuthRejected, "nonce_user_mismatch", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, &fixedIdentity{}, "dev", nil)

			_, err := hs.client.AdsStart(context.Background(), 5)
			require.Error(t, err)
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.kind, apiErr.Kind)
			assert.Equal(t, tc.code, apiErr.Code)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.retryAfter, apiErr.RetryAfter)
			assert.NotEmpty(t, UserMessage(err))
		})
	}
}

func TestNoContentIsSuccess(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, &fixedIdentity{}, "dev", nil)

	res, err := hs.client.Dispatch(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, res.Queued)
}

func TestTransportAndDecodeFailures(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mode":`))
	}, &fixedIdentity{}, "dev", nil)

	_, err := hs.client.WatchRequest(context.Background(), WatchRequest{TitleID: 1, AudioID: 1, QualityID: 1})
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	dead := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, hs.sess, &fixedIdentity{}, hs.gate)
	_, err = dead.WatchRequest(context.Background(), WatchRequest{TitleID: 1, AudioID: 1, QualityID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestCatalogQueryEncoding(t *testing.T) {
	var gotPath, gotQuery string
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		writeJSON(w, http.StatusOK, []Episode{{ID: 1, EpisodeNumber: 1}})
	}, &fixedIdentity{}, "", nil)
	ctx := context.Background()

	_, err := hs.client.CatalogSearch(ctx, SearchQuery{Q: "star wars", Type: "series", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, "/catalog/search", gotPath)
	assert.Equal(t, "limit=5&q=star+wars&type=series", gotQuery)

	eps, err := hs.client.Episodes(ctx, 12, 0)
	require.NoError(t, err)
	assert.Equal(t, "/title/12/episodes", gotPath)
	assert.Equal(t, "season=1", gotQuery)
	assert.Len(t, eps, 1)
}

func TestAuthenticate(t *testing.T) {
	t.Run("missing identity marks gate without request", func(t *testing.T) {
		hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {}, &fixedIdentity{}, "", nil)

		_, err := hs.client.Authenticate(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdentityUnavailable)
		state, _ := hs.gate.State()
		assert.Equal(t, authgate.StateMissing, state)
		assert.Zero(t, hs.hits.Load())
	})

	t.Run("success stores token and applies referral", func(t *testing.T) {
		var body authRequest
		var hdr http.Header
		hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
			hdr = r.Header.Clone()
			assert.Equal(t, "/auth/webapp", r.URL.Path)
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, map[string]any{
				"id": 5, "tg_user_id": 777, "username": "neo", "first_name": nil,
				"premium_until": "2030-01-01T00:00:00", "access_token": "fresh",
			})
		}, withInitData("user=777"), "", map[string]string{prefs.KeyAccessToken: "old", prefs.KeyReferralCode: "FRIEND"})

		ctx := context.Background()
		user, err := hs.client.Authenticate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user=777", body.InitData)
		assert.Equal(t, "FRIEND", body.Ref)
		assert.Empty(t, hdr.Get(HeaderAuthorization))
		assert.Empty(t, hdr.Get(HeaderInitData))

		assert.Equal(t, int64(777), user.TgUserID)
		assert.Equal(t, "neo", user.Username)
		assert.True(t, user.PremiumActive(time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, "fresh", hs.sess.Token())
		assert.Equal(t, int64(5), hs.sess.User().ID)

		ref, err := hs.sess.PendingReferral(ctx)
		require.NoError(t, err)
		assert.Empty(t, ref)
		state, _ := hs.gate.State()
		assert.Equal(t, authgate.StateReady, state)
	})

	t.Run("rejection clears token and fails gate with reason", func(t *testing.T) {
		hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": CodeInitDataExpired})
		}, withInitData("user=1"), "", map[string]string{prefs.KeyAccessToken: "old"})

		_, err := hs.client.Authenticate(context.Background())
		require.Error(t, err)
		assert.True(t, IsInitDataRejection(CodeOf(err)))
		assert.Empty(t, hs.sess.Token())
		state, reason := hs.gate.State()
		assert.Equal(t, authgate.StateFailed, state)
		assert.Equal(t, CodeInitDataExpired, reason)
		assert.Equal(t, "Telegram sign-in data has expired. Reopen the app.", UserMessage(err))
	})
}

func TestTimestampLayouts(t *testing.T) {
	for _, raw := range []string{`"2030-01-01T10:00:00Z"`, `"2030-01-01T10:00:00.123456"`, `"2030-01-01 10:00:00"`} {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(raw), &ts), raw)
		assert.Equal(t, 2030, ts.Year())
		assert.Equal(t, 10, ts.Hour())
	}
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}
