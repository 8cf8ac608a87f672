package watchflow

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Frozertiru-gif/Kina/internal/kina"
	"github.com/Frozertiru-gif/Kina/internal/prefs"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	resolve     func(kina.ResolveRequest) (*kina.ResolveResponse, error)
	watch       []*kina.WatchResponse // consumed in order
	watchErr    error
	dispatchErr error
	queued      bool
	adStartErr  error
	adComplete  *kina.AdCompleteResponse
	hasPass     bool
	block       chan struct{} // when set, WatchRequest waits on it
}

func (a *fakeAPI) record(name string) {
	a.mu.Lock()
	a.calls = append(a.calls, name)
	a.mu.Unlock()
}

func (a *fakeAPI) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAPI) Resolve(_ context.Context, req kina.ResolveRequest) (*kina.ResolveResponse, error) {
	a.record("resolve")
	return a.resolve(req)
}

func (a *fakeAPI) WatchRequest(_ context.Context, _ kina.WatchRequest) (*kina.WatchResponse, error) {
	a.record("watch")
	if a.block != nil {
		<-a.block
	}
	if a.watchErr != nil {
		return nil, a.watchErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	resp := a.watch[0]
	if len(a.watch) > 1 {
		a.watch = a.watch[1:]
	}
	return resp, nil
}

func (a *fakeAPI) Dispatch(_ context.Context, variantID int64) (*kina.DispatchResponse, error) {
	a.record("dispatch")
	if a.dispatchErr != nil {
		return nil, a.dispatchErr
	}
	return &kina.DispatchResponse{Queued: a.queued}, nil
}

func (a *fakeAPI) AdsStart(_ context.Context, _ int64) (*kina.AdStartResponse, error) {
	a.record("ads_start")
	if a.adStartErr != nil {
		return nil, a.adStartErr
	}
	return &kina.AdStartResponse{Nonce: "n-1", TTL: 300}, nil
}

func (a *fakeAPI) AdsComplete(_ context.Context, nonce string) (*kina.AdCompleteResponse, error) {
	a.record("ads_complete")
	return a.adComplete, nil
}

func (a *fakeAPI) AdsStatus(_ context.Context, _ int64) (*kina.AdStatusResponse, error) {
	a.record("ads_status")
	return &kina.AdStatusResponse{HasPass: a.hasPass}, nil
}

var movie = Selection{TitleID: 1, AudioID: 2, QualityID: 3}

// collect records every state pushed to a subscriber until stop is called.
func collect(t *testing.T, f *Flow) (stop func() []Status) {
	t.Helper()
	ch, cancel := f.Subscribe()
	var mu sync.Mutex
	var seen []Status
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range ch {
			mu.Lock()
			if len(seen) == 0 || seen[len(seen)-1] != st.Status {
				seen = append(seen, st.Status)
			}
			mu.Unlock()
		}
	}()
	return func() []Status {
		cancel()
		<-done
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

func newFlow(t *testing.T, api *fakeAPI) *Flow {
	t.Helper()
	f := New(api, prefs.NewMemory())
	require.NoError(t, f.SetParams(context.Background(), movie))
	return f
}

func TestDirectModeSkipsAdGate(t *testing.T) {
	api := &fakeAPI{watch: []*kina.WatchResponse{{Mode: kina.ModeDirect, VariantID: 11, TitleID: 1}}, queued: true}
	f := newFlow(t, api)

	stop := collect(t, f)
	st, err := f.Start(context.Background())
	require.NoError(t, err)
	visited := stop()

	want := State{Status: StatusQueued, Selection: movie, VariantID: 11}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"watch", "dispatch"}, api.Calls())
	assert.NotContains(t, visited, StatusAdGate)
}

func TestDirectModeTransitionOrder(t *testing.T) {
	api := &fakeAPI{watch: []*kina.WatchResponse{{Mode: kina.ModeDirect, VariantID: 11}}, queued: true, block: make(chan struct{})}
	f := newFlow(t, api)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(api.block)
	}()
	stop := collect(t, f)
	_, err := f.Start(context.Background())
	require.NoError(t, err)
	seen := stop()

	// Latest-value delivery may coalesce intermediate states, but order holds.
	require.NotEmpty(t, seen)
	assert.Equal(t, StatusIdle, seen[0])
	assert.Equal(t, StatusQueued, seen[len(seen)-1])
	assert.Contains(t, seen, StatusRequesting)
	assert.NotContains(t, seen, StatusAdGate)
}

func TestAdGateHaltsUntilCompletion(t *testing.T) {
	api := &fakeAPI{
		watch: []*kina.WatchResponse{
			{Mode: kina.ModeAdGate, VariantID: 21},
			{Mode: kina.ModeDirect, VariantID: 21},
		},
		queued:     true,
		adComplete: &kina.AdCompleteResponse{OK: true, PassTTL: 900, VariantID: 21},
	}
	f := newFlow(t, api)
	ctx := context.Background()

	st, err := f.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAdGate, st.Status)
	assert.Equal(t, int64(21), st.VariantID)
	assert.Equal(t, []string{"watch"}, api.Calls(), "nothing dispatched before the ad completes")

	_, err = f.CompleteAd(ctx)
	assert.ErrorIs(t, err, ErrInvalidState, "completion needs a started ad")

	st, err = f.StartAd(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAdGate, st.Status)
	assert.Equal(t, "n-1", st.Nonce)

	st, err = f.CompleteAd(ctx)
	require.NoError(t, err)
	want := State{Status: StatusQueued, Selection: movie, VariantID: 21}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"watch", "ads_start", "ads_complete", "watch", "dispatch"}, api.Calls())
}

func TestAdCooldownKeepsVariant(t *testing.T) {
	api := &fakeAPI{
		watch:      []*kina.WatchResponse{{Mode: kina.ModeAdGate, VariantID: 31}},
		adStartErr: &kina.Error{Kind: kina.KindRateLimited, Status: http.StatusTooManyRequests, Code: kina.CodeAdCooldown, RetryAfter: 30 * time.Second},
	}
	f := newFlow(t, api)
	ctx := context.Background()

	_, err := f.Start(ctx)
	require.NoError(t, err)

	st, err := f.StartAd(ctx)
	require.Error(t, err)
	want := State{Status: StatusAdsCooldown, Selection: movie, VariantID: 31, RetryAfter: 30 * time.Second}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}

	// Retry after the cooldown succeeds and returns to the gate.
	api.adStartErr = nil
	st, err = f.StartAd(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAdGate, st.Status)
	assert.Equal(t, int64(31), st.VariantID)
	assert.Zero(t, st.RetryAfter)
}

func TestFailuresMoveToError(t *testing.T) {
	t.Run("transport on watch request", func(t *testing.T) {
		api := &fakeAPI{watchErr: &kina.Error{Kind: kina.KindTransport, Op: "watch_request", Err: context.DeadlineExceeded}}
		f := newFlow(t, api)
		st, err := f.Start(context.Background())
		require.Error(t, err)
		assert.Equal(t, StatusError, st.Status)
		assert.Contains(t, st.Message, "Network error")
	})

	t.Run("queue refuses", func(t *testing.T) {
		api := &fakeAPI{watch: []*kina.WatchResponse{{Mode: kina.ModeDirect, VariantID: 4}}, queued: false}
		f := newFlow(t, api)
		st, err := f.Start(context.Background())
		require.Error(t, err)
		assert.Equal(t, StatusError, st.Status)
		assert.Equal(t, int64(4), st.VariantID)
	})

	t.Run("error is retryable from the top", func(t *testing.T) {
		api := &fakeAPI{watchErr: &kina.Error{Kind: kina.KindUnexpected, Status: 500}}
		f := newFlow(t, api)
		_, err := f.Start(context.Background())
		require.Error(t, err)

		api.watchErr = nil
		api.watch = []*kina.WatchResponse{{Mode: kina.ModeDirect, VariantID: 5}}
		api.queued = true
		st, err := f.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, st.Status)
	})
}

func TestStartWhileBusy(t *testing.T) {
	api := &fakeAPI{watch: []*kina.WatchResponse{{Mode: kina.ModeDirect, VariantID: 1}}, queued: true, block: make(chan struct{})}
	f := newFlow(t, api)

	errc := make(chan error, 1)
	go func() {
		_, err := f.Start(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.State().Status == StatusRequesting }, time.Second, time.Millisecond)

	_, err := f.Start(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.SetParams(context.Background(), movie), ErrBusy)

	close(api.block)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, countCalls(api.Calls(), "dispatch"))
}

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestStartNeedsCompleteSelection(t *testing.T) {
	f := New(&fakeAPI{}, prefs.NewMemory())
	_, err := f.Start(context.Background())
	assert.ErrorIs(t, err, ErrIncompleteSelection)
}

func TestSkipAdWithPass(t *testing.T) {
	api := &fakeAPI{
		watch:   []*kina.WatchResponse{{Mode: kina.ModeAdGate, VariantID: 8}, {Mode: kina.ModeDirect, VariantID: 8}},
		queued:  true,
		hasPass: true,
	}
	f := newFlow(t, api)
	ctx := context.Background()
	_, err := f.Start(ctx)
	require.NoError(t, err)

	skipped, st, err := f.SkipAdWithPass(ctx)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, StatusQueued, st.Status)
	assert.NotContains(t, api.Calls(), "ads_start")
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("applies echoed selection and persists preference", func(t *testing.T) {
		api := &fakeAPI{resolve: func(req kina.ResolveRequest) (*kina.ResolveResponse, error) {
			assert.Nil(t, req.AudioID)
			assert.Nil(t, req.QualityID)
			return &kina.ResolveResponse{VariantID: 9, AudioID: 4, QualityID: 5}, nil
		}}
		store := prefs.NewMemory()
		f := New(api, store)

		res, err := f.Resolve(ctx, Selection{TitleID: 1})
		require.NoError(t, err)
		assert.Equal(t, Available, res.Availability)
		assert.Equal(t, Selection{TitleID: 1, AudioID: 4, QualityID: 5}, res.Selection)
		assert.Equal(t, res.Selection, f.State().Selection)

		pref, err := prefs.LoadVariantPreference(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, prefs.VariantPreference{AudioID: 4, QualityID: 5}, pref)
	})

	t.Run("missing variant leaves stored preference unchanged", func(t *testing.T) {
		api := &fakeAPI{resolve: func(req kina.ResolveRequest) (*kina.ResolveResponse, error) {
			return nil, &kina.Error{
				Kind: kina.KindNotFound, Status: http.StatusNotFound, Code: kina.CodeVariantNotFound,
				Payload: []byte(`{"error":"variant_not_found","available_audio_ids":[1],"available_quality_ids":[2],"available_variants":[]}`),
			}
		}}
		store := prefs.NewMemory()
		require.NoError(t, prefs.SaveVariantPreference(ctx, store, prefs.VariantPreference{AudioID: 1, QualityID: 2}))
		f := New(api, store)

		res, err := f.Resolve(ctx, Selection{TitleID: 1, AudioID: 99, QualityID: 99})
		require.NoError(t, err)
		assert.Equal(t, Unavailable, res.Availability)
		require.NotNil(t, res.Options)
		assert.Equal(t, []int64{1}, res.Options.AudioIDs)

		pref, err := prefs.LoadVariantPreference(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, prefs.VariantPreference{AudioID: 1, QualityID: 2}, pref)
	})

	t.Run("transient failure is reported but not fatal", func(t *testing.T) {
		api := &fakeAPI{resolve: func(kina.ResolveRequest) (*kina.ResolveResponse, error) {
			return nil, &kina.Error{Kind: kina.KindTransport}
		}}
		f := New(api, prefs.NewMemory())
		res, err := f.Resolve(ctx, movie)
		require.Error(t, err)
		assert.Equal(t, Transient, res.Availability)
		assert.Equal(t, StatusIdle, f.State().Status)
	})
}

func TestReset(t *testing.T) {
	api := &fakeAPI{watch: []*kina.WatchResponse{{Mode: kina.ModeAdGate, VariantID: 3}}}
	f := newFlow(t, api)
	_, err := f.Start(context.Background())
	require.NoError(t, err)

	f.Reset(context.Background())
	if diff := cmp.Diff(State{Status: StatusIdle}, f.State(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("reset left fields behind (-want +got):\n%s", diff)
	}
}

func TestReplayStillGatedIsNotDispatched(t *testing.T) {
	api := &fakeAPI{
		watch:      []*kina.WatchResponse{{Mode: kina.ModeAdGate, VariantID: 21}, {Mode: kina.ModeAdGate, VariantID: 21}},
		queued:     true,
		adComplete: &kina.AdCompleteResponse{OK: true, PassTTL: 900, VariantID: 21},
	}
	f := newFlow(t, api)
	ctx := context.Background()

	_, err := f.Start(ctx)
	require.NoError(t, err)
	_, err = f.StartAd(ctx)
	require.NoError(t, err)

	st, err := f.CompleteAd(ctx)
	require.ErrorIs(t, err, ErrPassNotApplied)
	assert.Equal(t, StatusError, st.Status)
	assert.NotEmpty(t, st.Message)
	assert.Equal(t, []string{"watch", "ads_start", "ads_complete", "watch"}, api.Calls())
}

func TestUnknownWatchModeFails(t *testing.T) {
	for _, mode := range []string{"", "stream"} {
		t.Run("mode="+mode, func(t *testing.T) {
			api := &fakeAPI{watch: []*kina.WatchResponse{{Mode: mode, VariantID: 6}}, queued: true}
			f := newFlow(t, api)

			st, err := f.Start(context.Background())
			require.ErrorIs(t, err, ErrUnknownMode)
			assert.Equal(t, StatusError, st.Status)
			assert.Zero(t, countCalls(api.Calls(), "dispatch"))
		})
	}
}

func TestStoredPreferenceCarriesAcrossFlows(t *testing.T) {
	ctx := context.Background()
	store := prefs.NewMemory()

	first := New(&fakeAPI{resolve: func(kina.ResolveRequest) (*kina.ResolveResponse, error) {
		return &kina.ResolveResponse{VariantID: 9, AudioID: 4, QualityID: 5}, nil
	}}, store)
	_, err := first.Resolve(ctx, Selection{TitleID: 1})
	require.NoError(t, err)

	t.Run("set params defaults missing ids", func(t *testing.T) {
		f := New(&fakeAPI{}, store)
		require.NoError(t, f.SetParams(ctx, Selection{TitleID: 2}))
		assert.Equal(t, Selection{TitleID: 2, AudioID: 4, QualityID: 5}, f.State().Selection)

		require.NoError(t, f.SetParams(ctx, Selection{TitleID: 2, AudioID: 7}))
		assert.Equal(t, Selection{TitleID: 2, AudioID: 7, QualityID: 5}, f.State().Selection)
	})

	t.Run("resolve tries the stored pair", func(t *testing.T) {
		var sent []kina.ResolveRequest
		f := New(&fakeAPI{resolve: func(req kina.ResolveRequest) (*kina.ResolveResponse, error) {
			sent = append(sent, req)
			return &kina.ResolveResponse{VariantID: 12, AudioID: *req.AudioID, QualityID: *req.QualityID}, nil
		}}, store)

		res, err := f.Resolve(ctx, Selection{TitleID: 3})
		require.NoError(t, err)
		require.Len(t, sent, 1)
		assert.Equal(t, int64(4), *sent[0].AudioID)
		assert.Equal(t, int64(5), *sent[0].QualityID)
		assert.Equal(t, Selection{TitleID: 3, AudioID: 4, QualityID: 5}, res.Selection)
	})

	t.Run("resolve falls back when the stored pair is missing", func(t *testing.T) {
		var sent []kina.ResolveRequest
		f := New(&fakeAPI{resolve: func(req kina.ResolveRequest) (*kina.ResolveResponse, error) {
			sent = append(sent, req)
			if req.AudioID != nil {
				return nil, &kina.Error{Kind: kina.KindNotFound, Status: http.StatusNotFound, Code: kina.CodeVariantNotFound}
			}
			return &kina.ResolveResponse{VariantID: 13, AudioID: 8, QualityID: 9}, nil
		}}, prefs.NewMemory())
		require.NoError(t, prefs.SaveVariantPreference(ctx, f.store, prefs.VariantPreference{AudioID: 4, QualityID: 5}))

		res, err := f.Resolve(ctx, Selection{TitleID: 4})
		require.NoError(t, err)
		assert.Equal(t, Available, res.Availability)
		require.Len(t, sent, 2)
		assert.Nil(t, sent[1].AudioID)
		assert.Equal(t, Selection{TitleID: 4, AudioID: 8, QualityID: 9}, res.Selection)
	})
}
