package watchflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Frozertiru-gif/Kina/internal/kina"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
	"github.com/Frozertiru-gif/Kina/internal/metrics"
	"github.com/Frozertiru-gif/Kina/internal/prefs"
)

var (
	// ErrBusy is returned when a step of the current attempt is still in flight.
	ErrBusy = errors.New("watchflow: attempt in progress")
	// ErrIncompleteSelection means title, audio or quality is missing.
	ErrIncompleteSelection = errors.New("watchflow: selection incomplete")
	// ErrInvalidState means the requested step is not legal in the current status.
	ErrInvalidState = errors.New("watchflow: step not allowed in current state")
	// ErrPassNotApplied means the replayed request after an ad still asked for an ad.
	ErrPassNotApplied = errors.New("watchflow: ad pass was not applied")
	// ErrUnknownMode means the watch request answered with a mode other than direct or ad_gate.
	ErrUnknownMode = errors.New("watchflow: unknown watch mode")
)

// API is the backend surface the flow needs. *kina.Client implements it.
type API interface {
	Resolve(ctx context.Context, req kina.ResolveRequest) (*kina.ResolveResponse, error)
	WatchRequest(ctx context.Context, req kina.WatchRequest) (*kina.WatchResponse, error)
	Dispatch(ctx context.Context, variantID int64) (*kina.DispatchResponse, error)
	AdsStart(ctx context.Context, variantID int64) (*kina.AdStartResponse, error)
	AdsComplete(ctx context.Context, nonce string) (*kina.AdCompleteResponse, error)
	AdsStatus(ctx context.Context, variantID int64) (*kina.AdStatusResponse, error)
}

// Availability is the outcome of a pre-flight resolution.
type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
	Transient   Availability = "transient"
)

// Resolution reports what the server resolved for a selection.
type Resolution struct {
	Availability Availability       `json:"availability"`
	Selection    Selection          `json:"selection"`
	VariantID    int64              `json:"variant_id,omitempty"`
	Options      *kina.Availability `json:"options,omitempty"`
}

// Flow owns the WatchFlowState and runs the attempt steps one at a time.
type Flow struct {
	api    API
	store  prefs.Store
	logger zerolog.Logger

	step sync.Mutex // held for the whole duration of a network step

	mu        sync.Mutex
	state     State
	attemptID string
	subs      map[chan State]struct{}
}

// New returns an idle flow.
func New(api API, store prefs.Store) *Flow {
	return &Flow{
		api:    api,
		store:  store,
		logger: klog.WithComponent("watchflow"),
		state:  State{Status: StatusIdle},
		subs:   make(map[chan State]struct{}),
	}
}

// State returns a snapshot of the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe delivers every new state to the returned channel. Slow readers
// only see the latest state. cancel detaches and closes the channel.
func (f *Flow) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	ch <- f.state
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// apply reduces a into the state and publishes the result. It reports whether
// the action was legal.
func (f *Flow) apply(ctx context.Context, a Action) (State, bool) {
	f.mu.Lock()
	prev := f.state
	if !Allowed(prev.Status, a.Event) {
		f.mu.Unlock()
		return prev, false
	}
	next := Reduce(prev, a)
	f.state = next
	for ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	f.mu.Unlock()

	if prev.Status != next.Status {
		metrics.RecordWatchTransition(string(prev.Status), string(next.Status))
		logger := klog.WithContext(ctx, f.logger)
		ev := logger.Debug()
		if next.Status == StatusError {
			ev = logger.Warn().Str("message", next.Message)
		}
		ev.Str(klog.FieldEvent, string(a.Event)).
			Str(klog.FieldOldState, string(prev.Status)).
			Str(klog.FieldNewState, string(next.Status)).
			Int64(klog.FieldVariant, next.VariantID).
			Msg("watch flow transition")
	}
	return next, true
}

func (f *Flow) attemptContext(ctx context.Context, fresh bool) context.Context {
	f.mu.Lock()
	if fresh || f.attemptID == "" {
		f.attemptID = uuid.NewString()
	}
	id := f.attemptID
	f.mu.Unlock()
	return klog.ContextWithAttemptID(ctx, id)
}

func (f *Flow) lockStep() bool { return f.step.TryLock() }

// SetParams replaces the selection and returns the flow to idle. A missing
// audio or quality id is taken from the stored preference.
func (f *Flow) SetParams(ctx context.Context, sel Selection) error {
	if !f.lockStep() {
		return ErrBusy
	}
	defer f.step.Unlock()
	sel, _ = f.withPreference(ctx, sel)
	if _, ok := f.apply(ctx, Action{Event: EventSetParams, Selection: sel}); !ok {
		return ErrInvalidState
	}
	return nil
}

// Reset abandons the attempt and clears every field.
func (f *Flow) Reset(ctx context.Context) {
	f.mu.Lock()
	f.attemptID = ""
	f.mu.Unlock()
	f.apply(ctx, Action{Event: EventReset})
}

// Resolve asks the server for the best variant of sel and makes the echoed
// audio/quality the effective selection. The resolved pair is persisted as the
// local preference. A missing variant yields Unavailable with a nil error; any
// other failure yields Transient with the error for logging. A zero audio or
// quality id is first tried with the stored preference, falling back to the
// server default when that pair does not exist for the title.
func (f *Flow) Resolve(ctx context.Context, sel Selection) (Resolution, error) {
	req := kina.ResolveRequest{TitleID: sel.TitleID, EpisodeID: sel.EpisodeID}
	if sel.AudioID > 0 {
		req.AudioID = &sel.AudioID
	}
	if sel.QualityID > 0 {
		req.QualityID = &sel.QualityID
	}

	withPref, filled := f.withPreference(ctx, sel)
	if filled {
		preferred := req
		preferred.AudioID, preferred.QualityID = &withPref.AudioID, &withPref.QualityID
		res, err := f.api.Resolve(ctx, preferred)
		if err == nil {
			return f.resolved(ctx, sel, res), nil
		}
		if kina.KindOf(err) != kina.KindNotFound {
			return f.resolveFailed(ctx, sel, err)
		}
		// The stored pair does not exist for this title; let the server pick.
	}

	res, err := f.api.Resolve(ctx, req)
	if err != nil {
		return f.resolveFailed(ctx, sel, err)
	}
	return f.resolved(ctx, sel, res), nil
}

// withPreference fills a zero audio or quality id from the stored preference.
// It reports whether anything was filled.
func (f *Flow) withPreference(ctx context.Context, sel Selection) (Selection, bool) {
	if sel.TitleID <= 0 || (sel.AudioID > 0 && sel.QualityID > 0) {
		return sel, false
	}
	pref, err := prefs.LoadVariantPreference(ctx, f.store)
	if err != nil {
		f.logger.Warn().Err(err).Msg("load variant preference")
		return sel, false
	}
	filled := false
	if sel.AudioID <= 0 && pref.AudioID > 0 {
		sel.AudioID, filled = pref.AudioID, true
	}
	if sel.QualityID <= 0 && pref.QualityID > 0 {
		sel.QualityID, filled = pref.QualityID, true
	}
	return sel, filled && sel.AudioID > 0 && sel.QualityID > 0
}

func (f *Flow) resolveFailed(ctx context.Context, sel Selection, err error) (Resolution, error) {
	if kina.KindOf(err) == kina.KindNotFound {
		out := Resolution{Availability: Unavailable, Selection: sel}
		if avail, ok := kina.AvailabilityOf(err); ok {
			out.Options = &avail
		}
		return out, nil
	}
	logger := klog.WithContext(ctx, f.logger)
	logger.Debug().Err(err).Int64(klog.FieldTitleID, sel.TitleID).Msg("resolve failed")
	return Resolution{Availability: Transient, Selection: sel}, err
}

func (f *Flow) resolved(ctx context.Context, sel Selection, res *kina.ResolveResponse) Resolution {
	sel.AudioID, sel.QualityID = res.AudioID, res.QualityID
	if err := prefs.SaveVariantPreference(ctx, f.store, prefs.VariantPreference{AudioID: res.AudioID, QualityID: res.QualityID}); err != nil {
		f.logger.Warn().Err(err).Msg("persist variant preference")
	}

	// The resolved pair becomes the effective selection unless an attempt is
	// mid-flight or waiting on the ad gate.
	if f.lockStep() {
		if cur := f.State(); cur.Status != StatusAdGate {
			f.apply(ctx, Action{Event: EventSetParams, Selection: sel})
		}
		f.step.Unlock()
	}
	return Resolution{Availability: Available, Selection: sel, VariantID: res.VariantID}
}

// Start issues the watch request for the current selection. A direct answer
// is dispatched immediately; an ad_gate answer stops at StatusAdGate.
func (f *Flow) Start(ctx context.Context) (State, error) {
	if !f.lockStep() {
		return f.State(), ErrBusy
	}
	defer f.step.Unlock()

	sel := f.State().Selection
	if !sel.Complete() {
		return f.State(), ErrIncompleteSelection
	}
	ctx = f.attemptContext(ctx, true)
	if _, ok := f.apply(ctx, Action{Event: EventRequest}); !ok {
		return f.State(), ErrInvalidState
	}

	resp, err := f.api.WatchRequest(ctx, watchRequest(sel))
	if err != nil {
		return f.fail(ctx, err), err
	}
	switch resp.Mode {
	case kina.ModeAdGate:
		st, _ := f.apply(ctx, Action{Event: EventAdGate, VariantID: resp.VariantID})
		return st, nil
	case kina.ModeDirect:
		return f.dispatch(ctx, resp.VariantID)
	default:
		err := fmt.Errorf("%w %q", ErrUnknownMode, resp.Mode)
		return f.fail(ctx, err), err
	}
}

// StartAd begins an ad view for the gated variant. A server cooldown moves the
// flow to StatusAdsCooldown and keeps the variant for a later retry.
func (f *Flow) StartAd(ctx context.Context) (State, error) {
	if !f.lockStep() {
		return f.State(), ErrBusy
	}
	defer f.step.Unlock()

	cur := f.State()
	if !Allowed(cur.Status, EventAdStarted) {
		return cur, ErrInvalidState
	}
	ctx = f.attemptContext(ctx, false)

	resp, err := f.api.AdsStart(ctx, cur.VariantID)
	if err != nil {
		if kina.KindOf(err) == kina.KindRateLimited {
			var retryAfter time.Duration
			var apiErr *kina.Error
			if errors.As(err, &apiErr) {
				retryAfter = apiErr.RetryAfter
			}
			st, _ := f.apply(ctx, Action{Event: EventCooldown, RetryAfter: retryAfter})
			return st, err
		}
		return f.fail(ctx, err), err
	}
	st, _ := f.apply(ctx, Action{Event: EventAdStarted, Nonce: resp.Nonce})
	return st, nil
}

// CompleteAd confirms the ad view, replays the watch request and dispatches.
func (f *Flow) CompleteAd(ctx context.Context) (State, error) {
	if !f.lockStep() {
		return f.State(), ErrBusy
	}
	defer f.step.Unlock()

	cur := f.State()
	if cur.Status != StatusAdGate || cur.Nonce == "" {
		return cur, ErrInvalidState
	}
	ctx = f.attemptContext(ctx, false)

	done, err := f.api.AdsComplete(ctx, cur.Nonce)
	if err != nil {
		return f.fail(ctx, err), err
	}
	if !done.OK {
		err := errors.New("ad completion was not accepted")
		return f.fail(ctx, err), err
	}
	return f.replay(ctx, cur.Selection)
}

// SkipAdWithPass replays the watch request when the server still holds an ad
// pass for the gated variant. It reports false when there is no pass.
func (f *Flow) SkipAdWithPass(ctx context.Context) (bool, State, error) {
	if !f.lockStep() {
		return false, f.State(), ErrBusy
	}
	defer f.step.Unlock()

	cur := f.State()
	if cur.Status != StatusAdGate {
		return false, cur, ErrInvalidState
	}
	ctx = f.attemptContext(ctx, false)

	status, err := f.api.AdsStatus(ctx, cur.VariantID)
	if err != nil || !status.HasPass {
		return false, cur, err
	}
	st, err := f.replay(ctx, cur.Selection)
	return true, st, err
}

func (f *Flow) replay(ctx context.Context, sel Selection) (State, error) {
	resp, err := f.api.WatchRequest(ctx, watchRequest(sel))
	if err != nil {
		return f.fail(ctx, err), err
	}
	switch resp.Mode {
	case kina.ModeDirect:
		return f.dispatch(ctx, resp.VariantID)
	case kina.ModeAdGate:
		return f.fail(ctx, ErrPassNotApplied), ErrPassNotApplied
	default:
		err := fmt.Errorf("%w %q", ErrUnknownMode, resp.Mode)
		return f.fail(ctx, err), err
	}
}

func (f *Flow) dispatch(ctx context.Context, variantID int64) (State, error) {
	if _, ok := f.apply(ctx, Action{Event: EventDispatch, VariantID: variantID}); !ok {
		return f.State(), ErrInvalidState
	}
	res, err := f.api.Dispatch(ctx, f.State().VariantID)
	if err != nil {
		return f.fail(ctx, err), err
	}
	if !res.Queued {
		err := errors.New("delivery queue did not accept the request")
		return f.fail(ctx, err), err
	}
	st, _ := f.apply(ctx, Action{Event: EventQueued})
	return st, nil
}

func (f *Flow) fail(ctx context.Context, err error) State {
	st, _ := f.apply(ctx, Action{Event: EventFail, Message: kina.UserMessage(err)})
	return st
}

func watchRequest(sel Selection) kina.WatchRequest {
	return kina.WatchRequest{
		TitleID:   sel.TitleID,
		EpisodeID: sel.EpisodeID,
		AudioID:   sel.AudioID,
		QualityID: sel.QualityID,
	}
}
