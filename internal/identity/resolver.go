package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	klog "github.com/Frozertiru-gif/Kina/internal/log"
	"github.com/Frozertiru-gif/Kina/internal/metrics"
	"github.com/Frozertiru-gif/Kina/internal/tg"
)

const (
	DefaultAttempts = 10
	DefaultDelay    = 150 * time.Millisecond
)

var errIdentityEmpty = errors.New("identity: all sources empty")

// Options tune the read-retry loop.
type Options struct {
	Attempts int
	Delay    time.Duration
	Now      func() time.Time
	// OnResolved runs after a refresh that produced a non-empty identity.
	OnResolved func(context.Context, HostIdentity)
}

// Resolver owns the process-wide HostIdentity.
type Resolver struct {
	native   Source
	query    Source
	fragment Source
	opts     Options
	logger   zerolog.Logger

	sf singleflight.Group

	mu  sync.RWMutex
	cur HostIdentity
}

// NewResolver builds a resolver over the three sources in priority order.
// Nil sources read as empty.
func NewResolver(native, query, fragment Source, opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		native:   orEmpty(native),
		query:    orEmpty(query),
		fragment: orEmpty(fragment),
		opts:     opts,
		logger:   klog.WithComponent("identity"),
		cur:      HostIdentity{Provenance: ProvenanceNone},
	}
}

func orEmpty(s Source) Source {
	if s == nil {
		return SourceFunc(nil)
	}
	return s
}

// Current returns the cached identity without reading any source.
func (r *Resolver) Current() HostIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// Stale reports whether the last attempt is older than maxAge.
func (r *Resolver) Stale(maxAge time.Duration) bool {
	cur := r.Current()
	return cur.CheckedAt.IsZero() || r.opts.Now().Sub(cur.CheckedAt) > maxAge
}

// Refresh re-reads the sources with bounded retry. Concurrent callers share
// one in-flight read. Exhausting all attempts yields an empty identity with
// provenance none; that is a valid outcome, not an error. If ctx ends first
// the caller gets the identity cached at that moment while the shared read
// continues for the others.
func (r *Resolver) Refresh(ctx context.Context) HostIdentity {
	ch := r.sf.DoChan("refresh", func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(HostIdentity)
	case <-ctx.Done():
		return r.Current()
	}
}

func (r *Resolver) refresh(ctx context.Context) HostIdentity {
	attempts := 0
	found, err := retryRead(ctx, r.opts.Attempts, r.opts.Delay, func() (HostIdentity, bool) {
		attempts++
		id, ok := r.readOnce()
		r.mu.Lock()
		r.cur.CheckedAt = r.opts.Now()
		r.mu.Unlock()
		return id, ok
	}, func(err error, next time.Duration) {
		r.logger.Debug().Int("attempt", attempts).Dur("retry_in", next).Msg("host identity not available yet")
	})

	now := r.opts.Now()
	r.mu.Lock()
	if err != nil {
		r.cur = HostIdentity{Provenance: ProvenanceNone, ReadAt: r.cur.ReadAt, CheckedAt: now}
	} else {
		found.ReadAt = now
		found.CheckedAt = now
		r.cur = found
	}
	out := r.cur
	r.mu.Unlock()

	metrics.RecordIdentityRefresh(string(out.Provenance), attempts)
	ev := r.logger.Info()
	if out.Empty() {
		ev = r.logger.Warn()
	}
	ev.Str(klog.FieldProvenance, string(out.Provenance)).
		Int("length", out.Len()).
		Int("attempts", attempts).
		Msg("host identity refreshed")

	if !out.Empty() && r.opts.OnResolved != nil {
		r.opts.OnResolved(ctx, out)
	}
	return out
}

// readOnce walks the fallback chain once.
func (r *Resolver) readOnce() (HostIdentity, bool) {
	chain := []struct {
		src  Source
		prov Provenance
	}{
		{r.native, ProvenanceNative},
		{r.query, ProvenanceQuery},
		{r.fragment, ProvenanceFragment},
	}
	for _, c := range chain {
		if v := strings.TrimSpace(c.src.Read()); v != "" {
			return HostIdentity{InitData: v, Provenance: c.prov}, true
		}
	}
	return HostIdentity{}, false
}

// retryRead calls read up to attempts times, delay apart, stopping at the
// first success.
func retryRead(ctx context.Context, attempts int, delay time.Duration, read func() (HostIdentity, bool), notify backoff.Notify) (HostIdentity, error) {
	return backoff.Retry(ctx, func() (HostIdentity, error) {
		id, ok := read()
		if !ok {
			return HostIdentity{}, errIdentityEmpty
		}
		return id, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(notify),
	)
}

// Diagnostics summarises the current identity for logs and the UI.
type Diagnostics struct {
	Provenance Provenance    `json:"provenance"`
	Length     int           `json:"length"`
	UserID     int64         `json:"user_id,omitempty"`
	StartParam string        `json:"start_param,omitempty"`
	AuthAge    time.Duration `json:"auth_age,omitempty"`
	ReadAt     time.Time     `json:"read_at,omitempty"`
	CheckedAt  time.Time     `json:"checked_at,omitempty"`
	ParseError string        `json:"parse_error,omitempty"`
}

// Describe decodes the current init data without exposing it.
func (r *Resolver) Describe() Diagnostics {
	cur := r.Current()
	d := Diagnostics{
		Provenance: cur.Provenance,
		Length:     cur.Len(),
		ReadAt:     cur.ReadAt,
		CheckedAt:  cur.CheckedAt,
	}
	if cur.Empty() {
		return d
	}
	parsed, err := tg.ParseInitData(cur.InitData)
	if err != nil {
		d.ParseError = err.Error()
		return d
	}
	d.UserID = parsed.UserID()
	d.StartParam = parsed.StartParam
	d.AuthAge = parsed.Age(r.opts.Now())
	return d
}
