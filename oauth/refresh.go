package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RefreshFunc performs the provider-specific refresh grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// ConfigRefresh returns a RefreshFunc using cfg's token endpoint.
func ConfigRefresh(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
		return cfg.TokenSource(ctx, expired).Token()
	}
}

// Refresher periodically checks a stored token and refreshes it when its
// expiry falls within Window.
type Refresher struct {
	Store    Store
	Provider string
	Interval time.Duration
	Window   time.Duration
	Refresh  RefreshFunc

	// PreJitter bounds the random pause before a refresh call.
	PreJitter time.Duration
	now       func() time.Time
}

// NewRefresher applies the default interval (5m) and window (15m) when unset.
func NewRefresher(store Store, provider string, interval, window time.Duration, fn RefreshFunc) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Refresher{
		Store:     store,
		Provider:  provider,
		Interval:  interval,
		Window:    window,
		Refresh:   fn,
		PreJitter: 5 * time.Second,
		now:       time.Now,
	}
}

// Run checks the token after a random initial delay and then every Interval
// (±20% jitter) until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(r.Interval/2) + 1))
	if !sleep(ctx, initialJitter) {
		return nil
	}
	for {
		if _, err := r.Check(ctx); err != nil {
			slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
		jitterRange := int64(r.Interval/5) + 1
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
		nextSleep := r.Interval + jitter
		if nextSleep < r.Interval/2 {
			nextSleep = r.Interval / 2
		}
		if !sleep(ctx, nextSleep) {
			return nil
		}
	}
}

// Check refreshes the token if it is due and reports whether it did.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	cur, err := r.Store.LoadToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if cur.RefreshToken == "" || !expiresWithin(cur, r.Window, r.now()) {
		return false, nil
	}
	if r.PreJitter > 0 {
		// Small pre-refresh jitter to avoid stampedes when many pods see same expiry
		//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
		if !sleep(ctx, time.Duration(rand.Int63n(int64(r.PreJitter)))) {
			return false, ctx.Err()
		}
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	fresh, err := r.Refresh(ctx2, cur.RefreshToken)
	cancel()
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", r.Provider, err)
	}
	next := FromOAuth2(r.Provider, fresh)
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	next.Scope = strings.TrimSpace(next.Scope)
	if err := r.Store.SaveToken(ctx, next); err != nil {
		return false, fmt.Errorf("persist %s token: %w", r.Provider, err)
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expiry", next.Expiry))
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
