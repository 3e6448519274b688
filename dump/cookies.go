package dump

import (
	"context"
	"errors"
	"log/slog"
	"time"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// DefaultCookieReloadInterval is how often the cookie file is re-read.
const DefaultCookieReloadInterval = time.Hour

// ErrInvalidCookies is returned by Reload when the cookies fail validation.
var ErrInvalidCookies = errors.New("cookies are invalid")

// CookieReloader periodically loads a cookie file, validates it and swaps it
// into a shared CredentialStore. Running clients pick the new cookies up on
// their next bootstrap.
type CookieReloader struct {
	Store    *blivedm.CredentialStore
	Load     func() (map[string]string, error)
	Validate func(ctx context.Context, cookies map[string]string) (bool, error)
	Interval time.Duration
	Logger   *slog.Logger
}

// Reload loads and validates once. The store is only updated on success.
func (r *CookieReloader) Reload(ctx context.Context) error {
	cookies, err := r.Load()
	if err != nil {
		return err
	}
	if r.Validate != nil {
		ok, err := r.Validate(ctx, cookies)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCookies
		}
	}
	r.Store.Store(cookies)
	return nil
}

// Run reloads every Interval until ctx is done. Failures keep the previous
// cookies.
func (r *CookieReloader) Run(ctx context.Context) error {
	log := r.Logger
	if log == nil {
		log = logging.Nop()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultCookieReloadInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		switch err := r.Reload(ctx); {
		case errors.Is(err, ErrInvalidCookies):
			log.Warn("cookies are invalid, skip updating")
		case err != nil && ctx.Err() == nil:
			log.Error("failed to load cookies", "error", err)
		case err == nil:
			log.Info("cookies reloaded")
		}
	}
}
