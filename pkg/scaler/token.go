package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thorium-sh/thorium/pkg/client"
)

// tokenFile is the on-disk shape of a scaler's own rotating credential:
// a bearer token plus the timestamp it expires at. Distinct from
// apiserver.KeyStore's static "one line per key" file, which has no
// expiry concept — the scaler is the one long-lived component that needs
// one, so the expiry lives in its own small file rather than bolted onto
// the shared key format.
type tokenFile struct {
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

// TokenSource supplies the scaler's own credential and when it expires.
// The default implementation rereads a YAML file an operator (or an
// external rotation job) rewrites in place; tests can substitute a fake.
type TokenSource interface {
	Load() (token string, expiresAt time.Time, err error)
}

// FileTokenSource reads a tokenFile from disk on every Load call.
type FileTokenSource struct {
	Path string
}

func (f FileTokenSource) Load() (string, time.Time, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("scaler: reading token file: %w", err)
	}
	var tf tokenFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return "", time.Time{}, fmt.Errorf("scaler: parsing token file: %w", err)
	}
	return tf.Token, tf.ExpiresAt, nil
}

// refreshGraceWindow is how long before expiry the scaler starts trying to
// refresh (spec.md §4.2 "refreshed one week before expiry"), grounded on
// the original scaler/src/libs/cache.rs refresh_client check against
// thorium.expires < now - 1week.
const refreshGraceWindow = 7 * 24 * time.Hour

// ErrTokenExpiring is returned by RefreshLoop once the credential has
// expired without a successful refresh, so the scaler aborts rather than
// keep running on a token the API server rejects.
var ErrTokenExpiring = fmt.Errorf("scaler: token refresh failed repeatedly and is now within its grace window")

// RefreshLoop polls src on interval, calling api.SetToken whenever the
// credential changed, until ctx is cancelled. Refresh attempts start once
// the held token is within refreshGraceWindow of expiry and are retried on
// every tick; it returns ErrTokenExpiring only when the token has expired
// before a refresh succeeded.
func RefreshLoop(ctx context.Context, api *client.Client, src TokenSource, interval time.Duration) error {
	log := slog.With("component", "scaler", "subsystem", "token")

	token, expiresAt, err := src.Load()
	if err != nil {
		return fmt.Errorf("scaler: initial token load: %w", err)
	}
	api.SetToken(token)
	log.Info("loaded initial token", slog.Time("expires_at", expiresAt))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if time.Until(expiresAt) > refreshGraceWindow {
			continue
		}

		newToken, newExpiry, err := src.Load()
		if err != nil {
			log.Warn("token refresh attempt failed", slog.Any("error", err), slog.Duration("until_expiry", time.Until(expiresAt)))
			if time.Until(expiresAt) <= 0 {
				return ErrTokenExpiring
			}
			continue
		}
		if newToken == token && newExpiry.Equal(expiresAt) {
			// Rotation hasn't happened yet; keep polling until it does, but
			// bail once we've slid past expiry waiting for it.
			if time.Until(expiresAt) <= 0 {
				return ErrTokenExpiring
			}
			continue
		}

		api.SetToken(newToken)
		token, expiresAt = newToken, newExpiry
		log.Info("refreshed token", slog.Time("expires_at", expiresAt))
	}
}
