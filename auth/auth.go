// Package auth models the bearer credential used for authenticated
// requests to the distribution backend.
//
// Credentials is an immutable value. A refreshed token is a new value
// returned by Renew; nothing is mutated in place, so a Credentials can be
// shared between goroutines and threaded through every call that needs it.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meigma/mochi/internal/mochitype"
)

var (
	ErrCredentialsExpired = mochitype.ErrCredentialsExpired
	ErrNotFound           = mochitype.ErrNotFound
)

// DefaultTokenType is used when a credential does not name its type.
const DefaultTokenType = "bearer"

// Credentials is an access token plus the metadata needed to judge and
// renew it. The JSON form matches the auth.json file written by login.
type Credentials struct {
	TokenType        string    `json:"token_type,omitempty"`
	AccessToken      string    `json:"access_token"`
	ExpiresAt        time.Time `json:"expires_at,omitzero"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	AccountID        string    `json:"account_id,omitempty"`
}

// Basic returns client credentials for HTTP basic authentication.
func Basic(id, secret string) Credentials {
	return Credentials{
		TokenType:   "basic",
		AccessToken: base64.StdEncoding.EncodeToString([]byte(id + ":" + secret)),
	}
}

// IsZero reports whether c carries no token.
func (c Credentials) IsZero() bool {
	return c.AccessToken == ""
}

// Valid reports whether the access token is usable at now. A token
// without an expiry never expires.
func (c Credentials) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Refreshable reports whether the access token has expired but the
// refresh token can still be exchanged at now.
func (c Credentials) Refreshable(now time.Time) bool {
	if c.Valid(now) || c.RefreshToken == "" {
		return false
	}
	return c.RefreshExpiresAt.IsZero() || now.Before(c.RefreshExpiresAt)
}

// Renew returns a copy of c carrying a new access token.
func (c Credentials) Renew(accessToken string, expiresAt time.Time) Credentials {
	c.AccessToken = accessToken
	c.ExpiresAt = expiresAt
	return c
}

// Authorization returns the Authorization header value.
func (c Credentials) Authorization() string {
	return c.tokenType() + " " + c.AccessToken
}

func (c Credentials) tokenType() string {
	if c.TokenType == "" {
		return DefaultTokenType
	}
	return strings.ToLower(c.TokenType)
}

// Apply sets the Authorization header on req. It fails with
// ErrCredentialsExpired when the token is not valid at now.
func (c Credentials) Apply(req *nethttp.Request, now time.Time) error {
	if !c.Valid(now) {
		return fmt.Errorf("auth: %w", ErrCredentialsExpired)
	}
	req.Header.Set("Authorization", c.Authorization())
	return nil
}

// String redacts the token.
func (c Credentials) String() string {
	if c.IsZero() {
		return "auth.Credentials{}"
	}
	return fmt.Sprintf("auth.Credentials{type=%s account=%s token=REDACTED}", c.tokenType(), c.AccountID)
}

// Load reads credentials from a JSON file.
func Load(path string) (Credentials, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("auth: %s: %w", path, ErrNotFound)
		}
		return Credentials{}, fmt.Errorf("auth: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("auth: decode %s: %w", path, err)
	}
	return c, nil
}

// Save writes credentials to path with owner-only permissions, replacing
// any previous file atomically.
func Save(path string, c Credentials) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".auth-*")
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()        //nolint:errcheck // best-effort cleanup
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("auth: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("auth: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("auth: rename: %w", err)
	}
	return nil
}
