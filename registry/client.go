package registry

import (
	"log/slog"

	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DefaultUserAgent is sent on registry requests unless overridden.
const DefaultUserAgent = "mochi"

// Publisher pushes packaged archives to an OCI registry.
type Publisher struct {
	oci       OCIClient
	plainHTTP bool
	userAgent string
	store     credentials.Store
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithOCIClient replaces the default ORAS-backed client. Intended for tests.
func WithOCIClient(c OCIClient) Option {
	return func(p *Publisher) {
		p.oci = c
	}
}

// WithPlainHTTP talks to the registry over HTTP instead of HTTPS.
func WithPlainHTTP(plain bool) Option {
	return func(p *Publisher) {
		p.plainHTTP = plain
	}
}

// WithCredentialStore sets the store consulted for registry credentials.
func WithCredentialStore(store credentials.Store) Option {
	return func(p *Publisher) {
		p.store = store
	}
}

// WithStaticCredentials authenticates to registry with a username and password.
func WithStaticCredentials(registry, username, password string) Option {
	return WithCredentialStore(StaticCredentials(registry, username, password))
}

// WithStaticToken authenticates to registry with a bearer token.
func WithStaticToken(registry, token string) Option {
	return WithCredentialStore(StaticToken(registry, token))
}

// WithDockerConfig reads credentials from the docker config and helpers.
// If the config cannot be loaded the publisher falls back to anonymous access.
func WithDockerConfig() Option {
	return func(p *Publisher) {
		store, err := DefaultCredentialStore()
		if err != nil {
			p.log().Warn("docker credential store unavailable", "error", err)
			return
		}
		p.store = store
	}
}

// WithAnonymous clears any configured credentials.
func WithAnonymous() Option {
	return WithCredentialStore(nil)
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Publisher) {
		p.userAgent = ua
	}
}

// WithLogger sets the logger for registry operations.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a Publisher.
//
// If no OCIClient is provided via WithOCIClient, an ORAS-based client is
// built from the transport options.
func New(opts ...Option) *Publisher {
	p := &Publisher{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(p)
	}
	if p.oci == nil {
		p.oci = newORASClient(p.plainHTTP, p.userAgent, p.store)
	}
	return p
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Publisher) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}
