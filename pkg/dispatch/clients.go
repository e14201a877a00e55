package dispatch

import (
	"context"
	"errors"

	"reviewhook/internal"
	"reviewhook/pkg/githubapp"
)

// ErrMissingInstallation marks payloads that carry no installation id. The
// worker logs these and drops the event without making any API call.
var ErrMissingInstallation = errors.New("installation id missing from payload")

// ClientProvider returns a client authenticated for the event's installation.
type ClientProvider interface {
	Client(ctx context.Context, evt *internal.Event) (*githubapp.Client, error)
}

// ClientProviderFunc adapts a function to the ClientProvider interface.
type ClientProviderFunc func(ctx context.Context, evt *internal.Event) (*githubapp.Client, error)

func (fn ClientProviderFunc) Client(ctx context.Context, evt *internal.Event) (*githubapp.Client, error) {
	return fn(ctx, evt)
}

// AppClientProvider resolves the installation id from the payload, exchanges
// it for an installation token and builds a client bound to that token. This
// is the primary auth path.
type AppClientProvider struct {
	minter  *githubapp.TokenMinter
	baseURL string
}

// NewAppClientProvider creates the App-token provider.
func NewAppClientProvider(minter *githubapp.TokenMinter, baseURL string) *AppClientProvider {
	return &AppClientProvider{minter: minter, baseURL: baseURL}
}

func (p *AppClientProvider) Client(ctx context.Context, evt *internal.Event) (*githubapp.Client, error) {
	if evt == nil {
		return nil, errors.New("event is required")
	}
	installationID, ok, err := githubapp.InstallationIDFromPayload(evt.RawPayload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMissingInstallation
	}
	token, err := p.minter.Token(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return githubapp.NewInstallationClient(ctx, token, p.baseURL)
}

// LegacyTokenProvider authenticates every event with one shared personal
// access token. Degraded fallback only, for deployments without App
// credentials.
type LegacyTokenProvider struct {
	token   string
	baseURL string
}

// NewLegacyTokenProvider creates the PAT fallback provider.
func NewLegacyTokenProvider(token, baseURL string) *LegacyTokenProvider {
	return &LegacyTokenProvider{token: token, baseURL: baseURL}
}

func (p *LegacyTokenProvider) Client(ctx context.Context, evt *internal.Event) (*githubapp.Client, error) {
	return githubapp.NewLegacyTokenClient(ctx, p.token, p.baseURL)
}
