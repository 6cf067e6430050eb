package forge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/c360studio/semreview/forge/appauth"
)

// ConnectorOptions selects the authentication mode for a Connector.
// Exactly one of Token or Auth must be set: a personal access token
// shared by every call, or an app authenticator minting per-installation
// tokens.
type ConnectorOptions struct {
	// Token is the PAT for token mode.
	Token string

	// Auth enables app mode. Installation ids from webhook payloads map
	// to their own clients; zero selects the authenticator's default.
	Auth *appauth.Authenticator

	// Client options shared by every built client.
	Options Options
}

// Connector hands out authenticated forge clients keyed by installation.
// Clients are built once and reused; in app mode the underlying
// transport refreshes installation tokens through the authenticator's
// cache, so a client stays valid across token rotations.
type Connector struct {
	token string
	auth  *appauth.Authenticator
	opts  Options

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewConnector validates the auth mode and returns an empty connector.
func NewConnector(opts ConnectorOptions) (*Connector, error) {
	if opts.Token == "" && opts.Auth == nil {
		return nil, fmt.Errorf("connector requires a token or an app authenticator")
	}
	if opts.Token != "" && opts.Auth != nil {
		return nil, fmt.Errorf("connector accepts a token or an app authenticator, not both")
	}
	return &Connector{
		token:   opts.Token,
		auth:    opts.Auth,
		opts:    opts.Options,
		clients: make(map[int64]*Client),
	}, nil
}

// Client returns a forge client authenticated for the installation. In
// token mode every installation shares the PAT-backed client and the id
// is ignored.
func (cn *Connector) Client(ctx context.Context, installationID int64) (*Client, error) {
	if cn.auth == nil {
		installationID = 0
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()

	if c, ok := cn.clients[installationID]; ok {
		return c, nil
	}

	var c *Client
	var err error
	if cn.auth == nil {
		c, err = NewTokenClient(ctx, cn.token, cn.opts)
	} else {
		c, err = cn.installationClient(installationID)
	}
	if err != nil {
		return nil, err
	}
	cn.clients[installationID] = c
	return c, nil
}

// installationClient builds a client whose transport asks the
// authenticator for a fresh installation token on every request. The
// authenticator caches tokens until shortly before expiry, so the
// per-request lookup is a map read in the common case.
func (cn *Connector) installationClient(installationID int64) (*Client, error) {
	timeout := cn.opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: installationTokenSource{auth: cn.auth, installationID: installationID},
		},
	}
	return NewClient(httpClient, cn.opts)
}

// installationTokenSource adapts the app authenticator to oauth2. The
// oauth2 transport calls Token without a context, so the exchange runs
// under its own deadline.
type installationTokenSource struct {
	auth           *appauth.Authenticator
	installationID int64
}

func (s installationTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	token, err := s.auth.InstallationToken(ctx, s.installationID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token}, nil
}
