package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
)

const (
	// TokenExpirySkew treats tokens expiring within this window as already
	// expired, so a request never leaves with a token that dies in flight.
	TokenExpirySkew = 60 * time.Second

	defaultAuthTimeout = 2 * time.Minute
	defaultClientName  = "ruby-llm-mcp"
)

// Supported grant types.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
)

// Options configures a Provider.
type Options struct {
	ServerURL    string // The protected MCP endpoint
	Issuer       string // Authorization server, discovered when empty
	ClientID     string // Pre-registered client, dynamic registration when empty
	ClientSecret string
	Scopes       []string
	GrantType    string // authorization_code (default) or client_credentials
	RedirectURI  string // Full loopback redirect URI, overrides CallbackAddr
	CallbackAddr string // Loopback redirect listen address, random port when empty
	ClientName   string // client_name for dynamic registration

	HTTPClient  *http.Client
	Storage     Storage
	Logger      *zap.Logger
	AuthTimeout time.Duration // How long to wait for the user to finish the browser flow

	// AuthURLHandler presents the authorization URL to the user. Defaults
	// to opening the system browser.
	AuthURLHandler func(authURL string) error
}

// Provider implements the OAuth 2.1 machinery an MCP HTTP transport needs:
// metadata discovery, dynamic registration, PKCE authorization code with
// resource indicators, client credentials, refresh, and challenge handling
// after 401/403 responses.
type Provider struct {
	serverURL      string
	resource       string
	issuer         string
	clientID       string
	clientSecret   string
	scopes         []string
	grantType      string
	redirectURI    string
	callbackAddr   string
	clientName     string
	httpClient     *http.Client
	state          sessionState
	logger         *zap.Logger
	authTimeout    time.Duration
	authURLHandler func(string) error

	mu           sync.Mutex
	token        *oauth2.Token
	clientInfo   *ClientInfo
	asMeta       *ASMetadata
	resourceMeta *ResourceMetadata

	flight singleflight.Group
}

// New builds a Provider for the given server.
func New(opts Options) (*Provider, error) {
	resource, err := CanonicalResource(opts.ServerURL)
	if err != nil || resource == "" {
		return nil, fmt.Errorf("invalid server URL %q for OAuth provider: %w", opts.ServerURL, err)
	}
	switch opts.GrantType {
	case "", GrantAuthorizationCode, GrantClientCredentials:
	default:
		return nil, fmt.Errorf("unsupported grant type %q", opts.GrantType)
	}

	storage := opts.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	p := &Provider{
		serverURL:      opts.ServerURL,
		resource:       resource,
		issuer:         opts.Issuer,
		clientID:       opts.ClientID,
		clientSecret:   opts.ClientSecret,
		scopes:         opts.Scopes,
		grantType:      opts.GrantType,
		redirectURI:    opts.RedirectURI,
		callbackAddr:   opts.CallbackAddr,
		clientName:     opts.ClientName,
		httpClient:     opts.HTTPClient,
		state:          sessionState{storage: storage, server: resource},
		logger:         opts.Logger,
		authTimeout:    opts.AuthTimeout,
		authURLHandler: opts.AuthURLHandler,
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.authTimeout <= 0 {
		p.authTimeout = defaultAuthTimeout
	}
	if p.clientName == "" {
		p.clientName = defaultClientName
	}
	if p.authURLHandler == nil {
		p.authURLHandler = OpenBrowser
	}
	return p, nil
}

// Resource returns the canonical resource indicator for this server.
func (p *Provider) Resource() string {
	return p.resource
}

// Authorization returns a ready Authorization header value when a usable
// token exists, refreshing an expired one when possible. ok=false means the
// request should go out unauthenticated and the server's challenge drives
// the rest.
func (p *Provider) Authorization(ctx context.Context) (string, bool) {
	tok := p.currentToken()
	if tok == nil {
		return "", false
	}
	if tokenUsable(tok) {
		return tok.Type() + " " + tok.AccessToken, true
	}
	if tok.RefreshToken == "" {
		return "", false
	}
	refreshed, err := p.refresh(ctx)
	if err != nil {
		p.logger.Warn("token refresh failed", zap.Error(err))
		return "", false
	}
	return refreshed.Type() + " " + refreshed.AccessToken, true
}

// HandleChallenge reacts to a 401 or 403 response. It runs discovery,
// registration and the grant flow as needed, and returns a fresh
// Authorization header for a single retry of the original request.
func (p *Provider) HandleChallenge(ctx context.Context, resp *http.Response) (string, error) {
	ch, parsed := ParseChallenge(resp.Header.Get("WWW-Authenticate"))

	if resp.StatusCode == http.StatusForbidden {
		// A 403 without an insufficient_scope hint is an authorization
		// decision, not a consent problem. Re-running the flow would loop.
		if !parsed || !ch.InsufficientScope() {
			return "", &shared.AuthenticationRequiredError{
				Detail: firstNonEmpty(ch.ErrorDescription, "access forbidden by server"),
			}
		}
	}

	tok, err := p.acquire(ctx, &ch, false)
	if err != nil {
		var authErr *shared.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &shared.AuthenticationRequiredError{
			Detail: firstNonEmpty(ch.ErrorDescription, err.Error()),
			Cause:  err,
		}
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

// Authorize forces a full grant flow regardless of any stored token.
func (p *Provider) Authorize(ctx context.Context) error {
	_, err := p.acquire(ctx, &Challenge{}, true)
	return err
}

func (p *Provider) currentToken() *oauth2.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		p.token = p.state.loadToken()
	}
	return p.token
}

func (p *Provider) saveToken(tok *oauth2.Token) {
	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
	p.state.saveToken(tok)
}

func (p *Provider) dropToken() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
	p.state.clearToken()
}

func (p *Provider) dropClientInfo() {
	p.mu.Lock()
	p.clientInfo = nil
	p.mu.Unlock()
	p.state.clearClientInfo()
}

func tokenUsable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || time.Until(tok.Expiry) > TokenExpirySkew
}

// refresh exchanges the refresh token for a new access token. Concurrent
// callers share one exchange. A rotated refresh token replaces the old one
// in storage.
func (p *Provider) refresh(ctx context.Context) (*oauth2.Token, error) {
	v, err, _ := p.flight.Do("refresh", func() (interface{}, error) {
		tok := p.currentToken()
		if tok == nil {
			return nil, errors.New("no token to refresh")
		}
		if tokenUsable(tok) {
			// Another caller refreshed while we waited.
			return tok, nil
		}
		if tok.RefreshToken == "" {
			return nil, errors.New("token has no refresh token")
		}

		md, err := p.ensureMetadata(ctx, "", false)
		if err != nil {
			return nil, err
		}
		info, err := p.ensureClient(ctx, md)
		if err != nil {
			return nil, err
		}

		cfg := &oauth2.Config{
			ClientID:     info.ClientID,
			ClientSecret: info.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: md.TokenEndpoint},
		}

		// Forcing the expiry makes the token source perform the refresh
		// instead of handing the stale token back.
		stale := *tok
		stale.Expiry = time.Now().Add(-time.Minute)

		fresh, err := cfg.TokenSource(p.oauthContext(ctx), &stale).Token()
		if err != nil {
			if retrieveErrorCode(err) == "invalid_grant" {
				// The refresh token is dead, a new grant is needed.
				p.dropToken()
			}
			return nil, fmt.Errorf("token refresh failed: %w", describeOAuthError(err))
		}

		p.saveToken(fresh)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// acquire obtains a fresh token, through refresh when possible and a full
// grant flow otherwise. Concurrent challenges collapse into one flow.
func (p *Provider) acquire(ctx context.Context, ch *Challenge, force bool) (*oauth2.Token, error) {
	v, err, _ := p.flight.Do("acquire", func() (interface{}, error) {
		if !force {
			if tok := p.currentToken(); tok != nil && tok.RefreshToken != "" {
				if fresh, err := p.refresh(ctx); err == nil {
					return fresh, nil
				}
				// The refresh token is no good anymore, start over.
				p.dropToken()
			}
		}

		md, err := p.ensureMetadata(ctx, ch.ResourceMetadata, ch.ResourceMetadata != "")
		if err != nil {
			return nil, err
		}

		info, err := p.ensureClient(ctx, md)
		if err != nil {
			return nil, err
		}

		scopes := p.scopes
		if challengeScopes := ch.ScopeList(); len(challengeScopes) > 0 {
			scopes = mergeScopes(scopes, challengeScopes)
		}

		var token *oauth2.Token
		switch p.effectiveGrant() {
		case GrantClientCredentials:
			token, err = p.clientCredentialsToken(ctx, md, info, scopes)
		default:
			token, err = p.interactiveToken(ctx, md, info, scopes)
			if err != nil && p.clientID == "" && isRedirectMismatch(err) {
				// The cached registration carries a redirect URI the
				// server no longer accepts. Register again, retry once.
				p.logger.Warn("redirect URI rejected, re-registering client", zap.Error(err))
				p.dropClientInfo()
				if info, err = p.ensureClient(ctx, md); err == nil {
					token, err = p.interactiveToken(ctx, md, info, scopes)
				}
			}
		}
		if err != nil {
			return nil, err
		}

		p.saveToken(token)
		p.logger.Info("authorization complete",
			zap.String("resource", p.resource),
			zap.String("issuer", md.Issuer))
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (p *Provider) effectiveGrant() string {
	if p.grantType != "" {
		return p.grantType
	}
	if p.clientSecret != "" {
		return GrantClientCredentials
	}
	return GrantAuthorizationCode
}

// ensureClient returns usable client credentials, reusing a configured or
// cached registration and registering dynamically otherwise.
func (p *Provider) ensureClient(ctx context.Context, md *ASMetadata) (*ClientInfo, error) {
	if p.clientID != "" {
		return &ClientInfo{ClientID: p.clientID, ClientSecret: p.clientSecret}, nil
	}

	p.mu.Lock()
	info := p.clientInfo
	if info == nil {
		info = p.state.loadClientInfo()
		p.clientInfo = info
	}
	p.mu.Unlock()
	if info != nil && !info.SecretExpired() {
		return info, nil
	}

	if !md.SupportsRegistration() {
		return nil, &shared.AuthenticationRequiredError{
			Detail: fmt.Sprintf("%s does not support dynamic client registration; configure a client_id", md.Issuer),
		}
	}

	info, err := p.registerClient(ctx, md)
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed: %w", err)
	}

	p.mu.Lock()
	p.clientInfo = info
	p.mu.Unlock()
	p.state.saveClientInfo(info)

	p.logger.Debug("registered OAuth client",
		zap.String("issuer", md.Issuer),
		zap.String("client_id", info.ClientID))
	return info, nil
}

// registerClient performs dynamic client registration (RFC 7591) as a
// public client.
func (p *Provider) registerClient(ctx context.Context, md *ASMetadata) (*ClientInfo, error) {
	redirectURI := p.registrationRedirectURI()
	regReq := &ClientRegistrationRequest{
		ClientName:              p.clientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{GrantAuthorizationCode, "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(p.scopes, " "),
	}

	body, err := json.Marshal(regReq)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.RegistrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("registration endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var info ClientInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	if info.ClientID == "" {
		return nil, errors.New("registration response missing client_id")
	}
	if len(info.RedirectURIs) > 0 && info.RedirectURIs[0] != redirectURI {
		p.logger.Warn("server substituted a different redirect URI",
			zap.String("requested", redirectURI),
			zap.String("registered", info.RedirectURIs[0]))
	}
	return &info, nil
}

// interactiveToken walks the user through the PKCE authorization code flow
// on a loopback redirect.
func (p *Provider) interactiveToken(ctx context.Context, md *ASMetadata, info *ClientInfo, scopes []string) (*oauth2.Token, error) {
	addr, path, err := p.callbackTarget()
	if err != nil {
		return nil, err
	}
	listener, redirectURI, err := NewCallbackListener(addr, path)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	cfg := &oauth2.Config{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		Scopes:       scopes,
		Endpoint:     md.Endpoint(),
		RedirectURL:  redirectURI,
	}

	verifier := oauth2.GenerateVerifier()
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	p.state.saveFlowSecrets(verifier, state)
	defer p.state.clearFlowSecrets()

	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", p.resource))

	if err := p.authURLHandler(authURL); err != nil {
		p.logger.Warn("could not present authorization URL automatically",
			zap.String("url", authURL), zap.Error(err))
	}
	p.logger.Info("waiting for authorization", zap.String("url", authURL))

	waitCtx, cancel := context.WithTimeout(ctx, p.authTimeout)
	defer cancel()
	code, err := waitForAuthCallback(waitCtx, listener, path, state)
	if err != nil {
		return nil, fmt.Errorf("authorization was not completed: %w", err)
	}

	token, err := cfg.Exchange(p.oauthContext(ctx), code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("resource", p.resource))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", describeOAuthError(err))
	}
	return token, nil
}

// clientCredentialsToken performs the machine-to-machine flow for
// confidential clients.
func (p *Provider) clientCredentialsToken(ctx context.Context, md *ASMetadata, info *ClientInfo, scopes []string) (*oauth2.Token, error) {
	if info.ClientSecret == "" {
		return nil, errors.New("client_credentials grant requires a client secret")
	}
	if !md.SupportsGrantType(GrantClientCredentials) {
		return nil, fmt.Errorf("%s does not support the client_credentials grant", md.Issuer)
	}
	cfg := &clientcredentials.Config{
		ClientID:       info.ClientID,
		ClientSecret:   info.ClientSecret,
		TokenURL:       md.TokenEndpoint,
		Scopes:         scopes,
		EndpointParams: url.Values{"resource": {p.resource}},
	}
	token, err := cfg.Token(p.oauthContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("client credentials exchange failed: %w", describeOAuthError(err))
	}
	return token, nil
}

// oauthContext injects our HTTP client for the oauth2 library to use.
func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// callbackTarget resolves where the loopback redirect listener should bind
// and which path it should answer on.
func (p *Provider) callbackTarget() (addr, path string, err error) {
	if p.redirectURI == "" {
		return p.callbackAddr, "/callback", nil
	}
	u, err := url.Parse(p.redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URI %q: %w", p.redirectURI, err)
	}
	host := u.Host
	if u.Port() == "" {
		host = u.Host + ":0"
	}
	path = u.Path
	if path == "" {
		path = "/callback"
	}
	return host, path, nil
}

// registrationRedirectURI is the redirect URI sent with dynamic
// registration. With an ephemeral callback port we register the loopback
// host without one; servers honoring RFC 8252 accept loopback redirects on
// any port.
func (p *Provider) registrationRedirectURI() string {
	if p.redirectURI != "" {
		return p.redirectURI
	}
	if p.callbackAddr != "" {
		return fmt.Sprintf("http://%s/callback", p.callbackAddr)
	}
	return "http://localhost/callback"
}

func retrieveErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}

func describeOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return fmt.Errorf("%s: %s", re.ErrorCode, re.ErrorDescription)
	}
	return err
}

func isRedirectMismatch(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	detail := strings.ToLower(re.ErrorCode + " " + re.ErrorDescription)
	return strings.Contains(detail, "redirect")
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func serverOrigin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q has no origin", rawURL)
	}
	return (&url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}).String(), nil
}

func mergeScopes(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string{}, base...), extra...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
