package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
)

// TestInteractiveAuthorizationFlow drives the whole ladder against a fake
// authorization server: discovery, dynamic registration, the PKCE
// authorization code grant on a loopback redirect, and the token exchange.
func TestInteractiveAuthorizationFlow(t *testing.T) {
	var (
		mu         sync.Mutex
		authQuery  url.Values
		registered ClientRegistrationRequest
		tokenForm  url.Values
	)
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ASMetadataWellKnownPath:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(ASMetadata{
				Issuer:                        srvURL,
				AuthorizationEndpoint:         srvURL + "/authorize",
				TokenEndpoint:                 srvURL + "/token",
				RegistrationEndpoint:          srvURL + "/register",
				CodeChallengeMethodsSupported: []string{"S256"},
			})
		case "/register":
			mu.Lock()
			_ = json.NewDecoder(r.Body).Decode(&registered)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(ClientInfo{ClientID: "dyn-1"})
		case "/token":
			require.NoError(t, r.ParseForm())
			mu.Lock()
			tokenForm = r.PostForm
			challenge := authQuery.Get("code_challenge")
			mu.Unlock()
			sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
			if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant","error_description":"verifier does not match challenge"}`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"at-1","token_type":"Bearer","refresh_token":"rt-1","expires_in":3600}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	storage := NewMemoryStorage()
	p, err := New(Options{
		ServerURL:   srv.URL + "/mcp",
		Scopes:      []string{"mcp:read"},
		HTTPClient:  srv.Client(),
		Storage:     storage,
		Logger:      zap.NewNop(),
		AuthTimeout: 5 * time.Second,
		AuthURLHandler: func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			q := u.Query()
			mu.Lock()
			authQuery = q
			mu.Unlock()
			// Play the user's browser: land on the redirect with the code.
			redirect := q.Get("redirect_uri") + "?code=code-1&state=" + url.QueryEscape(q.Get("state"))
			go func() {
				resp, err := http.Get(redirect)
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		},
	})
	require.NoError(t, err)

	challenge := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
	challenge.Header.Set("WWW-Authenticate", `Bearer realm="mcp"`)

	header, err := p.HandleChallenge(context.Background(), challenge)
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-1", header)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "dyn-1", authQuery.Get("client_id"))
	assert.Equal(t, "S256", authQuery.Get("code_challenge_method"))
	assert.Equal(t, p.Resource(), authQuery.Get("resource"))
	assert.NotEmpty(t, authQuery.Get("state"))
	redirect, err := url.Parse(authQuery.Get("redirect_uri"))
	require.NoError(t, err)
	assert.Equal(t, "/callback", redirect.Path)

	assert.Equal(t, []string{GrantAuthorizationCode, "refresh_token"}, registered.GrantTypes)
	assert.Equal(t, "none", registered.TokenEndpointAuthMethod)

	assert.Equal(t, "authorization_code", tokenForm.Get("grant_type"))
	assert.Equal(t, "code-1", tokenForm.Get("code"))
	assert.Equal(t, p.Resource(), tokenForm.Get("resource"))

	_, ok := storage.Get("pkce::" + p.Resource())
	assert.False(t, ok, "the verifier must not outlive the exchange")
	_, ok = storage.Get("state::" + p.Resource())
	assert.False(t, ok)

	value, ok := p.Authorization(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Bearer at-1", value, "the next request reuses the stored token")
}

func TestPKCEChallengeDerivation(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), oauth2.S256ChallengeFromVerifier(verifier))
}

func TestAuthorizationRefreshesExpiredToken(t *testing.T) {
	var (
		mu   sync.Mutex
		form url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseForm())
		mu.Lock()
		form = r.PostForm
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","token_type":"Bearer","refresh_token":"rt-1","expires_in":3600}`)
	}))
	defer srv.Close()

	p, err := New(Options{
		ServerURL:  srv.URL + "/mcp",
		ClientID:   "cli-1",
		HTTPClient: srv.Client(),
		Storage:    NewMemoryStorage(),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	p.state.saveServerMetadata(&ASMetadata{
		Issuer:                srv.URL,
		AuthorizationEndpoint: srv.URL + "/authorize",
		TokenEndpoint:         srv.URL + "/token",
	})
	p.state.saveToken(&oauth2.Token{
		AccessToken:  "at-0",
		TokenType:    "Bearer",
		RefreshToken: "rt-0",
		Expiry:       time.Now().Add(-time.Hour),
	})

	header, ok := p.Authorization(context.Background())
	require.True(t, ok)
	assert.Equal(t, "Bearer at-2", header)

	mu.Lock()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-0", form.Get("refresh_token"))
	mu.Unlock()

	stored := p.state.loadToken()
	require.NotNil(t, stored)
	assert.Equal(t, "at-2", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken, "a rotated refresh token replaces the old one")
}

func TestHandleChallengeForbiddenWithoutScopeHint(t *testing.T) {
	p, err := New(Options{ServerURL: "https://mcp.example.com/rpc", Logger: zap.NewNop()})
	require.NoError(t, err)

	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	resp.Header.Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="nope"`)

	_, err = p.HandleChallenge(context.Background(), resp)
	var authErr *shared.AuthenticationRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "nope", authErr.Detail)
}

func TestHandleChallengeClientCredentialsMergesScopes(t *testing.T) {
	var (
		mu   sync.Mutex
		form url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseForm())
		mu.Lock()
		form = r.PostForm
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-3","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	p, err := New(Options{
		ServerURL:    srv.URL + "/mcp",
		ClientID:     "m2m",
		ClientSecret: "secret",
		Scopes:       []string{"mcp:read"},
		HTTPClient:   srv.Client(),
		Storage:      NewMemoryStorage(),
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	p.state.saveServerMetadata(&ASMetadata{
		Issuer:                srv.URL,
		AuthorizationEndpoint: srv.URL + "/authorize",
		TokenEndpoint:         srv.URL + "/token",
	})

	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	resp.Header.Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="mcp:read mcp:write"`)

	header, err := p.HandleChallenge(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-3", header)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "mcp:read mcp:write", form.Get("scope"), "the challenge's scope is merged into the configured one")
	assert.Equal(t, p.Resource(), form.Get("resource"))
}

func TestCallbackDeliversCode(t *testing.T) {
	listener, redirectURI, err := NewCallbackListener("", "")
	require.NoError(t, err)

	go func() {
		resp, err := http.Get(redirectURI + "?code=c-9&state=good-state")
		if err == nil {
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := waitForAuthCallback(ctx, listener, "/callback", "good-state")
	require.NoError(t, err)
	assert.Equal(t, "c-9", code)
}

func TestCallbackRejectsForgedState(t *testing.T) {
	listener, redirectURI, err := NewCallbackListener("", "")
	require.NoError(t, err)

	statusCh := make(chan int, 1)
	go func() {
		resp, err := http.Get(redirectURI + "?code=c-9&state=forged")
		if err != nil {
			statusCh <- 0
			return
		}
		resp.Body.Close()
		statusCh <- resp.StatusCode
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = waitForAuthCallback(ctx, listener, "/callback", "good-state")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
	assert.Equal(t, http.StatusBadRequest, <-statusCh)
}

func TestCallbackListenerRefusesNonLoopback(t *testing.T) {
	_, _, err := NewCallbackListener("0.0.0.0:0", "/callback")
	require.Error(t, err)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(Options{ServerURL: "://bad"})
	require.Error(t, err)

	_, err = New(Options{ServerURL: "https://ok.example.com", GrantType: "implicit"})
	require.Error(t, err)
}
