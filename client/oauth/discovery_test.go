package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) record(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, p)
}

func (r *pathRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newTestProvider(t *testing.T, srv *httptest.Server, serverURL string) *Provider {
	t.Helper()
	p, err := New(Options{
		ServerURL:  serverURL,
		HTTPClient: srv.Client(),
		Storage:    NewMemoryStorage(),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return p
}

func TestDiscoveryProbeOrder(t *testing.T) {
	rec := &pathRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, srv.URL+"/mcp")
	md, rm, err := p.runDiscovery(context.Background(), srv.URL+"/challenge-metadata")
	require.NoError(t, err)
	require.Nil(t, rm)
	require.NotNil(t, md)
	assert.Equal(t, srv.URL+"/token", md.TokenEndpoint,
		"a server publishing no metadata at all gets the conventional endpoints")

	assert.Equal(t, []string{
		"/challenge-metadata",
		"/.well-known/oauth-protected-resource/mcp",
		"/.well-known/oauth-protected-resource",
		"/.well-known/oauth-authorization-server",
		"/.well-known/openid-configuration",
	}, rec.snapshot(), "the challenge hint is probed first, then well-known resource metadata, then the origin as its own issuer")
}

func TestDiscoveryWalksIssuersInOrder(t *testing.T) {
	rec := &pathRecorder{}
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/hint":
			_ = json.NewEncoder(w).Encode(ResourceMetadata{
				Resource:             srvURL + "/mcp",
				AuthorizationServers: []string{srvURL + "/as1", srvURL + "/as2"},
			})
		case "/.well-known/oauth-authorization-server/as2":
			_ = json.NewEncoder(w).Encode(ASMetadata{
				Issuer:                srvURL + "/as2",
				AuthorizationEndpoint: srvURL + "/as2/authorize",
				TokenEndpoint:         srvURL + "/as2/token",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	p := newTestProvider(t, srv, srv.URL+"/mcp")
	md, rm, err := p.runDiscovery(context.Background(), srv.URL+"/hint")
	require.NoError(t, err)
	require.NotNil(t, rm)
	require.NotNil(t, md)
	assert.Equal(t, srv.URL+"/as2", md.Issuer)

	assert.Equal(t, []string{
		"/hint",
		"/.well-known/oauth-authorization-server/as1",
		"/.well-known/oauth-authorization-server",
		"/.well-known/openid-configuration/as1",
		"/.well-known/openid-configuration",
		"/.well-known/oauth-authorization-server/as2",
	}, rec.snapshot(), "each issuer tries authorization-server metadata before openid-configuration, and a dead issuer falls through to the next")
}

func TestDiscoveryConfiguredIssuerSkipsResourceProbes(t *testing.T) {
	rec := &pathRecorder{}
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		if r.URL.Path != ASMetadataWellKnownPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ASMetadata{
			Issuer:                srvURL,
			AuthorizationEndpoint: srvURL + "/authorize",
			TokenEndpoint:         srvURL + "/token",
		})
	}))
	defer srv.Close()
	srvURL = srv.URL

	p, err := New(Options{
		ServerURL:  srv.URL + "/mcp",
		Issuer:     srv.URL,
		HTTPClient: srv.Client(),
		Storage:    NewMemoryStorage(),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	md, rm, err := p.runDiscovery(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, rm)
	assert.Equal(t, srv.URL, md.Issuer)
	assert.Equal(t, []string{ASMetadataWellKnownPath}, rec.snapshot())
}

func TestDiscoverResourceMetadataRejectsForeignResource(t *testing.T) {
	rec := &pathRecorder{}
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case ResourceMetadataWellKnownPath + "/mcp":
			_ = json.NewEncoder(w).Encode(ResourceMetadata{Resource: "https://somewhere-else.example"})
		case ResourceMetadataWellKnownPath:
			_ = json.NewEncoder(w).Encode(ResourceMetadata{Resource: srvURL + "/mcp"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	p := newTestProvider(t, srv, srv.URL+"/mcp")
	rm := p.discoverResourceMetadata(context.Background(), "")
	require.NotNil(t, rm)
	assert.Equal(t, srv.URL+"/mcp", rm.Resource, "a document naming someone else's resource is skipped")
	assert.Equal(t, []string{
		ResourceMetadataWellKnownPath + "/mcp",
		ResourceMetadataWellKnownPath,
	}, rec.snapshot())
}

func TestEnsureMetadataPrefersStorageAndForceBypasses(t *testing.T) {
	rec := &pathRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, srv.URL+"/mcp")
	p.state.saveServerMetadata(&ASMetadata{
		Issuer:                "https://stored.example",
		AuthorizationEndpoint: "https://stored.example/authorize",
		TokenEndpoint:         "https://stored.example/token",
	})

	md, err := p.ensureMetadata(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, "https://stored.example", md.Issuer)
	assert.Empty(t, rec.snapshot(), "cached metadata answers without touching the network")

	md, err = p.ensureMetadata(context.Background(), srv.URL+"/hint", true)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/token", md.TokenEndpoint)
	assert.NotEmpty(t, rec.snapshot(), "a challenge hint forces a fresh discovery run")
}
