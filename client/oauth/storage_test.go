package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestMemoryStorageCopiesValues(t *testing.T) {
	st := NewMemoryStorage()
	buf := []byte("secret")
	st.Set("k", buf)
	buf[0] = 'X'

	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("secret"), got)

	got[0] = 'Y'
	again, _ := st.Get("k")
	assert.Equal(t, []byte("secret"), again)

	st.Delete("k")
	_, ok = st.Get("k")
	assert.False(t, ok)
}

func TestSessionStateIsolatesServers(t *testing.T) {
	st := NewMemoryStorage()
	a := sessionState{storage: st, server: "https://a.example.com/mcp"}
	b := sessionState{storage: st, server: "https://b.example.com/mcp"}

	a.saveToken(&oauth2.Token{AccessToken: "at-a", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})
	assert.Nil(t, b.loadToken(), "tokens are keyed by server")
	require.NotNil(t, a.loadToken())

	_, ok := st.Get("token::https://a.example.com/mcp")
	assert.True(t, ok, "keys combine the state kind with the server URL")
}

func TestSessionStateFlowSecrets(t *testing.T) {
	st := NewMemoryStorage()
	s := sessionState{storage: st, server: "https://a.example.com/mcp"}
	s.saveFlowSecrets("verifier-1", "state-1")

	v, ok := st.Get(s.key(keyPKCE))
	require.True(t, ok)
	assert.Equal(t, "verifier-1", string(v))
	v, ok = st.Get(s.key(keyState))
	require.True(t, ok)
	assert.Equal(t, "state-1", string(v))

	s.clearFlowSecrets()
	_, ok = st.Get(s.key(keyPKCE))
	assert.False(t, ok)
	_, ok = st.Get(s.key(keyState))
	assert.False(t, ok)
}

func TestSessionStateRejectsPartialRecords(t *testing.T) {
	st := NewMemoryStorage()
	s := sessionState{storage: st, server: "srv"}

	st.Set(s.key(keyToken), []byte(`{"token_type":"Bearer"}`))
	assert.Nil(t, s.loadToken(), "a token without an access token is useless")

	st.Set(s.key(keyClientInfo), []byte(`{"client_name":"x"}`))
	assert.Nil(t, s.loadClientInfo())

	st.Set(s.key(keyServerMetadata), []byte(`{"issuer":"https://as.example.com"}`))
	assert.Nil(t, s.loadServerMetadata(), "metadata without a token endpoint cannot drive a flow")

	st.Set(s.key(keyToken), []byte(`not json`))
	assert.Nil(t, s.loadToken())
}
