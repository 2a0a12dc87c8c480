package oauth

import (
	"encoding/json"
	"sync"

	"golang.org/x/oauth2"
)

// Storage persists OAuth session state between runs. Implementations must
// be safe for concurrent use. Values are opaque JSON blobs so a file or
// keychain backend only has to move bytes.
type Storage interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// State kinds, each combined with the normalized server URL into a storage
// key.
const (
	keyToken            = "token"
	keyClientInfo       = "client_info"
	keyServerMetadata   = "server_metadata"
	keyResourceMetadata = "resource_metadata"
	keyPKCE             = "pkce"
	keyState            = "state"
)

// MemoryStorage keeps session state for the lifetime of the process. It is
// the default backend.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

func (s *MemoryStorage) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
}

func (s *MemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// sessionState gives a Provider typed access to its slice of a Storage,
// keyed by the normalized server URL.
type sessionState struct {
	storage Storage
	server  string
}

func (s sessionState) key(kind string) string {
	return kind + "::" + s.server
}

func (s sessionState) loadJSON(kind string, out interface{}) bool {
	raw, ok := s.storage.Get(s.key(kind))
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (s sessionState) saveJSON(kind string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	s.storage.Set(s.key(kind), raw)
}

func (s sessionState) loadToken() *oauth2.Token {
	var tok oauth2.Token
	if !s.loadJSON(keyToken, &tok) || tok.AccessToken == "" {
		return nil
	}
	return &tok
}

func (s sessionState) saveToken(tok *oauth2.Token) {
	s.saveJSON(keyToken, tok)
}

func (s sessionState) clearToken() {
	s.storage.Delete(s.key(keyToken))
}

func (s sessionState) loadClientInfo() *ClientInfo {
	var info ClientInfo
	if !s.loadJSON(keyClientInfo, &info) || info.ClientID == "" {
		return nil
	}
	return &info
}

func (s sessionState) saveClientInfo(info *ClientInfo) {
	s.saveJSON(keyClientInfo, info)
}

func (s sessionState) clearClientInfo() {
	s.storage.Delete(s.key(keyClientInfo))
}

func (s sessionState) loadServerMetadata() *ASMetadata {
	var md ASMetadata
	if !s.loadJSON(keyServerMetadata, &md) || md.TokenEndpoint == "" {
		return nil
	}
	return &md
}

func (s sessionState) saveServerMetadata(md *ASMetadata) {
	s.saveJSON(keyServerMetadata, md)
}

func (s sessionState) loadResourceMetadata() *ResourceMetadata {
	var rm ResourceMetadata
	if !s.loadJSON(keyResourceMetadata, &rm) || rm.Resource == "" {
		return nil
	}
	return &rm
}

func (s sessionState) saveResourceMetadata(rm *ResourceMetadata) {
	s.saveJSON(keyResourceMetadata, rm)
}

// The PKCE verifier and CSRF state live in storage only for the duration of
// one authorization round trip.

func (s sessionState) saveFlowSecrets(verifier, state string) {
	s.storage.Set(s.key(keyPKCE), []byte(verifier))
	s.storage.Set(s.key(keyState), []byte(state))
}

func (s sessionState) clearFlowSecrets() {
	s.storage.Delete(s.key(keyPKCE))
	s.storage.Delete(s.key(keyState))
}
