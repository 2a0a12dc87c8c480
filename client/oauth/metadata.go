package oauth

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// ASMetadataWellKnownPath is the OAuth 2.0 Authorization Server Metadata endpoint (RFC 8414).
	ASMetadataWellKnownPath = "/.well-known/oauth-authorization-server"

	// OIDCWellKnownPath is the OpenID Connect Discovery endpoint (RFC 5785).
	OIDCWellKnownPath = "/.well-known/openid-configuration"

	// ResourceMetadataWellKnownPath is the Protected Resource Metadata endpoint (RFC 9728).
	ResourceMetadataWellKnownPath = "/.well-known/oauth-protected-resource"
)

// ASMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414).
type ASMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
}

// SupportsS256 returns true if the server supports the S256 challenge method.
func (m *ASMetadata) SupportsS256() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return false
}

// SupportsGrantType returns true if the server supports the given grant type.
// Per RFC 8414, grant_types_supported is optional - when omitted, we return true
// to avoid blocking flows that might be supported.
func (m *ASMetadata) SupportsGrantType(grantType string) bool {
	if len(m.GrantTypesSupported) == 0 {
		return true
	}
	for _, gt := range m.GrantTypesSupported {
		if gt == grantType {
			return true
		}
	}
	return false
}

// SupportsRegistration returns true if the server supports dynamic client registration.
func (m *ASMetadata) SupportsRegistration() bool {
	return m.RegistrationEndpoint != ""
}

// synthesizeASMetadata builds last-resort metadata for servers that publish
// none, using the conventional endpoint paths on the given origin.
func synthesizeASMetadata(origin string) *ASMetadata {
	return &ASMetadata{
		Issuer:                origin,
		AuthorizationEndpoint: origin + "/authorize",
		TokenEndpoint:         origin + "/token",
		RegistrationEndpoint:  origin + "/register",
	}
}

// Endpoint returns an oauth2.Endpoint from the metadata.
func (m *ASMetadata) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  m.AuthorizationEndpoint,
		TokenURL: m.TokenEndpoint,
	}
}

// ResourceMetadata represents OAuth 2.0 Protected Resource Metadata (RFC 9728).
type ResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// ClientRegistrationRequest represents a dynamic client registration request (RFC 7591).
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientInfo represents the response from dynamic client registration.
type ClientInfo struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// SecretExpired reports whether a registered secret has passed its
// client_secret_expires_at. Zero means the secret never expires (RFC 7591).
func (c *ClientInfo) SecretExpired() bool {
	if c.ClientSecret == "" || c.ClientSecretExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() >= c.ClientSecretExpiresAt
}

// CanonicalResource normalizes a server URL into the resource indicator sent
// with authorization and token requests (RFC 8707). Scheme and host are
// lowercased, query and fragment are dropped and a trailing slash is
// stripped.
func CanonicalResource(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		host := u.Hostname()
		if strings.Contains(host, ":") {
			host = "[" + host + "]" // put the brackets back on IPv6 literals
		}
		u.Host = host
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// sameNormalized reports whether two URLs are equivalent after
// normalization. Used for the issuer identity check during discovery.
func sameNormalized(a, b string) bool {
	ca, errA := CanonicalResource(a)
	cb, errB := CanonicalResource(b)
	return errA == nil && errB == nil && ca == cb
}

// resourceMatches validates the resource named by protected resource
// metadata against the resource we expect to talk to. The advertised value
// must carry no userinfo, query or fragment, and must equal the expected
// resource, its origin, or a path prefix of it.
func resourceMatches(advertised, expected string) bool {
	u, err := url.Parse(advertised)
	if err != nil || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return false
	}
	canon, err := CanonicalResource(advertised)
	if err != nil || canon == "" {
		return false
	}
	if canon == expected {
		return true
	}
	return strings.HasPrefix(expected, canon+"/")
}
