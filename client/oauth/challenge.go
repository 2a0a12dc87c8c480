package oauth

import (
	"strings"
)

// Challenge is a parsed WWW-Authenticate header value.
type Challenge struct {
	Scheme           string
	Realm            string
	Scope            string
	Error            string
	ErrorDescription string
	ResourceMetadata string // RFC 9728 pointer to protected resource metadata
}

// ScopeList splits the challenge scope parameter into individual scopes.
func (c *Challenge) ScopeList() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

// InsufficientScope reports whether the server asked for broader consent.
func (c *Challenge) InsufficientScope() bool {
	return c.Error == "insufficient_scope"
}

// ParseChallenge parses a WWW-Authenticate header. Only the first challenge
// is considered and unknown parameters are ignored. Returns false when the
// header is empty or not a Bearer challenge.
func ParseChallenge(header string) (Challenge, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Challenge{}, false
	}

	scheme := header
	rest := ""
	if idx := strings.IndexAny(header, " \t"); idx >= 0 {
		scheme = header[:idx]
		rest = strings.TrimSpace(header[idx+1:])
	}
	if !strings.EqualFold(scheme, "Bearer") {
		return Challenge{}, false
	}

	ch := Challenge{Scheme: "Bearer"}
	for _, param := range parseAuthParams(rest) {
		switch strings.ToLower(param.key) {
		case "realm":
			ch.Realm = param.value
		case "scope":
			ch.Scope = param.value
		case "error":
			ch.Error = param.value
		case "error_description":
			ch.ErrorDescription = param.value
		case "resource_metadata":
			ch.ResourceMetadata = param.value
		}
	}
	return ch, true
}

type authParam struct {
	key   string
	value string
}

// parseAuthParams splits an auth-param list into key=value pairs, honoring
// quoted strings with backslash escapes.
func parseAuthParams(s string) []authParam {
	var params []authParam
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' && s[i] != ',' {
			i++
		}
		key := strings.TrimSpace(s[start:i])
		if key == "" {
			// Malformed "=value" with no key; skip the equals sign so the
			// scan keeps moving.
			if i < len(s) && s[i] == '=' {
				i++
			}
			continue
		}
		var value string
		if i < len(s) && s[i] == '=' {
			i++
			if i < len(s) && s[i] == '"' {
				i++
				var b strings.Builder
				for i < len(s) && s[i] != '"' {
					if s[i] == '\\' && i+1 < len(s) {
						i++
					}
					b.WriteByte(s[i])
					i++
				}
				if i < len(s) {
					i++ // closing quote
				}
				value = b.String()
			} else {
				vs := i
				for i < len(s) && s[i] != ',' {
					i++
				}
				value = strings.TrimSpace(s[vs:i])
			}
		}
		params = append(params, authParam{key: key, value: value})
	}
	return params
}
