package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var errNotFound = errors.New("metadata endpoint not found")

// fetchJSON GETs a metadata document. 404 maps to errNotFound so discovery
// can fall through to the next candidate.
func (p *Provider) fetchJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ensureMetadata returns authorization server metadata for this server,
// consulting memory, then storage, then live discovery. force skips the
// caches, which happens when a challenge carried a resource_metadata hint
// and our cached view may be stale.
func (p *Provider) ensureMetadata(ctx context.Context, hint string, force bool) (*ASMetadata, error) {
	if !force {
		p.mu.Lock()
		cached := p.asMeta
		p.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		if stored := p.state.loadServerMetadata(); stored != nil {
			p.mu.Lock()
			p.asMeta = stored
			p.mu.Unlock()
			return stored, nil
		}
	}

	md, rm, err := p.runDiscovery(ctx, hint)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.asMeta = md
	if rm != nil {
		p.resourceMeta = rm
	}
	p.mu.Unlock()

	p.state.saveServerMetadata(md)
	if rm != nil {
		p.state.saveResourceMetadata(rm)
	}
	return md, nil
}

// runDiscovery walks the discovery ladder: protected resource metadata
// (challenge hint, then path-based, then root), authorization server
// metadata per advertised issuer, legacy origin-as-issuer, and finally
// synthesized default endpoints.
func (p *Provider) runDiscovery(ctx context.Context, hint string) (*ASMetadata, *ResourceMetadata, error) {
	origin, err := serverOrigin(p.serverURL)
	if err != nil {
		return nil, nil, err
	}

	if p.issuer != "" {
		// An explicitly configured issuer skips resource metadata probing.
		md, err := p.asMetadataForIssuer(ctx, p.issuer, false)
		if err != nil {
			return nil, nil, err
		}
		return md, nil, nil
	}

	rm := p.discoverResourceMetadata(ctx, hint)
	if rm != nil {
		for _, issuer := range rm.AuthorizationServers {
			md, err := p.asMetadataForIssuer(ctx, issuer, false)
			if err != nil {
				p.logger.Debug("issuer discovery failed",
					zap.String("issuer", issuer), zap.Error(err))
				continue
			}
			return md, rm, nil
		}
	}

	// Legacy servers act as their own authorization server on the MCP
	// origin. An issuer mismatch is tolerated here.
	md, err := p.asMetadataForIssuer(ctx, origin, true)
	if err == nil {
		return md, rm, nil
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	p.logger.Warn("no OAuth metadata published, falling back to default endpoints",
		zap.String("origin", origin))
	return synthesizeASMetadata(origin), rm, nil
}

// discoverResourceMetadata fetches RFC 9728 protected resource metadata.
// The hint, when present, comes from a WWW-Authenticate resource_metadata
// parameter and wins over well-known probing. Documents naming a resource
// other than ours are rejected. Returns nil when nothing usable is found.
func (p *Provider) discoverResourceMetadata(ctx context.Context, hint string) *ResourceMetadata {
	var candidates []string
	if hint != "" {
		candidates = append(candidates, hint)
	}

	if u, err := url.Parse(p.serverURL); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		if basePath := strings.TrimRight(u.Path, "/"); basePath != "" {
			u.Path = ResourceMetadataWellKnownPath + basePath
			candidates = append(candidates, u.String())
		}
		u.Path = ResourceMetadataWellKnownPath
		candidates = append(candidates, u.String())
	}

	for _, candidate := range candidates {
		var rm ResourceMetadata
		if err := p.fetchJSON(ctx, candidate, &rm); err != nil {
			if !errors.Is(err, errNotFound) {
				p.logger.Debug("resource metadata fetch failed",
					zap.String("url", candidate), zap.Error(err))
			}
			continue
		}
		if !resourceMatches(rm.Resource, p.resource) {
			p.logger.Warn("resource metadata names a different resource, ignoring",
				zap.String("url", candidate),
				zap.String("advertised", rm.Resource),
				zap.String("expected", p.resource))
			continue
		}
		return &rm
	}
	return nil
}

// asMetadataForIssuer fetches RFC 8414 authorization server metadata for
// one issuer, trying oauth-authorization-server then openid-configuration,
// path-based before root for issuers mounted under a path. The returned
// issuer must match the one we asked about; in legacy mode a mismatch is
// accepted with a warning.
func (p *Provider) asMetadataForIssuer(ctx context.Context, issuer string, legacy bool) (*ASMetadata, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, err
	}
	u.RawQuery = ""
	u.Fragment = ""
	basePath := strings.TrimRight(u.Path, "/")

	var candidates []string
	for _, wellKnown := range []string{ASMetadataWellKnownPath, OIDCWellKnownPath} {
		if basePath != "" {
			candidates = append(candidates, wellKnown+basePath)
		}
		candidates = append(candidates, wellKnown)
	}

	for _, path := range candidates {
		u.Path = path
		var md ASMetadata
		if err := p.fetchJSON(ctx, u.String(), &md); err != nil {
			if errors.Is(err, errNotFound) {
				continue
			}
			return nil, fmt.Errorf("%s: authorization server discovery failed: %w", issuer, err)
		}
		if md.TokenEndpoint == "" {
			continue
		}
		if !sameNormalized(md.Issuer, issuer) {
			if !legacy {
				p.logger.Debug("issuer mismatch in metadata",
					zap.String("expected", issuer), zap.String("advertised", md.Issuer))
				continue
			}
			p.logger.Warn("accepting issuer mismatch from legacy server",
				zap.String("expected", issuer), zap.String("advertised", md.Issuer))
		}
		return &md, nil
	}
	return nil, fmt.Errorf("%s does not publish OAuth discovery metadata", issuer)
}
