package service

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/faucetdb/roleguard/internal/model"
)

// Headers an authenticating proxy may set when AuthOptions.TrustHeaders is on.
const (
	HeaderPrincipalSubject   = "X-Principal-Subject"
	HeaderPrincipalRoles     = "X-Principal-Roles"
	HeaderPrincipalSuperuser = "X-Principal-Superuser"
)

// PrincipalFromRequest resolves the principal of an incoming request from
// its bearer principal token or, when trusted, its X-Principal-* headers.
// Requests carrying neither are anonymous. An invalid token is an error,
// never a silent downgrade to anonymous.
func (s *AuthService) PrincipalFromRequest(r *http.Request) (*model.Principal, error) {
	var p *model.Principal

	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		parsed, err := s.ParsePrincipalToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			return nil, err
		}
		p = parsed
	} else if s.opts.TrustHeaders {
		p = principalFromHeaders(r.Header)
	}

	if p == nil {
		return model.Anonymous(), nil
	}
	return s.Enrich(r.Context(), p)
}

// Enrich merges the subject's stored memberships into the principal's roles.
// It is a no-op for anonymous principals or when memberships are off.
func (s *AuthService) Enrich(ctx context.Context, p *model.Principal) (*model.Principal, error) {
	if !s.opts.Memberships || p == nil || p.Subject == "" {
		return p, nil
	}
	roles, err := s.store.MemberRoles(ctx, p.Subject)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return p, nil
	}
	return p.WithRoles(roles), nil
}

func principalFromHeaders(h http.Header) *model.Principal {
	subject := strings.TrimSpace(h.Get(HeaderPrincipalSubject))
	if subject == "" {
		return nil
	}
	p := &model.Principal{Subject: subject, Authenticated: true}
	if roles := strings.TrimSpace(h.Get(HeaderPrincipalRoles)); roles != "" {
		p.Roles = splitCSV(roles)
	}
	if su, err := strconv.ParseBool(strings.TrimSpace(h.Get(HeaderPrincipalSuperuser))); err == nil {
		p.Superuser = su
	}
	return p
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
