package model

// Principal is the actor a decision is made for.
type Principal struct {
	Subject       string   `json:"subject"`
	Roles         []string `json:"roles"`
	Authenticated bool     `json:"authenticated"`
	Superuser     bool     `json:"superuser"`
}

// Anonymous returns an unauthenticated principal with no roles.
func Anonymous() *Principal {
	return &Principal{}
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p *Principal) HasAnyRole(roles []string) bool {
	if p == nil || len(p.Roles) == 0 || len(roles) == 0 {
		return false
	}
	held := make(map[string]struct{}, len(p.Roles))
	for _, r := range p.Roles {
		held[r] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

// WithRoles returns a copy of p whose role set is the union of its own roles
// and extra, without duplicates and preserving first-seen order.
func (p *Principal) WithRoles(extra []string) *Principal {
	out := *p
	seen := make(map[string]struct{}, len(p.Roles)+len(extra))
	out.Roles = make([]string, 0, len(p.Roles)+len(extra))
	for _, list := range [][]string{p.Roles, extra} {
		for _, r := range list {
			if r == "" {
				continue
			}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out.Roles = append(out.Roles, r)
		}
	}
	return &out
}
