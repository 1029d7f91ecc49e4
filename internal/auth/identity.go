package auth

import (
	"strings"
)

// Identity is a verified user as asserted by the identity provider
type Identity struct {
	Subject string
	Email   string
	Name    string
	Groups  []string
	// Claims holds every claim of the ID token, with "groups" normalised to a list
	Claims map[string]any
}

// NewIdentity builds an Identity from a verified claim set. A missing or null
// groups claim becomes an empty list.
func NewIdentity(claims map[string]any) *Identity {
	normalized := make(map[string]any, len(claims)+1)
	for k, v := range claims {
		normalized[k] = v
	}

	groups := stringList(claims["groups"])
	normalized["groups"] = groups

	return &Identity{
		Subject: stringClaim(claims, "sub"),
		Email:   stringClaim(claims, "email"),
		Name:    firstNonEmpty(stringClaim(claims, "name"), stringClaim(claims, "preferred_username")),
		Groups:  groups,
		Claims:  normalized,
	}
}

// InGroup reports whether the identity is a member of group. Membership is an
// exact match, as group names are compared for access decisions.
func (i *Identity) InGroup(group string) bool {
	if group == "" {
		return false
	}
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Label returns the subject in a form usable inside a certificate common name
func (i *Identity) Label() string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.' || r == '@':
			return r
		default:
			return '_'
		}
	}, i.Subject)
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

func stringList(v any) []string {
	switch groups := v.(type) {
	case []string:
		return append([]string{}, groups...)
	case []any:
		out := make([]string, 0, len(groups))
		for _, g := range groups {
			if s, ok := g.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if groups == "" {
			return []string{}
		}
		return []string{groups}
	default:
		return []string{}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
