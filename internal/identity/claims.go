package identity

import "strings"

// Claims are the identity claims extracted from a verified token.
type Claims struct {
	Subject    string
	Email      string
	Name       string
	Role       string
	Department string
	JobLevel   string
	// Raw holds every claim as decoded from the token.
	Raw map[string]any
}

// ClaimsFromMap reads the standard and municipal claims from a decoded token
// body. The role is taken from "role", or the first entry of "roles".
func ClaimsFromMap(m map[string]any) Claims {
	c := Claims{
		Subject:    stringClaim(m, "sub"),
		Email:      stringClaim(m, "email"),
		Name:       stringClaim(m, "name"),
		Role:       strings.ToUpper(stringClaim(m, "role")),
		Department: stringClaim(m, "department"),
		JobLevel:   strings.ToUpper(stringClaim(m, "job_level")),
		Raw:        m,
	}
	if c.Role == "" {
		if roles, ok := m["roles"].([]any); ok && len(roles) > 0 {
			if r, ok := roles[0].(string); ok {
				c.Role = strings.ToUpper(r)
			}
		}
	}
	return c
}

func stringClaim(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
