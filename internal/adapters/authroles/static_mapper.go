// Package authroles maps directory group memberships to roles.
package authroles

import (
	"strings"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
)

// StaticRoleMapper grants admin to members of any AdminGroups entry and user to
// members of any UserGroups entry. Matching is case-insensitive and accepts LDAP
// distinguished names whose first CN equals the configured group.
type StaticRoleMapper struct {
	AdminGroups []string
	UserGroups  []string
}

func (m StaticRoleMapper) Map(groups []string) domainauth.Role {
	names := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if n := groupName(g); n != "" {
			names[n] = struct{}{}
		}
	}
	switch {
	case anyMember(names, m.AdminGroups):
		return domainauth.RoleAdmin
	case anyMember(names, m.UserGroups):
		return domainauth.RoleUser
	default:
		return domainauth.RoleGuest
	}
}

func anyMember(names map[string]struct{}, configured []string) bool {
	for _, c := range configured {
		if _, ok := names[groupName(c)]; ok {
			return true
		}
	}
	return false
}

// groupName lowercases g and reduces "CN=name,OU=..." to "name".
func groupName(g string) string {
	g = strings.ToLower(strings.TrimSpace(g))
	if rest, ok := strings.CutPrefix(g, "cn="); ok {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimSpace(rest)
	}
	return g
}
