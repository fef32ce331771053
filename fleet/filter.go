package fleet

import (
	"net/url"
	"strings"
)

// Filter is the status + search filter shared by the list pages.
type Filter struct {
	Status string
	Search string
}

func (f Filter) normalized() Filter {
	return Filter{
		Status: strings.ToLower(strings.TrimSpace(f.Status)),
		Search: strings.ToLower(strings.TrimSpace(f.Search)),
	}
}

// Signature is the canonical form of the filter: lowercased, trimmed, empty
// fields omitted, keys sorted. The empty filter is "all".
func (f Filter) Signature() string {
	n := f.normalized()
	v := url.Values{}
	if n.Status != "" {
		v.Set("status", n.Status)
	}
	if n.Search != "" {
		v.Set("search", n.Search)
	}
	if len(v) == 0 {
		return "all"
	}
	return v.Encode()
}

// FilterVehicles applies the filter to already fetched vehicles.
func FilterVehicles(vs []Vehicle, f Filter) []Vehicle {
	n := f.normalized()
	out := make([]Vehicle, 0, len(vs))
	for _, v := range vs {
		if n.Status != "" && !strings.EqualFold(v.Status, n.Status) {
			continue
		}
		if MatchVehicle(v, n.Search) {
			out = append(out, v)
		}
	}
	return out
}

// UserFilter narrows the users list. Empty fields match everything.
type UserFilter struct {
	// Search matches, ignoring case, the first name, last name, email or
	// username.
	Search string
	Role   string
	// Enabled, when set, keeps only users in that state.
	Enabled *bool
}

// FilterUsers applies the filter to already fetched users.
func FilterUsers(us []User, f UserFilter) []User {
	q := strings.ToLower(strings.TrimSpace(f.Search))
	role := strings.TrimSpace(f.Role)
	out := make([]User, 0, len(us))
	for _, u := range us {
		if role != "" && !strings.EqualFold(u.RoleName, role) {
			continue
		}
		if f.Enabled != nil && bool(u.Enabled) != *f.Enabled {
			continue
		}
		if q != "" && !matchAny(q, u.FirstName, u.LastName, u.Email, u.Username) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func matchAny(q string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
