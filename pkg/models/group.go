package models

// RoleSet splits membership of a role into the users granted it directly and
// the metagroups whose expansion grants it transitively. Combined is the
// union and is recomputed by the scaler's cache whenever group membership or
// metagroup membership changes; it is never stored as an owning edge (see
// DESIGN.md's note on cyclic references).
type RoleSet struct {
	Direct     []string `json:"direct,omitempty"`
	Metagroups []string `json:"metagroups,omitempty"`
	Combined   []string `json:"combined,omitempty"`
}

// Group is a Thorium tenant boundary. HasOwner reports whether it has any
// owner; the scaler's cache reload loads ownerless groups like any other.
type Group struct {
	Name     string  `json:"name"`
	Owners   RoleSet `json:"owners"`
	Managers RoleSet `json:"managers"`
	Users    RoleSet `json:"users"`
	Monitors RoleSet `json:"monitors"`
}

// HasOwner reports whether the group has at least one reachable owner.
func (g *Group) HasOwner() bool {
	return len(g.Owners.Combined) > 0
}

// Expand recomputes Combined for every role set as Direct ∪ expand(Metagroups).
// expand is supplied by the caller (the scaler's cache, which is the single
// place metagroup closures are materialized) and maps a metagroup name to the
// set of concrete user names it currently resolves to.
func (g *Group) Expand(expand func(metagroup string) []string) {
	g.Owners.Combined = combine(g.Owners, expand)
	g.Managers.Combined = combine(g.Managers, expand)
	g.Users.Combined = combine(g.Users, expand)
	g.Monitors.Combined = combine(g.Monitors, expand)
}

func combine(rs RoleSet, expand func(string) []string) []string {
	seen := make(map[string]struct{}, len(rs.Direct))
	out := make([]string, 0, len(rs.Direct))
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, u := range rs.Direct {
		add(u)
	}
	for _, mg := range rs.Metagroups {
		for _, u := range expand(mg) {
			add(u)
		}
	}
	return out
}
