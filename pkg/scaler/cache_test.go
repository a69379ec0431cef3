package scaler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestExpandMetagroupsResolvesDirectAndMetagroupMembers(t *testing.T) {
	groups := map[string]models.Group{
		"research": {
			Name: "research",
			Owners: models.RoleSet{
				Direct:     []string{"alice"},
				Metagroups: []string{"security"},
			},
		},
		"security": {
			Name:   "security",
			Owners: models.RoleSet{Direct: []string{"bob"}},
		},
	}

	expandMetagroups(groups)

	assert.ElementsMatch(t, []string{"alice", "bob"}, groups["research"].Owners.Combined)
	assert.ElementsMatch(t, []string{"bob"}, groups["security"].Owners.Combined)
}

func TestExpandMetagroupsBreaksCycles(t *testing.T) {
	groups := map[string]models.Group{
		"a": {Name: "a", Owners: models.RoleSet{Direct: []string{"alice"}, Metagroups: []string{"b"}}},
		"b": {Name: "b", Owners: models.RoleSet{Direct: []string{"bob"}, Metagroups: []string{"a"}}},
	}

	assert.NotPanics(t, func() { expandMetagroups(groups) })

	assert.ElementsMatch(t, []string{"alice", "bob"}, groups["a"].Owners.Combined)
	assert.ElementsMatch(t, []string{"bob", "alice"}, groups["b"].Owners.Combined)
}

func TestExpandMetagroupsMissingReferenceResolvesEmpty(t *testing.T) {
	groups := map[string]models.Group{
		"research": {Name: "research", Owners: models.RoleSet{Metagroups: []string{"ghost"}}},
	}

	expandMetagroups(groups)

	assert.Empty(t, groups["research"].Owners.Combined)
}

func TestDerivedUsersUnionsRolesAndExcludesSystemUser(t *testing.T) {
	groups := map[string]models.Group{
		"research": {
			Owners:   models.RoleSet{Combined: []string{"alice", systemUser}},
			Managers: models.RoleSet{Combined: []string{"bob"}},
			Users:    models.RoleSet{Combined: []string{"alice", "carol"}},
			Monitors: models.RoleSet{Combined: []string{"dan"}},
		},
	}

	users := derivedUsers(groups)

	assert.Equal(t, []string{"alice", "bob", "carol", "dan"}, users)
}

func TestDiffPoliciesReportsAddedAndRemoved(t *testing.T) {
	prev := []models.NetworkPolicy{{ID: "p1"}, {ID: "p2"}}
	cur := []models.NetworkPolicy{{ID: "p2"}, {ID: "p3"}}

	added, removed := diffPolicies(prev, cur)

	assert.Equal(t, []string{"p3"}, added)
	assert.Equal(t, []string{"p1"}, removed)
}

func TestDiffPoliciesNoChangeReportsNothing(t *testing.T) {
	cur := []models.NetworkPolicy{{ID: "p1"}}

	added, removed := diffPolicies(cur, cur)

	assert.Empty(t, added)
	assert.Empty(t, removed)
}
