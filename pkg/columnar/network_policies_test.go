package columnar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestNetworkPoliciesPutGetByGroupRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.NetworkPolicies()

	p := models.NetworkPolicy{
		ID: "pol-1", Group: "research", Name: "allow-dns",
		Ingress: []models.NetworkRule{{CIDR: "10.0.0.0/8", Ports: []int32{53}, Protocols: []string{"UDP"}}},
		Egress:  []models.NetworkRule{{CIDR: "0.0.0.0/0"}},
	}
	require.NoError(t, repo.Put(ctx, p))

	got, err := repo.Get(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	require.Len(t, got.Ingress, 1)
	assert.Equal(t, "10.0.0.0/8", got.Ingress[0].CIDR)
	assert.Equal(t, []int32{53}, got.Ingress[0].Ports)
	require.Len(t, got.Egress, 1)
	assert.Equal(t, "0.0.0.0/0", got.Egress[0].CIDR)

	byGroup, err := repo.ByGroup(ctx, "research")
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, "pol-1", byGroup[0].ID)
}

func TestNetworkPoliciesPutUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.NetworkPolicies()

	require.NoError(t, repo.Put(ctx, models.NetworkPolicy{ID: "pol-1", Group: "research", Name: "v1"}))
	require.NoError(t, repo.Put(ctx, models.NetworkPolicy{ID: "pol-1", Group: "research", Name: "v2", ForcedPolicy: true}))

	got, err := repo.Get(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
	assert.True(t, got.ForcedPolicy)
}

func TestNetworkPoliciesGetMissingReturnsErrNetworkPolicyNotFound(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.NetworkPolicies()

	_, err := repo.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNetworkPolicyNotFound)
}

func TestNetworkPoliciesDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.NetworkPolicies()

	require.NoError(t, repo.Put(ctx, models.NetworkPolicy{ID: "pol-1", Group: "research", Name: "v1"}))
	require.NoError(t, repo.Delete(ctx, "pol-1"))

	_, err := repo.Get(ctx, "pol-1")
	assert.ErrorIs(t, err, ErrNetworkPolicyNotFound)
}
