package scaler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestNodeCapacityFitsAndReserve(t *testing.T) {
	n := NodeCapacity{MilliCPU: 1000, MemoryMiB: 2048}

	assert.True(t, n.Fits(models.Resources{MilliCPU: 500, MemoryMiB: 1024}))
	assert.False(t, n.Fits(models.Resources{MilliCPU: 1500, MemoryMiB: 1024}))

	n.Reserve(models.Resources{MilliCPU: 500, MemoryMiB: 1024})
	assert.Equal(t, int64(500), n.MilliCPU)
	assert.Equal(t, int64(1024), n.MemoryMiB)
}

func TestNodeCapacityHasHostPaths(t *testing.T) {
	n := NodeCapacity{HostPaths: []string{"/dev/kvm", "/data"}}

	assert.True(t, n.hasHostPaths(nil))
	assert.True(t, n.hasHostPaths([]string{"/data"}))
	assert.False(t, n.hasHostPaths([]string{"/data", "/missing"}))
}

func TestStageKeyAndSplitStageKeyRoundTrip(t *testing.T) {
	key := stageKey("research", "full-scan", "harvest")
	assert.Equal(t, "research/full-scan/harvest", key)

	group, pipeline, stage, ok := splitStageKey(key)
	assert.True(t, ok)
	assert.Equal(t, "research", group)
	assert.Equal(t, "full-scan", pipeline)
	assert.Equal(t, "harvest", stage)
}

func TestSplitStageKeyRejectsMalformedKeys(t *testing.T) {
	_, _, _, ok := splitStageKey("research/full-scan")
	assert.False(t, ok)

	_, _, _, ok = splitStageKey("research/full-scan/harvest/extra")
	assert.False(t, ok)
}

func TestSchedulerPackPrefersLeastLoadedNodeAndSkipsNoFit(t *testing.T) {
	s := &Scheduler{}
	nodes := []NodeCapacity{
		{Node: "node-a", MilliCPU: 4000, MemoryMiB: 8192},
		{Node: "node-b", MilliCPU: 2000, MemoryMiB: 4096},
	}
	candidates := []candidate{
		{job: models.GenericJob{ID: "job-1"}, image: models.Image{Name: "harvest", Resources: models.Resources{MilliCPU: 1000, MemoryMiB: 1024}}},
		{job: models.GenericJob{ID: "job-2"}, image: models.Image{Name: "harvest", Resources: models.Resources{MilliCPU: 5000, MemoryMiB: 1024}}},
	}

	placements := s.pack(nodes, candidates)

	require := assert.New(t)
	require.Len(placements, 1, "only the first candidate fits any node")
	require.Equal("job-1", placements[0].cand.job.ID)
	require.Equal("node-a", placements[0].node.Node, "the least-loaded node (higher MilliCPU) is tried first")
}

func TestSchedulerPackRespectsHostPathWhitelist(t *testing.T) {
	s := &Scheduler{}
	nodes := []NodeCapacity{
		{Node: "node-a", MilliCPU: 1000, MemoryMiB: 1024, HostPaths: nil},
	}
	candidates := []candidate{
		{job: models.GenericJob{ID: "job-1"}, image: models.Image{
			Resources:         models.Resources{MilliCPU: 100, MemoryMiB: 128},
			RequiredHostPaths: []string{"/dev/kvm"},
		}},
	}

	placements := s.pack(nodes, candidates)
	assert.Empty(t, placements, "a candidate requiring an unwhitelisted host path must not be placed")
}
