package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPartitionOf(t *testing.T) {
	jan1 := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	p := PartitionOf(jan1, 7)
	assert.Equal(t, Partition{Year: 2026, Bucket: 0}, p)

	jan8 := time.Date(2026, time.January, 8, 0, 0, 0, 0, time.UTC)
	p = PartitionOf(jan8, 7)
	assert.Equal(t, Partition{Year: 2026, Bucket: 1}, p)

	// size <= 0 falls back to the default.
	p = PartitionOf(jan8, 0)
	assert.Equal(t, Partition{Year: 2026, Bucket: 1}, p)
}

func TestGroupExpand(t *testing.T) {
	g := &Group{
		Owners: RoleSet{Direct: []string{"alice"}, Metagroups: []string{"admins"}},
	}
	expand := func(mg string) []string {
		if mg == "admins" {
			return []string{"bob", "alice"}
		}
		return nil
	}
	g.Expand(expand)
	assert.ElementsMatch(t, []string{"alice", "bob"}, g.Owners.Combined)
	assert.True(t, g.HasOwner())
}

func TestImageRuntimeSamplesBounded(t *testing.T) {
	img := &Image{}
	for i := 0; i < maxRuntimeSamples+10; i++ {
		img.RecordRuntime(1.0)
	}
	assert.Len(t, img.RuntimeSamples, maxRuntimeSamples)
	assert.InDelta(t, 1.0, img.AverageRuntime(), 0.0001)
}

func TestPipelineDeriveBans(t *testing.T) {
	p := &Pipeline{
		Order: []Stage{{Images: []string{"harvest"}}, {Images: []string{"dry"}}},
	}
	imageBans := func(name string) []string {
		if name == "dry" {
			return []string{"banned-host-path"}
		}
		return nil
	}
	p.DeriveBans(nil, imageBans)
	assert.True(t, p.Banned())
	assert.Contains(t, p.Bans, "banned-host-path")
}
