package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestJobResultTargetPrefersSample(t *testing.T) {
	job := models.GenericJob{
		Samples:    []string{"sha256:abc"},
		Repos:      []models.RepoDependency{{URL: "https://example.com/repo.git"}},
		ReactionID: "reaction-1",
	}
	kind, key := jobResultTarget(job)
	assert.Equal(t, "sample", kind)
	assert.Equal(t, "sha256:abc", key)
}

func TestJobResultTargetFallsBackToRepo(t *testing.T) {
	job := models.GenericJob{
		Repos:      []models.RepoDependency{{URL: "https://example.com/repo.git"}},
		ReactionID: "reaction-1",
	}
	kind, key := jobResultTarget(job)
	assert.Equal(t, "repo", kind)
	assert.Equal(t, "https://example.com/repo.git", key)
}

func TestJobResultTargetFallsBackToReaction(t *testing.T) {
	job := models.GenericJob{ReactionID: "reaction-1"}
	kind, key := jobResultTarget(job)
	assert.Equal(t, "reaction", kind)
	assert.Equal(t, "reaction-1", key)
}
