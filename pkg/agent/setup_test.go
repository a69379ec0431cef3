package agent

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/models"
)

func TestDownloadSamplesWritesFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/samples/sha256abc", r.URL.Path)
		w.Write([]byte("sample-bytes"))
	}))
	defer srv.Close()

	thorium := client.New(srv.URL, "test-token")
	d := newDeps(thorium, t.TempDir())
	image := models.Image{Deps: models.ImageDependencies{Samples: models.DependencySettings{Strategy: models.DependencyPaths}}}
	job := models.GenericJob{Samples: []string{"sha256abc"}}

	paths, err := d.downloadSamples(t.Context(), image, job)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "sample-bytes", string(data))
	assert.Equal(t, filepath.Join(d.jobDir, "samples", "sha256abc"), paths[0])
}

func TestDownloadSamplesDisabledSkipsEntirely(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	thorium := client.New(srv.URL, "test-token")
	d := newDeps(thorium, t.TempDir())
	image := models.Image{} // Deps.Samples defaults to Disabled
	job := models.GenericJob{Samples: []string{"sha256abc"}}

	paths, err := d.downloadSamples(t.Context(), image, job)
	require.NoError(t, err)
	assert.Nil(t, paths)
	assert.False(t, called, "no request should be made when the dependency is disabled")
}

func TestDownloadTagsWritesOneJSONFilePerSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tags/sample/sha256abc", r.URL.Path)
		w.Write([]byte(`[{"tag_key":"OS","tag_value":"Linux"}]`))
	}))
	defer srv.Close()

	thorium := client.New(srv.URL, "test-token")
	d := newDeps(thorium, t.TempDir())
	image := models.Image{Deps: models.ImageDependencies{Tags: models.DependencySettings{Strategy: models.DependencyPaths}}}
	job := models.GenericJob{Samples: []string{"sha256abc"}, Group: "research"}

	paths, err := d.downloadTags(t.Context(), image, job)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"OS":["Linux"]}`, string(data))
}

func TestRepoKeysExtractsURLs(t *testing.T) {
	repos := []models.RepoDependency{{URL: "https://a"}, {URL: "https://b"}}
	assert.Equal(t, []string{"https://a", "https://b"}, repoKeys(repos))
}
