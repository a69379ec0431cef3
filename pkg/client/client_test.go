package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestClaimSendsBearerTokenAndDecodesJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/jobs/claim/groupA/pipeA/stageA/cluster1/node1/worker1/2", r.URL.Path)
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewEncoder(w).Encode([]models.GenericJob{{ID: "job-1"}, {ID: "job-2"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	jobs, err := c.Claim(context.Background(), "groupA", "pipeA", "stageA", "cluster1", "node1", "worker1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
}

func TestDoReturnsAPIErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("job not found"))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	_, err := c.Proceed(context.Background(), "missing-job", nil, 1.5)
	require.Error(t, err)
	assert.True(t, NotFound(err))
}

func TestBulkResetEncodesRequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs    []string `json:"ids"`
			Scaler string   `json:"scaler"`
			Reason string   `json:"reason"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body.IDs)
		assert.Equal(t, "K8s", body.Scaler)
		assert.Equal(t, "leaked worker", body.Reason)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	err := c.BulkReset(context.Background(), []string{"a", "b"}, models.ScalerK8s, "leaked worker")
	require.NoError(t, err)
}

func TestUploadSampleSendsRawBytesAndDecodesDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/samples", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, []byte("sample bytes"), raw)
		_ = json.NewEncoder(w).Encode(map[string]string{"sha256": "deadbeef"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	digest, err := c.UploadSample(context.Background(), []byte("sample bytes"))
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", digest)
}

func TestDownloadSampleReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/samples/deadbeef", r.URL.Path)
		_, _ = w.Write([]byte("sample content"))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	data, err := c.DownloadSample(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte("sample content"), data)
}

func TestUploadResultFilePutsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/results/samples/key1/out1/files/report.txt", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	err := c.UploadResultFile(context.Background(), "samples", "key1", "out1", "report.txt", []byte("report"))
	require.NoError(t, err)
}

func TestDeadlinesBuildsRangeQuery(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	out, err := c.Deadlines(context.Background(), models.ScalerK8s, start, end, 100)
	require.NoError(t, err)
	assert.Empty(t, out)
}
