package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/models"
)

// collect submits a finished job's children, then its results (carrying
// the children map), then its tags, mirroring spec.md §4.4 step 4's
// results/tags/children submission but reordered: this port's columnar
// store has no in-place update of an already-created Output row, so
// Output.Children (name -> uploaded sha256) must be known before
// SubmitResult is called rather than patched on afterward. Child samples
// are uploaded first, folded into the result record, then tags follow
// last since they're purely additive and carry no dependency on the
// output id (DESIGN.md).
func collect(ctx context.Context, thorium *client.Client, executor Executor, image models.Image, job models.GenericJob, raw RawResults) error {
	children, err := executor.Children(ctx, image, job.ID)
	if err != nil {
		return fmt.Errorf("agent: reading children: %w", err)
	}
	childMapping, err := uploadChildren(ctx, thorium, children)
	if err != nil {
		return fmt.Errorf("agent: uploading children: %w", err)
	}

	out := models.Output{
		Tool:        raw.Tool,
		ToolVersion: raw.ToolVersion,
		Cmd:         raw.Cmd,
		Result:      raw.Result,
		Display:     raw.Display,
		Children:    childMapping,
	}
	if _, err := submitOutput(ctx, thorium, job, out, raw.ResultFiles); err != nil {
		return fmt.Errorf("agent: submitting results: %w", err)
	}

	tags, err := executor.Tags(ctx, image, job)
	if err != nil {
		return fmt.Errorf("agent: reading tags: %w", err)
	}
	if len(tags) > 0 {
		if err := submitTags(ctx, thorium, job, tags); err != nil {
			return fmt.Errorf("agent: submitting tags: %w", err)
		}
	}
	return nil
}

// uploadChildren content-addresses every child file a tool produced,
// returning the name->sha256 map an Output's Children field carries.
func uploadChildren(ctx context.Context, thorium *client.Client, children map[string]string) (map[string]string, error) {
	if len(children) == 0 {
		return nil, nil
	}
	mapping := make(map[string]string, len(children))
	for name, path := range children {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading child %s: %w", name, err)
		}
		sha256, err := thorium.UploadSample(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("uploading child %s: %w", name, err)
		}
		mapping[name] = sha256
	}
	return mapping, nil
}

// submitOutput uploads the primary result record, then each attached
// result file keyed by the server-generated output id, matching
// pkg/ingestion.deleteResultBlobs's "<outputID>/<name>" key convention.
func submitOutput(ctx context.Context, thorium *client.Client, job models.GenericJob, out models.Output, resultFilePaths []string) (string, error) {
	kind, key := jobResultTarget(job)
	out.ResultFiles = make([]string, 0, len(resultFilePaths))
	for _, path := range resultFilePaths {
		out.ResultFiles = append(out.ResultFiles, filepath.Base(path))
	}
	outputID, err := thorium.SubmitResult(ctx, kind, key, out, []string{job.Group})
	if err != nil {
		return "", err
	}
	for _, path := range resultFilePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading result file %s: %w", path, err)
		}
		if err := thorium.UploadResultFile(ctx, kind, key, outputID, filepath.Base(path), data); err != nil {
			return "", fmt.Errorf("uploading result file %s: %w", path, err)
		}
	}
	return outputID, nil
}

// submitTags creates tags for every sample/repo a job's result is attached
// to, all visible starting now.
func submitTags(ctx context.Context, thorium *client.Client, job models.GenericJob, tags map[string][]string) error {
	kind, key := jobResultTarget(job)
	earliest := map[string]time.Time{job.Group: time.Now().UTC()}
	return thorium.CreateTags(ctx, kind, key, tags, earliest)
}

// jobResultTarget picks the kind/key a job's results attach to: its first
// sample if one was given, else its first repo, else the reaction itself.
func jobResultTarget(job models.GenericJob) (kind, key string) {
	if len(job.Samples) > 0 {
		return "sample", job.Samples[0]
	}
	if len(job.Repos) > 0 {
		return "repo", job.Repos[0].URL
	}
	return "reaction", job.ReactionID
}
