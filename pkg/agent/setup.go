package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/models"
)

// deps materializes one job's dependencies onto local disk, shared by
// every Executor implementation regardless of how the command itself
// ends up running (direct child process, container, or VM). Grounded on
// original_source/agent/src/libs/agents/setup.rs's download_samples/
// download_ephemeral/download_repos/download_tags/download_results/
// download_children, adapted from that file's richer per-kind
// DependencyPassStrategy/name-filter model onto this port's simpler
// models.DependencySettings{Strategy} (DESIGN.md).
type deps struct {
	thorium *client.Client
	jobDir  string
	log     *slog.Logger
}

func newDeps(thorium *client.Client, jobDir string) *deps {
	return &deps{thorium: thorium, jobDir: jobDir, log: slog.With("component", "agent", "job_dir", jobDir)}
}

func (d *deps) mkdir(name string) (string, error) {
	dir := filepath.Join(d.jobDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("agent: creating %s dir: %w", name, err)
	}
	return dir, nil
}

// downloadSamples fetches every sample a job depends on into jobDir/samples.
func (d *deps) downloadSamples(ctx context.Context, image models.Image, job models.GenericJob) ([]string, error) {
	if image.Deps.Samples.Disabled() || len(job.Samples) == 0 {
		return nil, nil
	}
	dir, err := d.mkdir("samples")
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(job.Samples))
	for _, sha256 := range job.Samples {
		d.log.Info("downloading sample", slog.String("sha256", sha256))
		data, err := d.thorium.DownloadSample(ctx, sha256)
		if err != nil {
			return nil, fmt.Errorf("agent: downloading sample %s: %w", sha256, err)
		}
		path := filepath.Join(dir, sha256)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("agent: writing sample %s: %w", sha256, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// downloadEphemeral fetches a job's own ephemeral files, plus any
// inherited from a parent reaction, into jobDir/ephemeral.
func (d *deps) downloadEphemeral(ctx context.Context, image models.Image, job models.GenericJob) ([]string, error) {
	if image.Deps.Ephemeral.Disabled() && image.Deps.ParentEphemeral.Disabled() {
		return nil, nil
	}
	if len(job.Ephemeral) == 0 && len(job.ParentEphemeral) == 0 {
		return nil, nil
	}
	dir, err := d.mkdir("ephemeral")
	if err != nil {
		return nil, err
	}
	var paths []string
	if !image.Deps.Ephemeral.Disabled() {
		for _, name := range job.Ephemeral {
			d.log.Info("downloading ephemeral file", slog.String("name", name))
			data, err := d.thorium.DownloadEphemeral(ctx, job.Group, job.ReactionID, name)
			if err != nil {
				return nil, fmt.Errorf("agent: downloading ephemeral file %s: %w", name, err)
			}
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, fmt.Errorf("agent: writing ephemeral file %s: %w", name, err)
			}
			paths = append(paths, path)
		}
	}
	if !image.Deps.ParentEphemeral.Disabled() {
		for name, parent := range job.ParentEphemeral {
			d.log.Info("downloading parent ephemeral file", slog.String("name", name), slog.String("parent", parent))
			data, err := d.thorium.DownloadEphemeral(ctx, job.Group, parent, name)
			if err != nil {
				return nil, fmt.Errorf("agent: downloading parent ephemeral file %s: %w", name, err)
			}
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, fmt.Errorf("agent: writing parent ephemeral file %s: %w", name, err)
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// downloadRepos fetches and unpacks every repo a job depends on into
// jobDir/repos/<name>, recording the commit each was checked out to.
// Archive creation/cloning lives outside this port's scope (spec.md's
// "Git binary-format handling" Non-goal); DownloadRepo only fetches bytes
// an out-of-scope ingestion path already archived.
func (d *deps) downloadRepos(ctx context.Context, image models.Image, job models.GenericJob) ([]string, map[string]string, error) {
	if len(job.Repos) == 0 {
		return nil, nil, nil
	}
	root, err := d.mkdir("repos")
	if err != nil {
		return nil, nil, err
	}
	var paths []string
	commits := make(map[string]string, len(job.Repos))
	for _, repo := range job.Repos {
		d.log.Info("downloading repo", slog.String("url", repo.URL))
		archive, err := d.thorium.DownloadRepo(ctx, repo.URL, repo.Commitish)
		if err != nil {
			return nil, nil, fmt.Errorf("agent: downloading repo %s: %w", repo.URL, err)
		}
		name := filepath.Base(repo.URL)
		dest := filepath.Join(root, name)
		commit, err := untarInto(archive, dest)
		if err != nil {
			return nil, nil, fmt.Errorf("agent: unpacking repo %s: %w", repo.URL, err)
		}
		commits[repo.URL] = commit
		if !image.Deps.Repos.Disabled() {
			paths = append(paths, dest)
		}
	}
	return paths, commits, nil
}

// downloadTags fetches the current simplified tag set for every sample/
// repo a job depends on, writing one JSON file per item into
// jobDir/tags so a tool can read its inputs' existing tags.
func (d *deps) downloadTags(ctx context.Context, image models.Image, job models.GenericJob) ([]string, error) {
	if image.Deps.Tags.Disabled() {
		return nil, nil
	}
	if len(job.Samples) == 0 && len(job.Repos) == 0 {
		return nil, nil
	}
	dir, err := d.mkdir("tags")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, sha256 := range job.Samples {
		tags, err := d.thorium.GetTags(ctx, "sample", sha256, []string{job.Group})
		if err != nil {
			return nil, fmt.Errorf("agent: fetching tags for sample %s: %w", sha256, err)
		}
		path, err := writeTagsFile(dir, sha256, tags)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	for _, repo := range job.Repos {
		tags, err := d.thorium.GetTags(ctx, "repo", repo.URL, []string{job.Group})
		if err != nil {
			return nil, fmt.Errorf("agent: fetching tags for repo %s: %w", repo.URL, err)
		}
		path, err := writeTagsFile(dir, filepath.Base(repo.URL), tags)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// downloadResults fetches prior tool results (and their attached files)
// this image declares a dependency on, writing each under
// jobDir/results/<base of sample or repo key>/<tool>/{results,result-files/...}, mirroring
// setup.rs's download_results/download_results_helper.
func (d *deps) downloadResults(ctx context.Context, image models.Image, job models.GenericJob, tools []string) ([]string, error) {
	if image.Deps.Results.Disabled() || len(tools) == 0 {
		return nil, nil
	}
	root, err := d.mkdir("results")
	if err != nil {
		return nil, err
	}
	var paths []string
	keys := append(append([]string{}, job.Samples...), repoKeys(job.Repos)...)
	kinds := make([]string, len(job.Samples))
	for i := range kinds {
		kinds[i] = "sample"
	}
	for range job.Repos {
		kinds = append(kinds, "repo")
	}
	for i, key := range keys {
		outs, err := d.thorium.GetResults(ctx, kinds[i], key, nil, tools)
		if err != nil {
			return nil, fmt.Errorf("agent: fetching results for %s: %w", key, err)
		}
		itemDir := filepath.Join(root, filepath.Base(key))
		for _, out := range outs {
			toolDir := filepath.Join(itemDir, out.Tool)
			if err := os.MkdirAll(toolDir, 0o755); err != nil {
				return nil, fmt.Errorf("agent: creating result dir %s: %w", toolDir, err)
			}
			if err := os.WriteFile(filepath.Join(toolDir, "results"), out.Result, 0o644); err != nil {
				return nil, fmt.Errorf("agent: writing results for %s/%s: %w", key, out.Tool, err)
			}
			filesDir := filepath.Join(toolDir, "result-files")
			if len(out.ResultFiles) > 0 {
				if err := os.MkdirAll(filesDir, 0o755); err != nil {
					return nil, fmt.Errorf("agent: creating result-files dir %s: %w", filesDir, err)
				}
			}
			for _, name := range out.ResultFiles {
				data, err := d.thorium.DownloadResultFile(ctx, kinds[i], key, out.ID, name)
				if err != nil {
					return nil, fmt.Errorf("agent: downloading result file %s/%s: %w", out.ID, name, err)
				}
				if err := os.WriteFile(filepath.Join(filesDir, name), data, 0o644); err != nil {
					return nil, fmt.Errorf("agent: writing result file %s/%s: %w", out.ID, name, err)
				}
			}
			paths = append(paths, toolDir)
		}
	}
	return paths, nil
}

// downloadChildren fetches, for every sample/repo a job depends on, the
// most recent result per tool and downloads any child samples it named,
// mirroring setup.rs's download_children. This port has no per-image tool
// filter list for children (ImageDependencies.Children is a plain
// DependencySettings, not a name-filtered list like the original's
// dependencies.children.images), so every tool's latest result is checked.
func (d *deps) downloadChildren(ctx context.Context, image models.Image, job models.GenericJob) ([]string, error) {
	if image.Deps.Children.Disabled() {
		return nil, nil
	}
	if len(job.Samples) == 0 && len(job.Repos) == 0 {
		return nil, nil
	}
	root, err := d.mkdir("children")
	if err != nil {
		return nil, err
	}
	var paths []string
	download := func(kind, key string) error {
		outs, err := d.thorium.GetResults(ctx, kind, key, nil, nil)
		if err != nil {
			return fmt.Errorf("agent: fetching results for %s: %w", key, err)
		}
		seen := make(map[string]bool, len(outs))
		for _, out := range outs {
			if seen[out.Tool] {
				continue
			}
			seen[out.Tool] = true
			if len(out.Children) == 0 {
				continue
			}
			toolDir := filepath.Join(root, filepath.Base(key), out.Tool)
			if err := os.MkdirAll(toolDir, 0o755); err != nil {
				return fmt.Errorf("agent: creating children dir %s: %w", toolDir, err)
			}
			for child := range out.Children {
				d.log.Info("downloading child", slog.String("parent", key), slog.String("child", child))
				data, err := d.thorium.DownloadSample(ctx, child)
				if err != nil {
					return fmt.Errorf("agent: downloading child %s: %w", child, err)
				}
				path := filepath.Join(toolDir, child)
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("agent: writing child %s: %w", child, err)
				}
				paths = append(paths, path)
			}
		}
		return nil
	}
	for _, sha256 := range job.Samples {
		if err := download("sample", sha256); err != nil {
			return nil, err
		}
	}
	for _, repo := range job.Repos {
		if err := download("repo", repo.URL); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func repoKeys(repos []models.RepoDependency) []string {
	keys := make([]string, len(repos))
	for i, r := range repos {
		keys[i] = r.URL
	}
	return keys
}

// writeTagsFile flattens a key's tag rows into tag_key -> []tag_value and
// writes it as JSON so a tool can read its inputs' existing tags without
// needing the full Tag record (group/uploaded are dependency-download
// metadata, not something the job command needs).
func writeTagsFile(dir, name string, rows []models.Tag) (string, error) {
	path := filepath.Join(dir, name+".json")
	tags := make(map[string][]string)
	for _, row := range rows {
		tags[row.TagKey] = append(tags[row.TagKey], row.TagValue)
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("agent: encoding tags for %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("agent: writing tags file for %s: %w", name, err)
	}
	return path, nil
}
