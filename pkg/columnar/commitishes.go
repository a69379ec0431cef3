package columnar

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/models"
)

// Commitishes is the repository backing commit/branch/tag ingestion for
// tracked git repos, grounded on the original backend's git/commits.rs
// (commit topic/description split) and the pipelines.rs repo-trigger
// lookups that read commitishes back out by ref.
type Commitishes struct {
	db *sqlx.DB
}

func (c *Client) Commitishes() *Commitishes {
	return &Commitishes{db: c.db}
}

// refKey is the natural key distinguishing commitishes of the same kind
// within a repo: the commit hash, the branch name, or the tag name.
func refKey(c models.Commitish) string {
	switch c.Kind {
	case models.CommitishBranch:
		return c.Name
	case models.CommitishTag:
		return c.Name
	default:
		return c.Hash
	}
}

// Upsert records a commit, branch, or tag reference, replacing any prior
// row for the same (repo, kind, ref).
func (c *Commitishes) Upsert(ctx context.Context, commitish models.Commitish) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO commitishes (repo_url, kind, ref_key, groups, timestamp, hash, author, topic, description, name, head, tag_author)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (repo_url, kind, ref_key) DO UPDATE SET
			groups = EXCLUDED.groups,
			timestamp = EXCLUDED.timestamp,
			hash = EXCLUDED.hash,
			author = EXCLUDED.author,
			topic = EXCLUDED.topic,
			description = EXCLUDED.description,
			name = EXCLUDED.name,
			head = EXCLUDED.head,
			tag_author = EXCLUDED.tag_author`,
		commitish.RepoURL, string(commitish.Kind), refKey(commitish), StringSlice(commitish.Groups),
		commitish.Timestamp, nullable(commitish.Hash), nullable(commitish.Author),
		nullable(commitish.Topic), nullable(commitish.Description), nullable(commitish.Name),
		nullable(commitish.Head), nullable(commitish.TagAuthor),
	)
	if err != nil {
		return fmt.Errorf("columnar: upsert commitish %s/%s: %w", commitish.RepoURL, refKey(commitish), err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListByRepo returns every commitish for a repo, newest first.
func (c *Commitishes) ListByRepo(ctx context.Context, repoURL string) ([]models.Commitish, error) {
	var rows []struct {
		RepoURL     string      `db:"repo_url"`
		Kind        string      `db:"kind"`
		Groups      StringSlice `db:"groups"`
		Timestamp   string      `db:"timestamp"`
		Hash        *string     `db:"hash"`
		Author      *string     `db:"author"`
		Topic       *string     `db:"topic"`
		Description *string     `db:"description"`
		Name        *string     `db:"name"`
		Head        *string     `db:"head"`
		TagAuthor   *string     `db:"tag_author"`
	}
	err := c.db.SelectContext(ctx, &rows, `
		SELECT repo_url, kind, groups, timestamp::text AS timestamp, hash, author, topic, description, name, head, tag_author
		FROM commitishes WHERE repo_url = $1 ORDER BY timestamp DESC`, repoURL)
	if err != nil {
		return nil, fmt.Errorf("columnar: list commitishes for %s: %w", repoURL, err)
	}
	out := make([]models.Commitish, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Commitish{
			RepoURL: r.RepoURL, Kind: models.CommitishKind(r.Kind), Groups: r.Groups,
			Hash: deref(r.Hash), Author: deref(r.Author), Topic: deref(r.Topic),
			Description: deref(r.Description), Name: deref(r.Name), Head: deref(r.Head),
			TagAuthor: deref(r.TagAuthor),
		})
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
