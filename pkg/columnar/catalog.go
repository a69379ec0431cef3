package columnar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/models"
)

// ErrGroupNotFound, ErrImageNotFound, and ErrPipelineNotFound report a
// missing catalog row.
var (
	ErrGroupNotFound    = errors.New("columnar: group not found")
	ErrImageNotFound    = errors.New("columnar: image not found")
	ErrPipelineNotFound = errors.New("columnar: pipeline not found")
)

// Catalog is the durable store of Group/Image/Pipeline definitions: the
// metadata the reaction/job engine validates against and the scaler's
// cache reloads from. spec.md §1 treats user/group *CRUD* as an external
// collaborator, but the group/image/pipeline definitions themselves are
// core domain data (spec.md §3), so they get a home here rather than in
// kvindex or blobstore.
type Catalog struct {
	db *sqlx.DB
}

func (c *Client) Catalog() *Catalog {
	return &Catalog{db: c.db}
}

type groupRow struct {
	Name     string `db:"name"`
	Owners   []byte `db:"owners"`
	Managers []byte `db:"managers"`
	Users    []byte `db:"users"`
	Monitors []byte `db:"monitors"`
}

func decodeRoleSet(b []byte) (models.RoleSet, error) {
	var rs models.RoleSet
	if len(b) == 0 {
		return rs, nil
	}
	err := json.Unmarshal(b, &rs)
	return rs, err
}

func (r groupRow) toModel() (models.Group, error) {
	g := models.Group{Name: r.Name}
	var err error
	if g.Owners, err = decodeRoleSet(r.Owners); err != nil {
		return g, err
	}
	if g.Managers, err = decodeRoleSet(r.Managers); err != nil {
		return g, err
	}
	if g.Users, err = decodeRoleSet(r.Users); err != nil {
		return g, err
	}
	if g.Monitors, err = decodeRoleSet(r.Monitors); err != nil {
		return g, err
	}
	return g, nil
}

// PutGroup upserts a group definition.
func (cat *Catalog) PutGroup(ctx context.Context, g models.Group) error {
	owners, _ := json.Marshal(g.Owners)
	managers, _ := json.Marshal(g.Managers)
	users, _ := json.Marshal(g.Users)
	monitors, _ := json.Marshal(g.Monitors)
	_, err := cat.db.ExecContext(ctx, `
		INSERT INTO groups (name, owners, managers, users, monitors)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name) DO UPDATE SET owners=$2, managers=$3, users=$4, monitors=$5`,
		g.Name, owners, managers, users, monitors)
	if err != nil {
		return fmt.Errorf("columnar: put group %s: %w", g.Name, err)
	}
	return nil
}

// GetGroup retrieves a single group.
func (cat *Catalog) GetGroup(ctx context.Context, name string) (models.Group, error) {
	var row groupRow
	err := cat.db.GetContext(ctx, &row, `SELECT * FROM groups WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("columnar: get group %s: %w", name, err)
	}
	return row.toModel()
}

// ListGroups returns every group definition, used by the scaler cache's
// membership-closure reload.
func (cat *Catalog) ListGroups(ctx context.Context) ([]models.Group, error) {
	var rows []groupRow
	if err := cat.db.SelectContext(ctx, &rows, `SELECT * FROM groups ORDER BY name`); err != nil {
		return nil, fmt.Errorf("columnar: list groups: %w", err)
	}
	out := make([]models.Group, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

type imageRow struct {
	Group           string `db:"grp"`
	Name            string `db:"name"`
	Scaler          string `db:"scaler"`
	ContainerImage  string `db:"container_image"`
	Generator       bool   `db:"generator"`
	Resources       []byte `db:"resources"`
	SpawnLimits     []byte `db:"spawn_limits"`
	Command         []byte `db:"command"`
	Deps            []byte `db:"deps"`
	Output          []byte `db:"output"`
	Cleanup         []byte `db:"cleanup"`
	Lifetime        []byte `db:"lifetime"`
	TimeoutSecs     int    `db:"timeout_secs"`
	NetworkPolicies []byte `db:"network_policies"`
	Bans            []byte `db:"bans"`
	RuntimeSamples  []byte `db:"runtime_samples"`
	RequiredHostPaths []byte `db:"required_host_paths"`
}

func (r imageRow) toModel() (models.Image, error) {
	img := models.Image{
		Group:          r.Group,
		Name:           r.Name,
		Scaler:         models.ScalerKind(r.Scaler),
		ContainerImage: r.ContainerImage,
		Generator:      r.Generator,
		TimeoutSecs:    r.TimeoutSecs,
	}
	for dst, src := range map[interface{}][]byte{
		&img.Resources:       r.Resources,
		&img.SpawnLimits:      r.SpawnLimits,
		&img.Command:          r.Command,
		&img.Deps:             r.Deps,
		&img.Output:           r.Output,
		&img.Lifetime:         r.Lifetime,
		&img.NetworkPolicies:  r.NetworkPolicies,
		&img.Bans:             r.Bans,
		&img.RuntimeSamples:   r.RuntimeSamples,
		&img.RequiredHostPaths: r.RequiredHostPaths,
	} {
		if len(src) == 0 {
			continue
		}
		if err := json.Unmarshal(src, dst); err != nil {
			return img, fmt.Errorf("columnar: decode image %s/%s: %w", r.Group, r.Name, err)
		}
	}
	if len(r.Cleanup) > 0 {
		var cs models.CleanupSpec
		if err := json.Unmarshal(r.Cleanup, &cs); err != nil {
			return img, fmt.Errorf("columnar: decode image %s/%s cleanup: %w", r.Group, r.Name, err)
		}
		img.Cleanup = &cs
	}
	return img, nil
}

// PutImage upserts an image definition.
func (cat *Catalog) PutImage(ctx context.Context, img models.Image) error {
	resources, _ := json.Marshal(img.Resources)
	spawnLimits, _ := json.Marshal(img.SpawnLimits)
	command, _ := json.Marshal(img.Command)
	deps, _ := json.Marshal(img.Deps)
	output, _ := json.Marshal(img.Output)
	lifetime, _ := json.Marshal(img.Lifetime)
	networkPolicies, _ := json.Marshal(img.NetworkPolicies)
	bans, _ := json.Marshal(img.Bans)
	runtimeSamples, _ := json.Marshal(img.RuntimeSamples)
	requiredHostPaths, _ := json.Marshal(img.RequiredHostPaths)
	var cleanup []byte
	if img.Cleanup != nil {
		cleanup, _ = json.Marshal(img.Cleanup)
	}
	_, err := cat.db.ExecContext(ctx, `
		INSERT INTO images (grp, name, scaler, container_image, generator, resources, spawn_limits, command, deps, output,
			cleanup, lifetime, timeout_secs, network_policies, bans, runtime_samples, required_host_paths)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (grp, name) DO UPDATE SET scaler=$3, container_image=$4, generator=$5, resources=$6, spawn_limits=$7,
			command=$8, deps=$9, output=$10, cleanup=$11, lifetime=$12, timeout_secs=$13,
			network_policies=$14, bans=$15, runtime_samples=$16, required_host_paths=$17`,
		img.Group, img.Name, string(img.Scaler), img.ContainerImage, img.Generator, resources, spawnLimits, command, deps, output,
		cleanup, lifetime, img.TimeoutSecs, networkPolicies, bans, runtimeSamples, requiredHostPaths,
	)
	if err != nil {
		return fmt.Errorf("columnar: put image %s/%s: %w", img.Group, img.Name, err)
	}
	return nil
}

// GetImage retrieves a single image definition.
func (cat *Catalog) GetImage(ctx context.Context, group, name string) (models.Image, error) {
	var row imageRow
	err := cat.db.GetContext(ctx, &row, `SELECT * FROM images WHERE grp = $1 AND name = $2`, group, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Image{}, ErrImageNotFound
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("columnar: get image %s/%s: %w", group, name, err)
	}
	return row.toModel()
}

// ImagesByScaler lists every unbanned image for a group filtered by scaler
// kind, used by the scaler cache reload (spec.md §4.2: "images per group,
// filtered by scaler kind; images with non-empty bans are dropped").
func (cat *Catalog) ImagesByScaler(ctx context.Context, group string, kind models.ScalerKind) ([]models.Image, error) {
	var rows []imageRow
	err := cat.db.SelectContext(ctx, &rows, `
		SELECT * FROM images WHERE grp = $1 AND scaler = $2 AND bans IN ('[]'::jsonb, 'null'::jsonb)
		ORDER BY name`, group, string(kind))
	if err != nil {
		return nil, fmt.Errorf("columnar: list images for %s/%s: %w", group, kind, err)
	}
	out := make([]models.Image, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ListImages returns every image definition for a group, regardless of
// scaler kind or ban status, used by the backup catalog snapshot.
func (cat *Catalog) ListImages(ctx context.Context, group string) ([]models.Image, error) {
	var rows []imageRow
	err := cat.db.SelectContext(ctx, &rows, `SELECT * FROM images WHERE grp = $1 ORDER BY name`, group)
	if err != nil {
		return nil, fmt.Errorf("columnar: list images for %s: %w", group, err)
	}
	out := make([]models.Image, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RecordRuntime appends a runtime sample to an image's rolling window,
// bounded to models.maxRuntimeSamples by loading, mutating, and writing
// back through the model's own RecordRuntime so the eviction logic lives
// in one place.
func (cat *Catalog) RecordRuntime(ctx context.Context, group, name string, seconds float64) error {
	img, err := cat.GetImage(ctx, group, name)
	if err != nil {
		return err
	}
	img.RecordRuntime(seconds)
	return cat.PutImage(ctx, img)
}

type pipelineRow struct {
	Group    string `db:"grp"`
	Name     string `db:"name"`
	Order    []byte `db:"order_"`
	SLASecs  int64  `db:"sla_secs"`
	Triggers []byte `db:"triggers"`
	Bans     []byte `db:"bans"`
}

func (r pipelineRow) toModel() (models.Pipeline, error) {
	p := models.Pipeline{Group: r.Group, Name: r.Name, SLASeconds: r.SLASecs}
	if len(r.Order) > 0 {
		if err := json.Unmarshal(r.Order, &p.Order); err != nil {
			return p, fmt.Errorf("columnar: decode pipeline %s/%s order: %w", r.Group, r.Name, err)
		}
	}
	if len(r.Triggers) > 0 {
		if err := json.Unmarshal(r.Triggers, &p.Triggers); err != nil {
			return p, err
		}
	}
	if len(r.Bans) > 0 {
		if err := json.Unmarshal(r.Bans, &p.Bans); err != nil {
			return p, err
		}
	}
	return p, nil
}

// PutPipeline upserts a pipeline definition.
func (cat *Catalog) PutPipeline(ctx context.Context, p models.Pipeline) error {
	order, _ := json.Marshal(p.Order)
	triggers, _ := json.Marshal(p.Triggers)
	bans, _ := json.Marshal(p.Bans)
	sla := p.SLASeconds
	if sla == 0 {
		sla = models.DefaultSLASeconds
	}
	_, err := cat.db.ExecContext(ctx, `
		INSERT INTO pipelines (grp, name, order_, sla_secs, triggers, bans)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (grp, name) DO UPDATE SET order_=$3, sla_secs=$4, triggers=$5, bans=$6`,
		p.Group, p.Name, order, sla, triggers, bans)
	if err != nil {
		return fmt.Errorf("columnar: put pipeline %s/%s: %w", p.Group, p.Name, err)
	}
	return nil
}

// GetPipeline retrieves a single pipeline definition.
func (cat *Catalog) GetPipeline(ctx context.Context, group, name string) (models.Pipeline, error) {
	var row pipelineRow
	err := cat.db.GetContext(ctx, &row, `SELECT * FROM pipelines WHERE grp = $1 AND name = $2`, group, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Pipeline{}, ErrPipelineNotFound
	}
	if err != nil {
		return models.Pipeline{}, fmt.Errorf("columnar: get pipeline %s/%s: %w", group, name, err)
	}
	return row.toModel()
}

// ListPipelines returns every pipeline definition for a group, used by the
// backup catalog snapshot.
func (cat *Catalog) ListPipelines(ctx context.Context, group string) ([]models.Pipeline, error) {
	var rows []pipelineRow
	err := cat.db.SelectContext(ctx, &rows, `SELECT * FROM pipelines WHERE grp = $1 ORDER BY name`, group)
	if err != nil {
		return nil, fmt.Errorf("columnar: list pipelines for %s: %w", group, err)
	}
	out := make([]models.Pipeline, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
