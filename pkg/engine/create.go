package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Create validates the pipeline, allocates a reaction id, and materializes
// only the first stage's jobs — later stages are materialized lazily by
// Proceed as each prior stage completes (spec.md §9 design note; avoids
// premature scheduling and keeps claim ordering trivial).
func (e *Engine) Create(ctx context.Context, req CreateRequest) (string, error) {
	pipeline, err := e.db.Catalog().GetPipeline(ctx, req.Group, req.Pipeline)
	if errors.Is(err, columnar.ErrPipelineNotFound) {
		return "", apierr.Wrap(apierr.NotFound, fmt.Sprintf("pipeline %s/%s", req.Group, req.Pipeline), err)
	}
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "loading pipeline", err)
	}
	if pipeline.Banned() {
		return "", apierr.New(apierr.Banned, fmt.Sprintf("pipeline %s/%s is banned", req.Group, req.Pipeline))
	}
	if len(pipeline.Order) == 0 {
		return "", apierr.New(apierr.BadRequest, "pipeline has no stages")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	sla := pipeline.SLASeconds
	if sla <= 0 {
		sla = models.DefaultSLASeconds
	}

	reaction := models.Reaction{
		ID:              id,
		Group:           req.Group,
		Pipeline:        req.Pipeline,
		Creator:         req.Creator,
		Args:            req.Args,
		Parent:          req.Parent,
		TriggerDepth:    req.TriggerDepth,
		Samples:         req.Samples,
		Repos:           req.Repos,
		Ephemeral:       req.Ephemeral,
		ParentEphemeral: req.ParentEphemeral,
		Status:          models.ReactionCreated,
		StageCursor:     0,
		CreatedAt:       now,
	}

	jobs, err := e.materializeStage(ctx, &reaction, pipeline, 0, now, sla)
	if err != nil {
		return "", err
	}
	reaction.Jobs = jobIDs(jobs)

	if err := e.db.Reactions().Create(ctx, reaction); err != nil {
		if errors.Is(err, columnar.ErrReactionExists) {
			return "", apierr.Wrap(apierr.Conflict, "reaction id already exists", err)
		}
		return "", apierr.Wrap(apierr.Transient, "creating reaction", err)
	}

	for _, job := range jobs {
		if err := e.insertJob(ctx, job); err != nil {
			return "", err
		}
	}

	return id, nil
}

// materializeStage expands one stage of a pipeline's order into jobs for
// the given reaction, without persisting the reaction or jobs — callers
// (Create and Proceed) decide when to commit.
func (e *Engine) materializeStage(
	ctx context.Context,
	reaction *models.Reaction,
	pipeline models.Pipeline,
	stageIdx int,
	now time.Time,
	slaSeconds int64,
) ([]models.GenericJob, error) {
	stage := pipeline.Order[stageIdx]
	total := len(pipeline.Order)
	offset := time.Duration(float64(slaSeconds) * (float64(stageIdx) / float64(total))) * time.Second
	deadline := now.Add(offset)

	jobs := make([]models.GenericJob, 0, len(stage.Images))
	for _, imageName := range stage.Images {
		image, err := e.db.Catalog().GetImage(ctx, reaction.Group, imageName)
		if errors.Is(err, columnar.ErrImageNotFound) {
			return nil, apierr.Wrap(apierr.NotFound, fmt.Sprintf("image %s/%s", reaction.Group, imageName), err)
		}
		if err != nil {
			return nil, apierr.Wrap(apierr.Transient, "loading image", err)
		}
		if image.Banned() {
			return nil, apierr.New(apierr.Banned, fmt.Sprintf("image %s/%s is banned", reaction.Group, imageName))
		}

		args := reaction.Args[imageName]
		jobs = append(jobs, models.GenericJob{
			ID:              uuid.NewString(),
			ReactionID:      reaction.ID,
			Group:           reaction.Group,
			Pipeline:        reaction.Pipeline,
			Stage:           stageName(stageIdx),
			Image:           imageName,
			Creator:         reaction.Creator,
			Args:            args,
			Status:          models.JobCreated,
			Deadline:        deadline,
			Parent:          reaction.Parent,
			Generator:       image.Generator,
			Scaler:          image.Scaler,
			Samples:         reaction.Samples,
			Ephemeral:       reaction.Ephemeral,
			ParentEphemeral: reaction.ParentEphemeral,
			Repos:           reaction.Repos,
			TriggerDepth:    reaction.TriggerDepth,
		})
	}
	return jobs, nil
}

func stageName(idx int) string {
	return fmt.Sprintf("stage-%d", idx)
}

func jobIDs(jobs []models.GenericJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

// insertJob persists one job row and pushes it onto the per-stage created
// queue, the per-scaler global deadline stream, and the reaction's job
// list — spec.md §4.1 Create's three insertion targets (a), (b), the third
// (c) having already been folded into the reaction row itself.
func (e *Engine) insertJob(ctx context.Context, job models.GenericJob) error {
	if err := e.db.Jobs().Create(ctx, job); err != nil {
		return apierr.Wrap(apierr.Transient, "creating job row", err)
	}
	if err := e.kv.DeadlineQueue(job.Group, job.Pipeline, job.Stage).Push(ctx, job.ID, job.Deadline); err != nil {
		return apierr.Wrap(apierr.Transient, "queueing job deadline", err)
	}
	if err := e.kv.Stream("deadlines", string(job.Scaler)).Add(ctx, job.ID, job.Deadline); err != nil {
		return apierr.Wrap(apierr.Transient, "recording global deadline", err)
	}
	return nil
}
