package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/sqlinline"
)

// StatusRepositoryPG implements domain.StatusStore. Multi-statement updates
// run in one short transaction each.
type StatusRepositoryPG struct {
	db infra.TxRunner
}

func NewStatusRepository(db infra.TxRunner) *StatusRepositoryPG {
	return &StatusRepositoryPG{db: db}
}

// BeginGeneration flips the class status to generating unless a job is
// already in flight. The check and the update are one statement.
func (r *StatusRepositoryPG) BeginGeneration(ctx context.Context, class domain.ResourceClass, shotID int64, prompt string) error {
	query := sqlinline.QBeginImageGeneration
	if class == domain.ResourceVideo {
		query = sqlinline.QBeginVideoGeneration
	}
	var id int64
	err := r.db.QueryRow(ctx, query, shotID, prompt).Scan(&id)
	if err == nil {
		return nil
	}
	if !infra.IsNoRows(err) {
		return fmt.Errorf("repo: begin %s generation: %w", class, err)
	}
	var exists bool
	if err := r.db.QueryRow(ctx, sqlinline.QShotExists, shotID).Scan(&exists); err != nil {
		return fmt.Errorf("repo: check shot: %w", err)
	}
	if !exists {
		return fmt.Errorf("shot %d: %w", shotID, domain.ErrNotFound)
	}
	return fmt.Errorf("shot %d %s: %w", shotID, class, domain.ErrAlreadyInProgress)
}

// CompleteJob stores the job's result as the current asset and marks the
// shot complete.
func (r *StatusRepositoryPG) CompleteJob(ctx context.Context, job domain.GenerationJob, params map[string]any) (*domain.Asset, error) {
	if job.ResultPath == nil || *job.ResultPath == "" {
		return nil, fmt.Errorf("repo: job %s has no result path", job.ID)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("repo: encode params: %w", err)
	}
	kind := domain.KindForClass(job.Class)
	asset := &domain.Asset{
		ShotID:           job.ShotID,
		Kind:             kind,
		FilePath:         *job.ResultPath,
		GenerationParams: params,
		IsCurrent:        true,
	}
	err = r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QClearCurrentShotAssets, job.ShotID, string(kind)); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, sqlinline.QInsertShotAsset, job.ShotID, string(kind), asset.FilePath, raw).Scan(&asset.ID, &asset.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, statusQuery(job.Class), job.ShotID, string(domain.JobStatusComplete))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("repo: complete job %s: %w", job.ID, err)
	}
	return asset, nil
}

// FailJob marks the shot's class status as error.
func (r *StatusRepositoryPG) FailJob(ctx context.Context, job domain.GenerationJob) error {
	if _, err := r.db.Exec(ctx, statusQuery(job.Class), job.ShotID, string(domain.JobStatusError)); err != nil {
		return fmt.Errorf("repo: fail job %s: %w", job.ID, err)
	}
	return nil
}

// CompleteSceneAsset stores a scene-level asset as the current one of its
// kind.
func (r *StatusRepositoryPG) CompleteSceneAsset(ctx context.Context, sceneID int64, kind domain.AssetKind, path string, params map[string]any) (*domain.Asset, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("repo: encode params: %w", err)
	}
	asset := &domain.Asset{
		SceneID:          sceneID,
		Kind:             kind,
		FilePath:         path,
		GenerationParams: params,
		IsCurrent:        true,
	}
	err = r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QClearCurrentSceneAssets, sceneID, string(kind)); err != nil {
			return err
		}
		return tx.QueryRow(ctx, sqlinline.QInsertSceneAsset, sceneID, string(kind), path, raw).Scan(&asset.ID, &asset.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("repo: store %s for scene %d: %w", kind, sceneID, err)
	}
	return asset, nil
}

// RecordComposition stores a composed video as the scene's current
// composition. The joins are kept in the asset params.
func (r *StatusRepositoryPG) RecordComposition(ctx context.Context, art domain.CompositionArtifact) (*domain.Asset, error) {
	joins := make([]map[string]any, 0, len(art.Joins))
	for _, j := range art.Joins {
		joins = append(joins, map[string]any{
			"from_shot_id": j.FromShotID,
			"to_shot_id":   j.ToShotID,
			"transition":   string(j.Transition),
			"crossfade":    j.Crossfade,
			"duration":     j.Duration,
			"offset":       j.Offset,
		})
	}
	created := art.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	params := map[string]any{
		"scene_id":    art.SceneID,
		"shot_count":  len(art.ClipPaths),
		"joins":       joins,
		"composed_at": created.Format(time.RFC3339),
	}
	return r.CompleteSceneAsset(ctx, art.SceneID, domain.AssetKindComposed, art.Path, params)
}

// RecordCompositionFailure stores a non-current composed record whose params
// carry status error and the reason.
func (r *StatusRepositoryPG) RecordCompositionFailure(ctx context.Context, sceneID int64, reason string) error {
	raw, err := json.Marshal(map[string]any{
		"scene_id":      sceneID,
		"status":        string(domain.JobStatusError),
		"error_message": reason,
		"failed_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("repo: encode params: %w", err)
	}
	if _, err := r.db.Exec(ctx, sqlinline.QInsertFailedSceneAsset, sceneID, string(domain.AssetKindComposed), raw); err != nil {
		return fmt.Errorf("repo: record failed composition for scene %d: %w", sceneID, err)
	}
	return nil
}

func (r *StatusRepositoryPG) SetStoryStatus(ctx context.Context, storyID int64, status string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QSetStoryStatus, storyID, status)
	if err != nil {
		return fmt.Errorf("repo: set story status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("story %d: %w", storyID, domain.ErrNotFound)
	}
	return nil
}

func statusQuery(class domain.ResourceClass) string {
	if class == domain.ResourceVideo {
		return sqlinline.QSetVideoStatus
	}
	return sqlinline.QSetImageStatus
}

var _ domain.StatusStore = (*StatusRepositoryPG)(nil)
