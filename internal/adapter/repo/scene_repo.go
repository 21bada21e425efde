package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/sqlinline"
)

type scanner interface {
	Scan(dest ...any) error
}

// SceneRepositoryPG implements domain.SceneSource on PostgreSQL.
type SceneRepositoryPG struct {
	db infra.SQLExecutor
}

func NewSceneRepository(db infra.SQLExecutor) *SceneRepositoryPG {
	return &SceneRepositoryPG{db: db}
}

// LoadShot returns a shot together with its scene, without the scene's shots.
func (r *SceneRepositoryPG) LoadShot(ctx context.Context, shotID int64) (*domain.Shot, *domain.Scene, error) {
	shot, err := scanShot(r.db.QueryRow(ctx, sqlinline.QSelectShot, shotID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil, fmt.Errorf("shot %d: %w", shotID, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("repo: load shot: %w", err)
	}
	scene, err := scanScene(r.db.QueryRow(ctx, sqlinline.QSelectScene, shot.SceneID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil, fmt.Errorf("scene %d: %w", shot.SceneID, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("repo: load scene: %w", err)
	}
	return &shot, &scene, nil
}

// LoadScene returns a scene with its shots ordered by order_index.
func (r *SceneRepositoryPG) LoadScene(ctx context.Context, sceneID int64) (*domain.Scene, error) {
	scene, err := scanScene(r.db.QueryRow(ctx, sqlinline.QSelectScene, sceneID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("scene %d: %w", sceneID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("repo: load scene: %w", err)
	}
	shots, err := r.listShots(ctx, sqlinline.QListShotsByScene, sceneID)
	if err != nil {
		return nil, err
	}
	scene.Shots = shots
	return &scene, nil
}

// LoadStoryScenes returns every scene of a story in story order. A story
// without scenes is reported as not found.
func (r *SceneRepositoryPG) LoadStoryScenes(ctx context.Context, storyID int64) ([]domain.Scene, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListScenesByStory, storyID)
	if err != nil {
		return nil, fmt.Errorf("repo: list scenes: %w", err)
	}
	var scenes []domain.Scene
	index := map[int64]int{}
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("repo: scan scene: %w", err)
		}
		index[scene.ID] = len(scenes)
		scenes = append(scenes, scene)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list scenes: %w", err)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("story %d: %w", storyID, domain.ErrNotFound)
	}

	shots, err := r.listShots(ctx, sqlinline.QListShotsByStory, storyID)
	if err != nil {
		return nil, err
	}
	for _, shot := range shots {
		if i, ok := index[shot.SceneID]; ok {
			scenes[i].Shots = append(scenes[i].Shots, shot)
		}
	}
	return scenes, nil
}

func (r *SceneRepositoryPG) listShots(ctx context.Context, query string, id int64) ([]domain.Shot, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("repo: list shots: %w", err)
	}
	defer rows.Close()
	var shots []domain.Shot
	for rows.Next() {
		shot, err := scanShot(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan shot: %w", err)
		}
		shots = append(shots, shot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list shots: %w", err)
	}
	return shots, nil
}

func scanShot(row scanner) (domain.Shot, error) {
	var (
		s          domain.Shot
		camera     string
		transition string
		palette    []byte
	)
	err := row.Scan(
		&s.ID, &s.SceneID, &s.OrderIndex,
		&s.Prompt, &s.VideoPrompt, &s.Description, &s.Dialogue,
		&s.ShotType, &camera, &s.CameraMovementDetail,
		&s.Lighting, &s.ColorMood, &palette,
		&s.Duration, &transition, &s.TransitionDuration,
		&s.CurrentImage, &s.CurrentVideo,
	)
	if err != nil {
		return domain.Shot{}, err
	}
	s.CameraMovement = domain.CameraMovement(camera)
	s.TransitionType = domain.TransitionType(transition)
	if len(palette) > 0 {
		if err := json.Unmarshal(palette, &s.ColorPalette); err != nil {
			return domain.Shot{}, fmt.Errorf("color_palette: %w", err)
		}
	}
	if s.CurrentImage != "" {
		s.ReferenceImage = &domain.ImageRef{StorageKey: s.CurrentImage}
	}
	return s, nil
}

func scanScene(row scanner) (domain.Scene, error) {
	var sc domain.Scene
	err := row.Scan(&sc.ID, &sc.StoryID, &sc.OrderIndex, &sc.Goal, &sc.ClosingEmotion, &sc.Intensity)
	return sc, err
}

var _ domain.SceneSource = (*SceneRepositoryPG)(nil)
