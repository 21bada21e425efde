package main

import (
	"encoding/json"
	"fmt"
	"os"

	"storyreel/internal/domain"
	"storyreel/internal/prompt"
)

// sceneFile is the offline description of one scene. Image keys are relative
// to the storage root.
type sceneFile struct {
	ID             int64        `json:"id"`
	StoryID        int64        `json:"story_id"`
	Goal           string       `json:"goal"`
	ClosingEmotion string       `json:"closing_emotion"`
	Intensity      *float64     `json:"intensity"`
	Style          prompt.Style `json:"style"`
	Shots          []shotFile   `json:"shots"`
}

type shotFile struct {
	ID                   int64    `json:"id"`
	OrderIndex           int      `json:"order_index"`
	Description          string   `json:"description"`
	Dialogue             string   `json:"dialogue"`
	ShotType             string   `json:"shot_type"`
	CameraMovement       string   `json:"camera_movement"`
	CameraMovementDetail string   `json:"camera_movement_detail"`
	Lighting             string   `json:"lighting"`
	ColorMood            string   `json:"color_mood"`
	ColorPalette         []string `json:"color_palette"`
	Duration             float64  `json:"duration"`
	TransitionType       string   `json:"transition_type"`
	TransitionDuration   *float64 `json:"transition_duration"`
	Image                string   `json:"image"`
}

func loadSceneFile(path string) (domain.Scene, prompt.Style, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Scene{}, prompt.Style{}, err
	}
	var f sceneFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.Scene{}, prompt.Style{}, fmt.Errorf("parse %s: %w", path, err)
	}
	scene := domain.Scene{
		ID:             f.ID,
		StoryID:        f.StoryID,
		Goal:           f.Goal,
		ClosingEmotion: f.ClosingEmotion,
		Intensity:      0.5,
	}
	if f.Intensity != nil {
		scene.Intensity = *f.Intensity
	}
	for i, s := range f.Shots {
		id := s.ID
		if id == 0 {
			id = int64(i + 1)
		}
		td := domain.DefaultTransitionDuration
		if s.TransitionDuration != nil {
			td = *s.TransitionDuration
		}
		scene.Shots = append(scene.Shots, domain.Shot{
			ID:                   id,
			SceneID:              f.ID,
			OrderIndex:           s.OrderIndex,
			Description:          s.Description,
			Dialogue:             s.Dialogue,
			ShotType:             s.ShotType,
			CameraMovement:       domain.CameraMovement(s.CameraMovement),
			CameraMovementDetail: s.CameraMovementDetail,
			Lighting:             s.Lighting,
			ColorMood:            s.ColorMood,
			ColorPalette:         s.ColorPalette,
			Duration:             s.Duration,
			TransitionType:       domain.TransitionType(s.TransitionType),
			TransitionDuration:   td,
			CurrentImage:         s.Image,
		})
	}
	seq, err := domain.NewSceneSequence(scene.ID, scene.Shots)
	if err != nil {
		return domain.Scene{}, prompt.Style{}, err
	}
	scene.Shots = seq.Shots
	return scene, f.Style, nil
}
