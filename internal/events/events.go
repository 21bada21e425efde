package events

import (
	"storyreel/internal/domain"
)

const (
	TypeShotProgress        = "shot_progress"
	TypeVideoProgress       = "video_progress"
	TypeSceneVideoComplete  = "video_generation_scene_complete"
	TypeGenerationComplete  = "generation_complete"
	TypeVideoComplete       = "video_generation_complete"
	TypeCompositionComplete = "composition_complete"
	TypeShotMapProgress     = "shot_map_progress"
)

// ProgressType returns the progress event type for a resource class.
func ProgressType(class domain.ResourceClass) string {
	if class == domain.ResourceVideo {
		return TypeVideoProgress
	}
	return TypeShotProgress
}

// ShotProgress reports a job status change. The asset is attached under
// "image" or "video" when complete; errMsg is attached on error.
func ShotProgress(class domain.ResourceClass, shotID int64, status domain.JobStatus, asset *domain.Asset, errMsg string) domain.Event {
	ev := domain.Event{
		"type":    ProgressType(class),
		"shot_id": shotID,
		"status":  string(status),
	}
	if asset != nil {
		ev[string(domain.KindForClass(class))] = asset
	}
	if status == domain.JobStatusError {
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		ev["error_message"] = errMsg
	}
	return ev
}

func SceneVideoComplete(shotIDs []int64) domain.Event {
	ids := shotIDs
	if ids == nil {
		ids = []int64{}
	}
	return domain.Event{"type": TypeSceneVideoComplete, "scene_shot_ids": ids}
}

func GenerationComplete() domain.Event {
	return domain.Event{"type": TypeGenerationComplete}
}

func VideoGenerationComplete() domain.Event {
	return domain.Event{"type": TypeVideoComplete}
}

// CompositionComplete reports a finished composition; an empty path means
// nothing could be composed.
func CompositionComplete(sceneID int64, path string) domain.Event {
	ev := domain.Event{
		"type":       TypeCompositionComplete,
		"scene_id":   sceneID,
		"status":     string(domain.JobStatusComplete),
		"video_path": nil,
	}
	if path != "" {
		ev["video_path"] = path
	}
	return ev
}

// CompositionFailed ends a composition run that produced nothing. reason is
// a short summary, never processor output.
func CompositionFailed(sceneID int64, reason string) domain.Event {
	if reason == "" {
		reason = "Unknown error"
	}
	return domain.Event{
		"type":          TypeCompositionComplete,
		"scene_id":      sceneID,
		"status":        string(domain.JobStatusError),
		"video_path":    nil,
		"error_message": reason,
	}
}

func ShotMapProgress(sceneID int64, status domain.JobStatus, asset *domain.Asset, errMsg string) domain.Event {
	ev := domain.Event{"type": TypeShotMapProgress, "scene_id": sceneID, "status": string(status)}
	if asset != nil {
		ev["shot_map"] = asset
	}
	if status == domain.JobStatusError {
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		ev["error_message"] = errMsg
	}
	return ev
}
