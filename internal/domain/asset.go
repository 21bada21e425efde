package domain

import "time"

// AssetKind enumerates asset types.
type AssetKind string

const (
	AssetKindImage    AssetKind = "image"
	AssetKindVideo    AssetKind = "video"
	AssetKindComposed AssetKind = "composed"
	AssetKindShotMap  AssetKind = "shot_map"
)

// KindForClass maps a resource class to the asset kind it produces.
func KindForClass(class ResourceClass) AssetKind {
	if class == ResourceVideo {
		return AssetKindVideo
	}
	return AssetKindImage
}

// Asset represents a generated artifact belonging to a shot or scene.
type Asset struct {
	ID               int64          `json:"id"`
	ShotID           int64          `json:"shot_id,omitempty"`
	SceneID          int64          `json:"scene_id,omitempty"`
	Kind             AssetKind      `json:"asset_type"`
	FilePath         string         `json:"file_path"`
	GenerationParams map[string]any `json:"generation_params,omitempty"`
	IsCurrent        bool           `json:"is_current"`
	CreatedAt        time.Time      `json:"created_at"`
}

// CompositionArtifact is the stitched output of one composition run.
type CompositionArtifact struct {
	SceneID   int64
	Path      string
	ClipPaths []string
	Joins     []Join
	CreatedAt time.Time
}

// Join describes how two adjacent clips were stitched.
type Join struct {
	FromShotID int64
	ToShotID   int64
	Transition TransitionType
	Effect     string
	Duration   float64
	Offset     float64
	Crossfade  bool
}
