package domain

import "context"

// SceneSource reads shot descriptors owned by the narrative store.
type SceneSource interface {
	LoadShot(ctx context.Context, shotID int64) (*Shot, *Scene, error)
	LoadScene(ctx context.Context, sceneID int64) (*Scene, error)
	LoadStoryScenes(ctx context.Context, storyID int64) ([]Scene, error)
}

// StatusStore persists generation status and asset records. Every method is a
// self-contained unit of work.
type StatusStore interface {
	// BeginGeneration marks the shot as generating for the class. It returns
	// ErrAlreadyInProgress when a job for the same shot and class is in flight.
	BeginGeneration(ctx context.Context, class ResourceClass, shotID int64, prompt string) error
	// CompleteJob stores the new asset as current and flips older assets of
	// the same kind to non-current atomically.
	CompleteJob(ctx context.Context, job GenerationJob, params map[string]any) (*Asset, error)
	FailJob(ctx context.Context, job GenerationJob) error
	CompleteSceneAsset(ctx context.Context, sceneID int64, kind AssetKind, path string, params map[string]any) (*Asset, error)
	RecordComposition(ctx context.Context, artifact CompositionArtifact) (*Asset, error)
	// RecordCompositionFailure keeps a non-current composition record
	// carrying the failure reason.
	RecordCompositionFailure(ctx context.Context, sceneID int64, reason string) error
	SetStoryStatus(ctx context.Context, storyID int64, status string) error
}

// Event is a progress message fanned out to subscribers.
type Event map[string]any

// Broadcaster fans events out to progress subscribers. Delivery is best-effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event)
}
