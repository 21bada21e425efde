package domain

import (
	"fmt"
	"sort"
	"strings"
)

// CameraMovement enumerates the camera-movement categories a shot can declare.
type CameraMovement string

const (
	CameraStatic    CameraMovement = "static"
	CameraPan       CameraMovement = "pan"
	CameraTilt      CameraMovement = "tilt"
	CameraZoom      CameraMovement = "zoom"
	CameraDolly     CameraMovement = "dolly"
	CameraCrane     CameraMovement = "crane"
	CameraTracking  CameraMovement = "tracking"
	CameraHandheld  CameraMovement = "handheld"
	CameraSteadicam CameraMovement = "steadicam"
)

// TransitionType enumerates the fixed transition vocabulary.
type TransitionType string

const (
	TransitionCut      TransitionType = "cut"
	TransitionDissolve TransitionType = "dissolve"
	TransitionFade     TransitionType = "fade"
	TransitionWipe     TransitionType = "wipe"
	TransitionMatchCut TransitionType = "match-cut"
	TransitionWhipPan  TransitionType = "whip-pan"
	TransitionJCut     TransitionType = "j-cut"
	TransitionLCut     TransitionType = "l-cut"
	TransitionSmashCut TransitionType = "smash-cut"
	TransitionIris     TransitionType = "iris"
)

const (
	// DefaultShotDuration is used when a shot carries no positive duration.
	DefaultShotDuration = 4.0
	// DefaultTransitionDuration mirrors the column default of shots.transition_duration.
	DefaultTransitionDuration = 0.5
	// DefaultVideoDuration is the clip length requested from the video service
	// when a shot has no duration.
	DefaultVideoDuration = 5
)

// ImageRef points at a reference image. Exactly one field is expected to be
// set; DataURI wins over URL, URL wins over StorageKey.
type ImageRef struct {
	DataURI    string
	URL        string
	StorageKey string
}

// IsZero reports whether the reference carries no image at all.
func (r *ImageRef) IsZero() bool {
	return r == nil || (strings.TrimSpace(r.DataURI) == "" && strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.StorageKey) == "")
}

// Shot is the read-only descriptor of one shot as produced by the narrative
// store.
type Shot struct {
	ID                   int64
	SceneID              int64
	OrderIndex           int
	Prompt               string
	VideoPrompt          string
	Description          string
	Dialogue             string
	ShotType             string
	CameraMovement       CameraMovement
	CameraMovementDetail string
	Lighting             string
	ColorMood            string
	ColorPalette         []string
	Duration             float64
	TransitionType       TransitionType
	TransitionDuration   float64
	ReferenceImage       *ImageRef
	CurrentImage         string
	CurrentVideo         string
}

// EffectiveDuration returns the shot duration, falling back to the default
// for non-positive values.
func (s Shot) EffectiveDuration() float64 {
	if s.Duration <= 0 {
		return DefaultShotDuration
	}
	return s.Duration
}

// VideoDuration returns the whole-second clip length requested upstream.
func (s Shot) VideoDuration() int {
	if s.Duration <= 0 {
		return DefaultVideoDuration
	}
	return int(s.Duration)
}

// Scene carries the scene-level context consumed by the pipeline.
type Scene struct {
	ID             int64
	StoryID        int64
	OrderIndex     int
	Goal           string
	ClosingEmotion string
	Intensity      float64
	Shots          []Shot
}

// SceneSequence is an ordered run of shots sharing continuity.
type SceneSequence struct {
	SceneID int64
	Shots   []Shot
	// Detached marks shots whose predecessor was left out of the run. They
	// start from their own reference instead of the previous shot's frame.
	Detached map[int64]bool
	// Prompt builds a shot's video prompt once it is known whether the shot
	// continues the previous clip. Nil keeps VideoPrompt.
	Prompt func(shot Shot, continued bool) string
}

// NewSceneSequence sorts shots by OrderIndex and validates the ordering.
func NewSceneSequence(sceneID int64, shots []Shot) (SceneSequence, error) {
	sorted := make([]Shot, len(shots))
	copy(sorted, shots)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })
	seq := SceneSequence{SceneID: sceneID, Shots: sorted}
	if err := seq.Validate(); err != nil {
		return SceneSequence{}, err
	}
	return seq, nil
}

// Validate checks the strictly increasing ordering invariant.
func (s SceneSequence) Validate() error {
	for i := 1; i < len(s.Shots); i++ {
		if s.Shots[i].OrderIndex <= s.Shots[i-1].OrderIndex {
			return fmt.Errorf("%w: shot %d order %d follows order %d", ErrInvalidSequence, s.Shots[i].ID, s.Shots[i].OrderIndex, s.Shots[i-1].OrderIndex)
		}
	}
	return nil
}

// ShotIDs lists the shot identifiers in sequence order.
func (s SceneSequence) ShotIDs() []int64 {
	ids := make([]int64, len(s.Shots))
	for i, shot := range s.Shots {
		ids[i] = shot.ID
	}
	return ids
}
