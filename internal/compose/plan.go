package compose

import (
	"math"
	"sort"
	"strings"

	"storyreel/internal/domain"
)

// Clip is one shot turned into a motion clip.
type Clip struct {
	ShotID             int64
	ImageKey           string
	Duration           float64
	Movement           Movement
	Transition         domain.TransitionType
	TransitionDuration float64
}

// Plan is the full set of composition decisions for one scene. It depends on
// shot metadata and image availability only.
type Plan struct {
	SceneID  int64
	Clips    []Clip
	Joins    []domain.Join
	Duration float64
}

// AllCuts reports whether every join is a straight concatenation.
func (pl Plan) AllCuts() bool {
	for _, j := range pl.Joins {
		if j.Crossfade {
			return false
		}
	}
	return true
}

// Plan selects the shots with a usable current image, in OrderIndex order,
// and decides every join. usable may be nil to accept any non-empty key.
func (p Profile) Plan(sceneID int64, shots []domain.Shot, usable func(key string) bool) Plan {
	ordered := make([]domain.Shot, len(shots))
	copy(ordered, shots)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OrderIndex < ordered[j].OrderIndex })

	var clips []Clip
	for _, shot := range ordered {
		key := strings.TrimSpace(shot.CurrentImage)
		if key == "" || (usable != nil && !usable(key)) {
			continue
		}
		clips = append(clips, p.clipFor(shot, key))
	}
	return p.planClips(sceneID, clips)
}

func (p Profile) clipFor(shot domain.Shot, key string) Clip {
	transition := shot.TransitionType
	if transition == "" {
		transition = domain.TransitionCut
	}
	return Clip{
		ShotID:             shot.ID,
		ImageKey:           key,
		Duration:           shot.EffectiveDuration(),
		Movement:           p.MovementFor(shot.CameraMovement),
		Transition:         transition,
		TransitionDuration: shot.TransitionDuration,
	}
}

// planClips decides the joins between consecutive clips. The join between
// clip k and k+1 uses the transition declared on clip k.
//
// L is the length of the stream built so far. A cut appends the next clip
// (L += next). A crossfade of length d starts at offset L-d and leaves
// L = L - d + next.
func (p Profile) planClips(sceneID int64, clips []Clip) Plan {
	pl := Plan{SceneID: sceneID, Clips: clips}
	if len(clips) == 0 {
		return pl
	}
	length := clips[0].Duration
	for k := 0; k+1 < len(clips); k++ {
		cur, next := clips[k], clips[k+1]
		join := domain.Join{
			FromShotID: cur.ShotID,
			ToShotID:   next.ShotID,
			Transition: cur.Transition,
		}
		d := math.Min(cur.TransitionDuration, p.MaxCrossfade)
		d = math.Min(d, math.Min(length, next.Duration))
		if cur.Transition == domain.TransitionCut || d <= 0 {
			join.Offset = round3(length)
			length += next.Duration
		} else {
			join.Crossfade = true
			join.Effect = p.EffectFor(cur.Transition)
			join.Duration = round3(d)
			join.Offset = round3(length - d)
			length = length - d + next.Duration
		}
		pl.Joins = append(pl.Joins, join)
	}
	pl.Duration = round3(length)
	return pl
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
