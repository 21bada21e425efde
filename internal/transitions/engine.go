// Package transitions suggests a cinematic transition for every adjacent pair
// of shots in a scene. Suggestions are a pure function of shot metadata.
package transitions

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"storyreel/internal/domain"
)

type entry struct {
	duration float64
	icon     string
}

var vocabulary = map[domain.TransitionType]entry{
	domain.TransitionCut:      {0.0, "/"},
	domain.TransitionDissolve: {1.0, "~"},
	domain.TransitionFade:     {1.5, "..."},
	domain.TransitionWipe:     {0.8, ">"},
	domain.TransitionMatchCut: {0.0, "="},
	domain.TransitionWhipPan:  {0.3, ">>"},
	domain.TransitionJCut:     {0.5, "J"},
	domain.TransitionLCut:     {0.5, "L"},
	domain.TransitionSmashCut: {0.0, "!"},
	domain.TransitionIris:     {0.8, "O"},
}

var (
	somberEmotions   = set("sadness", "melancholy", "grief", "despair", "resignation", "loss")
	shockEmotions    = set("shock", "surprise", "rage", "anger")
	dialogueCoverage = set("close-up", "extreme-close-up", "over-the-shoulder")
	wideTypes        = set("wide", "birds-eye")
)

const (
	highIntensity = 0.7
	lowIntensity  = 0.3
	shortShot     = 3.0
)

// SceneContext is the scene-level input of the rule ladder.
type SceneContext struct {
	ClosingEmotion string
	Intensity      float64
}

// ContextFor extracts the rule inputs from a scene.
func ContextFor(scene domain.Scene) SceneContext {
	return SceneContext{ClosingEmotion: scene.ClosingEmotion, Intensity: scene.Intensity}
}

// CanonicalDuration returns the default duration of t; unknown types get the
// cut duration.
func CanonicalDuration(t domain.TransitionType) float64 {
	return vocabulary[t].duration
}

// Icon returns the shot-map glyph of t, "/" for unknown types.
func Icon(t domain.TransitionType) string {
	if s, ok := vocabulary[t]; ok {
		return s.icon
	}
	return vocabulary[domain.TransitionCut].icon
}

// Known reports whether t belongs to the vocabulary.
func Known(t domain.TransitionType) bool {
	_, ok := vocabulary[t]
	return ok
}

// Suggest returns one suggestion per adjacent pair of the ordered shots.
func Suggest(shots []domain.Shot, scene SceneContext) []domain.TransitionSuggestion {
	if len(shots) < 2 {
		return []domain.TransitionSuggestion{}
	}
	fold := cases.Fold()
	norm := func(s string) string { return fold.String(strings.TrimSpace(s)) }

	in := ladderInput{
		closing:   norm(scene.ClosingEmotion),
		intensity: scene.Intensity,
	}
	out := make([]domain.TransitionSuggestion, 0, len(shots)-1)
	for i := 0; i < len(shots)-1; i++ {
		cur, next := shots[i], shots[i+1]
		in.first = i == 0
		in.last = i == len(shots)-2
		in.cur = pairShot{
			dialogue: strings.TrimSpace(cur.Dialogue) != "",
			shotType: norm(cur.ShotType),
			movement: norm(string(cur.CameraMovement)),
			detail:   norm(cur.CameraMovementDetail),
			duration: cur.EffectiveDuration(),
		}
		in.next = pairShot{
			dialogue: strings.TrimSpace(next.Dialogue) != "",
			shotType: norm(next.ShotType),
			movement: norm(string(next.CameraMovement)),
			detail:   norm(next.CameraMovementDetail),
			duration: next.EffectiveDuration(),
		}
		typ, confidence, reason := pick(in)
		out = append(out, domain.TransitionSuggestion{
			FromShotID: cur.ID,
			ToShotID:   next.ID,
			Type:       typ,
			Duration:   CanonicalDuration(typ),
			Confidence: confidence,
			Reason:     reason,
		})
	}
	return out
}

type pairShot struct {
	dialogue bool
	shotType string
	movement string
	detail   string
	duration float64
}

type ladderInput struct {
	closing   string
	intensity float64
	first     bool
	last      bool
	cur       pairShot
	next      pairShot
}

// pick walks the rule ladder; the first matching rule decides.
func pick(in ladderInput) (domain.TransitionType, float64, string) {
	cur, next := in.cur, in.next

	if in.last {
		switch {
		case somberEmotions[in.closing]:
			return domain.TransitionFade, 0.85, fmt.Sprintf("Scene ends on somber emotion: %s", in.closing)
		case shockEmotions[in.closing]:
			return domain.TransitionSmashCut, 0.80, fmt.Sprintf("Scene ends abruptly on: %s", in.closing)
		default:
			return domain.TransitionDissolve, 0.70, "Scene terminus: smooth transition out"
		}
	}

	if cur.dialogue && next.dialogue && dialogueCoverage[cur.shotType] && dialogueCoverage[next.shotType] {
		return domain.TransitionCut, 0.90, "Dialogue coverage: alternating close-ups/OTS"
	}
	if !cur.dialogue && next.dialogue {
		return domain.TransitionJCut, 0.75, "Dialogue begins: audio leads the cut"
	}
	if cur.dialogue && !next.dialogue {
		return domain.TransitionLCut, 0.75, "Dialogue ends: audio trails into next shot"
	}

	if strings.Contains(cur.detail, "whip") || strings.Contains(next.detail, "whip") {
		return domain.TransitionWhipPan, 0.85, "Whip movement detected in camera detail"
	}
	if cur.movement == string(domain.CameraTracking) && next.movement == string(domain.CameraTracking) {
		return domain.TransitionCut, 0.70, "Continuous tracking: invisible cut"
	}

	if (wideTypes[cur.shotType] && next.shotType == "extreme-close-up") ||
		(cur.shotType == "extreme-close-up" && wideTypes[next.shotType]) {
		return domain.TransitionMatchCut, 0.75, fmt.Sprintf("Dramatic shift: %s to %s", cur.shotType, next.shotType)
	}
	if cur.shotType == "pov" {
		return domain.TransitionCut, 0.80, "POV shot: direct cut maintains subjectivity"
	}

	if in.intensity > highIntensity && (cur.duration <= shortShot || next.duration <= shortShot) {
		return domain.TransitionCut, 0.65, "High intensity + short duration: rapid cuts"
	}
	if in.intensity < lowIntensity {
		return domain.TransitionDissolve, 0.60, "Low intensity: gentle dissolve"
	}

	if in.first && wideTypes[cur.shotType] {
		return domain.TransitionDissolve, 0.65, "Establishing shot: dissolve into scene"
	}

	return domain.TransitionCut, 0.30, "Default transition"
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
