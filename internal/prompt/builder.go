// Package prompt composes deterministic image, video and shot-map prompts
// from shot metadata and the story's visual style.
package prompt

import (
	"fmt"
	"strings"

	"storyreel/internal/domain"
)

const (
	noTextSuffix = "No text, no words, no letters, no typography, no UI elements."
	aspectSuffix = "Vertical 9:16 portrait composition for mobile viewing."
	// continuationClause tells the video service to pick up from the previous
	// clip's last frame.
	continuationClause = "Continuous camera: this shot picks up exactly where the previous shot ended, same framing and motion, no cut."
	excerptLen         = 80
)

var shotAngles = map[string]string{
	"wide":              "Wide shot, full scene visible",
	"medium":            "Medium shot, waist up",
	"close-up":          "Close-up shot, face and shoulders",
	"extreme-close-up":  "Extreme close-up, single detail fills frame",
	"over-the-shoulder": "Over the shoulder perspective",
	"birds-eye":         "Bird's eye view, looking straight down",
	"low-angle":         "Low angle shot, looking up",
	"dutch-angle":       "Dutch angle, tilted frame",
	"pov":               "First person point of view",
}

// Input is one shot to describe plus its neighbourhood.
type Input struct {
	Shot domain.Shot
	// Prev is the shot played before this one, if any.
	Prev *domain.Shot
	// SceneIndex is the position of the shot's scene in the story; nil skips
	// the color script.
	SceneIndex *int
	// Continuation marks a video shot chained from the previous clip.
	Continuation bool
}

// draft accumulates fragments. The flags let later fragments yield to
// earlier, more specific ones.
type draft struct {
	parts       []string
	hasLighting bool
	hasPalette  bool
}

func (d *draft) add(s string) {
	if s = strings.TrimSpace(s); s != "" {
		d.parts = append(d.parts, s)
	}
}

// Fragment contributes zero or more sentences to a prompt.
type Fragment func(b *Builder, in Input, d *draft)

// ImageFragments is the order in which image prompts are assembled.
var ImageFragments = []Fragment{
	cameraPrefix,
	globalStyle,
	designLanguage,
	description,
	characters,
	locations,
	props,
	colorScript,
	shotType,
	lighting,
	colorMood,
	palette,
	impliedMotion,
	continuity,
	noText,
	aspect,
}

// VideoFragments is the order in which video prompts are assembled.
var VideoFragments = []Fragment{
	globalStyle,
	description,
	continuation,
	characters,
	locations,
	props,
	shotType,
	cameraMotion,
	lighting,
	colorMood,
	noText,
}

// Builder renders prompts for one story.
type Builder struct {
	style   Style
	matcher Matcher
}

// New returns a builder for style. A nil matcher uses SubstringMatcher.
func New(style Style, matcher Matcher) *Builder {
	if matcher == nil {
		matcher = SubstringMatcher{}
	}
	return &Builder{style: style, matcher: matcher}
}

// Image builds the still-image prompt for a shot.
func (b *Builder) Image(in Input) string {
	return b.render(ImageFragments, in)
}

// Video builds the image-to-video prompt for a shot.
func (b *Builder) Video(in Input) string {
	return b.render(VideoFragments, in)
}

func (b *Builder) render(fragments []Fragment, in Input) string {
	d := &draft{}
	for _, f := range fragments {
		f(b, in, d)
	}
	return strings.Join(d.parts, " ")
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimRight(s, ".") + "."
}

func excerpt(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > excerptLen {
		r = r[:excerptLen]
	}
	return string(r)
}

func cameraPrefix(b *Builder, _ Input, d *draft) {
	d.add(sentence(b.style.bible().CameraPrefix))
}

func globalStyle(b *Builder, _ Input, d *draft) {
	style := b.style.VisualStyle
	if g := b.style.bible().GlobalStyle; strings.TrimSpace(g) != "" {
		style = g
	}
	d.add(sentence(style))
}

func designLanguage(b *Builder, _ Input, d *draft) {
	d.add(sentence(b.style.bible().DesignLanguage))
}

func description(_ *Builder, in Input, d *draft) {
	d.add(in.Shot.Description)
}

func (b *Builder) inject(entities []Entity, in Input, d *draft, format string) {
	for _, e := range entities {
		if strings.TrimSpace(e.Description) == "" || !b.matcher.Match(e.Name, in.Shot.Description) {
			continue
		}
		d.add(fmt.Sprintf(format, e.Name, e.Description))
	}
}

func characters(b *Builder, in Input, d *draft) {
	b.inject(b.style.bible().Characters, in, d, "[%s]: %s")
}

func locations(b *Builder, in Input, d *draft) {
	b.inject(b.style.bible().Locations, in, d, "[Setting: %s]: %s")
}

func props(b *Builder, in Input, d *draft) {
	b.inject(b.style.bible().Props, in, d, "[%s]: %s")
}

func colorScript(b *Builder, in Input, d *draft) {
	if in.SceneIndex == nil {
		return
	}
	for _, entry := range b.style.colorScript() {
		if entry.SceneIndex != *in.SceneIndex {
			continue
		}
		if len(entry.Palette) > 0 {
			d.add(fmt.Sprintf("Color palette: %s.", strings.Join(entry.Palette, ", ")))
			d.hasPalette = true
		}
		if entry.LightingDirection != "" {
			d.add(fmt.Sprintf("Lighting: %s.", entry.LightingDirection))
			d.hasLighting = true
		}
		return
	}
}

func shotType(_ *Builder, in Input, d *draft) {
	st := strings.TrimSpace(in.Shot.ShotType)
	if st == "" {
		return
	}
	if angle, ok := shotAngles[st]; ok {
		d.add(angle + ".")
		return
	}
	d.add(st + " shot.")
}

func lighting(_ *Builder, in Input, d *draft) {
	if d.hasLighting || strings.TrimSpace(in.Shot.Lighting) == "" {
		return
	}
	d.add(fmt.Sprintf("Lighting: %s.", strings.TrimSpace(in.Shot.Lighting)))
	d.hasLighting = true
}

func colorMood(_ *Builder, in Input, d *draft) {
	if m := strings.TrimSpace(in.Shot.ColorMood); m != "" {
		d.add(fmt.Sprintf("Color mood: %s.", m))
	}
}

func palette(_ *Builder, in Input, d *draft) {
	colors := in.Shot.ColorPalette
	if d.hasPalette || len(colors) < 2 {
		return
	}
	if len(colors) > 4 {
		colors = colors[:4]
	}
	d.add(fmt.Sprintf("Dominant colors: %s.", strings.Join(colors, ", ")))
	d.hasPalette = true
}

func motionHint(s domain.Shot) string {
	if detail := strings.TrimSpace(s.CameraMovementDetail); detail != "" {
		return detail
	}
	return strings.TrimSpace(string(s.CameraMovement))
}

func impliedMotion(_ *Builder, in Input, d *draft) {
	if in.Shot.CameraMovement == "" || in.Shot.CameraMovement == domain.CameraStatic {
		return
	}
	d.add(fmt.Sprintf("Implied camera motion: %s.", motionHint(in.Shot)))
}

func cameraMotion(_ *Builder, in Input, d *draft) {
	if in.Shot.CameraMovement == "" {
		return
	}
	if in.Shot.CameraMovement == domain.CameraStatic {
		d.add("Locked-off static camera, subtle natural motion in frame.")
		return
	}
	d.add(fmt.Sprintf("Camera: %s.", motionHint(in.Shot)))
}

func continuity(_ *Builder, in Input, d *draft) {
	if in.Prev == nil || strings.TrimSpace(in.Prev.Description) == "" {
		return
	}
	d.add(fmt.Sprintf("Continuation from: %s.", excerpt(in.Prev.Description)))
}

func continuation(_ *Builder, in Input, d *draft) {
	if in.Continuation {
		d.add(continuationClause)
	}
}

func noText(_ *Builder, _ Input, d *draft) {
	d.add(noTextSuffix)
}

func aspect(_ *Builder, _ Input, d *draft) {
	d.add(aspectSuffix)
}
