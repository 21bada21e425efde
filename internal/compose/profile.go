package compose

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"storyreel/internal/domain"
)

// Movement is a motion primitive applied to a still image.
type Movement string

const (
	ZoomIn   Movement = "zoom-in"
	ZoomOut  Movement = "zoom-out"
	PanLeft  Movement = "pan-left"
	PanRight Movement = "pan-right"
	PanUp    Movement = "pan-up"
	PanDown  Movement = "pan-down"
)

func (m Movement) valid() bool {
	switch m {
	case ZoomIn, ZoomOut, PanLeft, PanRight, PanUp, PanDown:
		return true
	}
	return false
}

// Profile fixes the render target and the lookup tables of the assembler.
type Profile struct {
	Width        int
	Height       int
	FPS          int
	Codec        string
	PixelFormat  string
	MaxCrossfade float64
	Movements    map[domain.CameraMovement]Movement
	Effects      map[domain.TransitionType]string
	// FallbackEffect is used for transitions without an effect mapping.
	FallbackEffect string
}

// DefaultProfile renders 1080x1920 at 30fps.
func DefaultProfile() Profile {
	return Profile{
		Width:        1080,
		Height:       1920,
		FPS:          30,
		Codec:        "libx264",
		PixelFormat:  "yuv420p",
		MaxCrossfade: 1.0,
		Movements: map[domain.CameraMovement]Movement{
			domain.CameraZoom:      ZoomIn,
			domain.CameraDolly:     ZoomIn,
			domain.CameraPan:       PanRight,
			domain.CameraTilt:      PanUp,
			domain.CameraCrane:     PanUp,
			domain.CameraTracking:  PanRight,
			domain.CameraStatic:    ZoomIn,
			domain.CameraHandheld:  ZoomIn,
			domain.CameraSteadicam: PanRight,
		},
		Effects: map[domain.TransitionType]string{
			domain.TransitionDissolve: "dissolve",
			domain.TransitionFade:     "fade",
			domain.TransitionWipe:     "wiperight",
		},
		FallbackEffect: "fade",
	}
}

type profileFile struct {
	Width          *int              `yaml:"width"`
	Height         *int              `yaml:"height"`
	FPS            *int              `yaml:"fps"`
	Codec          *string           `yaml:"codec"`
	PixelFormat    *string           `yaml:"pixel_format"`
	MaxCrossfade   *float64          `yaml:"max_crossfade"`
	Movements      map[string]string `yaml:"movements"`
	Effects        map[string]string `yaml:"effects"`
	FallbackEffect *string           `yaml:"fallback_effect"`
}

// LoadProfile overlays the YAML file at path onto DefaultProfile. An empty
// path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("compose: read profile: %w", err)
	}
	var f profileFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return p, fmt.Errorf("compose: parse profile: %w", err)
	}
	if f.Width != nil {
		p.Width = *f.Width
	}
	if f.Height != nil {
		p.Height = *f.Height
	}
	if f.FPS != nil {
		p.FPS = *f.FPS
	}
	if f.Codec != nil {
		p.Codec = *f.Codec
	}
	if f.PixelFormat != nil {
		p.PixelFormat = *f.PixelFormat
	}
	if f.MaxCrossfade != nil {
		p.MaxCrossfade = *f.MaxCrossfade
	}
	if f.FallbackEffect != nil {
		p.FallbackEffect = *f.FallbackEffect
	}
	fold := cases.Fold()
	for cam, mv := range f.Movements {
		p.Movements[domain.CameraMovement(fold.String(strings.TrimSpace(cam)))] = Movement(fold.String(strings.TrimSpace(mv)))
	}
	for tr, effect := range f.Effects {
		p.Effects[domain.TransitionType(fold.String(strings.TrimSpace(tr)))] = strings.TrimSpace(effect)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate rejects profiles ffmpeg cannot render.
func (p Profile) Validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("compose: resolution must be positive and even, got %dx%d", p.Width, p.Height)
	}
	if p.FPS <= 0 {
		return fmt.Errorf("compose: fps must be positive, got %d", p.FPS)
	}
	if p.MaxCrossfade < 0 {
		return fmt.Errorf("compose: max_crossfade must not be negative")
	}
	for cam, mv := range p.Movements {
		if !mv.valid() {
			return fmt.Errorf("compose: camera movement %q maps to unknown primitive %q", cam, mv)
		}
	}
	return nil
}

// MovementFor maps a camera movement to its primitive; unknown values zoom in.
func (p Profile) MovementFor(cam domain.CameraMovement) Movement {
	key := domain.CameraMovement(cases.Fold().String(strings.TrimSpace(string(cam))))
	if mv, ok := p.Movements[key]; ok {
		return mv
	}
	return ZoomIn
}

// EffectFor maps a transition type to an xfade effect name.
func (p Profile) EffectFor(t domain.TransitionType) string {
	if e, ok := p.Effects[t]; ok && e != "" {
		return e
	}
	return p.FallbackEffect
}

// Zoompan builds the zoompan filter for one clip.
func (p Profile) Zoompan(m Movement, duration float64) string {
	frames := int(duration * float64(p.FPS))
	if frames < 1 {
		frames = 1
	}
	const (
		centerX = "iw/2-(iw/zoom/2)"
		centerY = "ih/2-(ih/zoom/2)"
	)
	z, x, y := "min(zoom+0.0005,1.15)", centerX, centerY
	switch m {
	case ZoomOut:
		z = "if(eq(on,1),1.15,max(zoom-0.0005,1.0))"
	case PanLeft:
		z, x = "1.1", fmt.Sprintf("iw*0.1*(1-on/%d)", frames)
	case PanRight:
		z, x = "1.1", fmt.Sprintf("iw*0.1*on/%d", frames)
	case PanUp:
		z, y = "1.1", fmt.Sprintf("ih*0.1*(1-on/%d)", frames)
	case PanDown:
		z, y = "1.1", fmt.Sprintf("ih*0.1*on/%d", frames)
	}
	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d", z, x, y, frames, p.Width, p.Height, p.FPS)
}
