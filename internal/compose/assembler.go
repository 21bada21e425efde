// Package compose turns a scene's shot images into motion clips and stitches
// them into one video with ffmpeg.
package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/media"
	"storyreel/internal/storage"
)

type Options struct {
	Profile   Profile
	Processor media.Runner
	Store     *storage.FileStore
	Logger    *infra.Logger
	// TempDir is the parent of the per-run work directories; "" uses os.TempDir.
	TempDir string
}

// Assembler produces composition artifacts.
type Assembler struct {
	profile Profile
	proc    media.Runner
	store   *storage.FileStore
	logger  infra.Logger
	tempDir string
}

func New(opts Options) (*Assembler, error) {
	if opts.Processor == nil || opts.Store == nil {
		return nil, fmt.Errorf("compose: processor and store are required")
	}
	profile := opts.Profile
	if profile.Width == 0 {
		profile = DefaultProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{
		profile: profile,
		proc:    opts.Processor,
		store:   opts.Store,
		logger:  infra.LoggerOrNop(opts.Logger),
		tempDir: opts.TempDir,
	}, nil
}

// Profile returns the active render profile.
func (a *Assembler) Profile() Profile {
	return a.profile
}

// Plan returns the decisions Compose would take for shots right now.
func (a *Assembler) Plan(sceneID int64, shots []domain.Shot) Plan {
	return a.profile.Plan(sceneID, shots, a.store.Exists)
}

// Compose builds the scene video. It returns a nil artifact when no clip
// could be produced or when stitching fails; the error explains which.
func (a *Assembler) Compose(ctx context.Context, shots []domain.Shot, sceneID int64) (*domain.CompositionArtifact, error) {
	log := a.logger.With().Int64("scene_id", sceneID).Logger()
	plan := a.Plan(sceneID, shots)
	if len(plan.Clips) == 0 {
		return nil, domain.ErrNoImages
	}

	work, err := os.MkdirTemp(a.tempDir, fmt.Sprintf("compose-scene-%d-", sceneID))
	if err != nil {
		return nil, fmt.Errorf("compose: work dir: %w", err)
	}
	defer os.RemoveAll(work)

	var produced []Clip
	var clipPaths []string
	for i, clip := range plan.Clips {
		out := filepath.Join(work, fmt.Sprintf("clip_%02d_shot_%d.mp4", i, clip.ShotID))
		if err := a.synthesize(ctx, clip, out); err != nil {
			log.Warn().Err(err).Int64("shot_id", clip.ShotID).Msg("compose: clip skipped")
			continue
		}
		produced = append(produced, clip)
		clipPaths = append(clipPaths, out)
	}
	if len(produced) == 0 {
		return nil, domain.ErrNoImages
	}
	plan = a.profile.planClips(sceneID, produced)

	final := clipPaths[0]
	if len(clipPaths) > 1 {
		final = filepath.Join(work, "composed.mp4")
		args, err := a.stitchArgs(work, clipPaths, plan, final)
		if err != nil {
			return nil, err
		}
		if out, err := a.proc.Run(ctx, args...); err != nil {
			log.Error().Err(err).Str("stderr", media.Tail(out, 2048)).Msg("compose: stitching failed")
			return nil, fmt.Errorf("compose: stitch scene %d: %w", sceneID, err)
		}
	}

	key := fmt.Sprintf("composed/scene_%d_%s.mp4", sceneID, uuid.NewString()[:8])
	stored, err := a.store.Import(ctx, key, final)
	if err != nil {
		return nil, fmt.Errorf("compose: store artifact: %w", err)
	}
	log.Info().Str("path", stored).Int("clips", len(clipPaths)).Float64("duration", plan.Duration).Msg("compose: scene composed")

	return &domain.CompositionArtifact{
		SceneID:   sceneID,
		Path:      stored,
		ClipPaths: clipPaths,
		Joins:     plan.Joins,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (a *Assembler) synthesize(ctx context.Context, clip Clip, out string) error {
	image, err := a.store.Path(clip.ImageKey)
	if err != nil {
		return err
	}
	args := []string{
		"-loop", "1",
		"-i", image,
		"-vf", a.profile.Zoompan(clip.Movement, clip.Duration),
		"-c:v", a.profile.Codec,
		"-pix_fmt", a.profile.PixelFormat,
		"-r", strconv.Itoa(a.profile.FPS),
		"-t", formatSeconds(clip.Duration),
		"-an",
		out,
	}
	if stderr, err := a.proc.Run(ctx, args...); err != nil {
		return fmt.Errorf("%w: %s", err, media.Tail(stderr, 512))
	}
	return nil
}

// stitchArgs builds the single ffmpeg invocation joining all clips.
func (a *Assembler) stitchArgs(work string, clips []string, plan Plan, out string) ([]string, error) {
	encode := []string{"-c:v", a.profile.Codec, "-pix_fmt", a.profile.PixelFormat, out}
	if plan.AllCuts() {
		list := filepath.Join(work, "concat.txt")
		if err := os.WriteFile(list, []byte(ConcatList(clips)), 0o644); err != nil {
			return nil, fmt.Errorf("compose: write concat list: %w", err)
		}
		return append([]string{"-f", "concat", "-safe", "0", "-i", list}, encode...), nil
	}
	var args []string
	for _, c := range clips {
		args = append(args, "-i", c)
	}
	graph, label := FilterGraph(plan.Joins)
	args = append(args, "-filter_complex", graph, "-map", "["+label+"]")
	return append(args, encode...), nil
}

// ConcatList renders a concat demuxer list file for paths.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// FilterGraph chains the joins into one filter_complex and returns it with
// the label of the final stream. Input i is the clip of join i-1's target.
func FilterGraph(joins []domain.Join) (string, string) {
	prev := "0:v"
	parts := make([]string, 0, len(joins))
	for i, j := range joins {
		label := fmt.Sprintf("v%d", i+1)
		if j.Crossfade {
			parts = append(parts, fmt.Sprintf("[%s][%d:v]xfade=transition=%s:duration=%s:offset=%s[%s]",
				prev, i+1, j.Effect, formatSeconds(j.Duration), formatSeconds(j.Offset), label))
		} else {
			parts = append(parts, fmt.Sprintf("[%s][%d:v]concat=n=2:v=1:a=0[%s]", prev, i+1, label))
		}
		prev = label
	}
	return strings.Join(parts, ";"), prev
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
