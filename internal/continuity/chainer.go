// Package continuity generates the videos of a scene one shot at a time,
// seeding each shot with the last frame of the previous one.
package continuity

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"storyreel/internal/dispatch"
	"storyreel/internal/domain"
	"storyreel/internal/events"
	"storyreel/internal/infra"
	"storyreel/internal/media"
	"storyreel/internal/storage"
)

// Reference sources recorded on each ShotResult.
const (
	RefNone       = "none"
	RefOwn        = "own"
	RefContinuity = "continuity"
)

// JobRunner runs one dispatch job to completion.
type JobRunner interface {
	Run(ctx context.Context, job dispatch.Job) dispatch.Result
}

type Options struct {
	Queue       JobRunner
	Processor   media.Runner
	Store       *storage.FileStore
	Broadcaster domain.Broadcaster
	Logger      *infra.Logger
}

// Chainer sequences video generation within a scene.
type Chainer struct {
	queue  JobRunner
	proc   media.Runner
	store  *storage.FileStore
	bc     domain.Broadcaster
	logger infra.Logger
}

// ShotResult is the outcome of one shot in a sequence.
type ShotResult struct {
	ShotID    int64
	Path      string
	Err       error
	Reference string
}

func New(opts Options) (*Chainer, error) {
	if opts.Queue == nil || opts.Processor == nil || opts.Store == nil {
		return nil, fmt.Errorf("continuity: queue, processor and store are required")
	}
	bc := opts.Broadcaster
	if bc == nil {
		bc = nopBroadcaster{}
	}
	return &Chainer{
		queue:  opts.Queue,
		proc:   opts.Processor,
		store:  opts.Store,
		bc:     bc,
		logger: infra.LoggerOrNop(opts.Logger),
	}, nil
}

// Run processes seq strictly in order. A failed shot never aborts the run;
// the next shot falls back to its own reference image, as does a shot listed
// in seq.Detached.
func (c *Chainer) Run(ctx context.Context, seq domain.SceneSequence) []ShotResult {
	results := make([]ShotResult, 0, len(seq.Shots))
	log := c.logger.With().Int64("scene_id", seq.SceneID).Logger()

	var prevVideo string
	for i, shot := range seq.Shots {
		ref, source := ownReference(shot)
		if i > 0 && prevVideo != "" && !seq.Detached[shot.ID] {
			if uri, err := c.continuityFrame(ctx, prevVideo, shot.ID); err != nil {
				log.Warn().Err(err).Int64("shot_id", shot.ID).Msg("continuity: using shot reference instead of previous frame")
			} else {
				ref, source = &domain.ImageRef{DataURI: uri}, RefContinuity
			}
		}

		prompt := strings.TrimSpace(shot.VideoPrompt)
		if seq.Prompt != nil {
			prompt = seq.Prompt(shot, source == RefContinuity)
		}
		if prompt == "" {
			prompt = shot.Prompt
		}
		res := c.queue.Run(ctx, dispatch.Job{
			Class:          domain.ResourceVideo,
			ShotID:         shot.ID,
			Prompt:         prompt,
			ReferenceImage: ref,
			Duration:       shot.VideoDuration(),
		})

		out := ShotResult{ShotID: shot.ID, Err: res.Err, Reference: source}
		if res.OK() {
			out.Path = res.Path()
		}
		prevVideo = out.Path
		results = append(results, out)
	}

	c.bc.Broadcast(context.WithoutCancel(ctx), events.SceneVideoComplete(seq.ShotIDs()))
	log.Info().Int("shots", len(seq.Shots)).Msg("continuity: scene sequence finished")
	return results
}

// RunStory runs every scene concurrently and each scene's shots serially.
// The video pool still admits one upstream call at a time. Every scene runs
// to the end; the error names the first scene that finished with failed
// shots.
func (c *Chainer) RunStory(ctx context.Context, scenes []domain.SceneSequence) ([][]ShotResult, error) {
	out := make([][]ShotResult, len(scenes))
	var g errgroup.Group
	for i, seq := range scenes {
		g.Go(func() error {
			out[i] = c.Run(ctx, seq)
			return SceneErr(seq.SceneID, out[i])
		})
	}
	err := g.Wait()
	c.bc.Broadcast(context.WithoutCancel(ctx), events.VideoGenerationComplete())
	return out, err
}

// SceneErr summarises the failed shots of one scene run, or returns nil.
func SceneErr(sceneID int64, results []ShotResult) error {
	var first error
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			if first == nil {
				first = r.Err
			}
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("continuity: scene %d: %d of %d shots failed: %w", sceneID, failed, len(results), first)
}

func (c *Chainer) continuityFrame(ctx context.Context, prevVideo string, shotID int64) (string, error) {
	videoPath, err := c.store.Path(prevVideo)
	if err != nil {
		return "", fmt.Errorf("%w: %v", media.ErrExtraction, err)
	}
	framePath, err := c.store.Path(fmt.Sprintf("videos/frames/shot_%d_prev_frame.png", shotID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", media.ErrExtraction, err)
	}
	if err := media.ExtractLastFrame(ctx, c.proc, videoPath, framePath); err != nil {
		return "", err
	}
	uri, err := media.DataURI(framePath)
	if err != nil {
		return "", fmt.Errorf("%w: encode frame: %v", media.ErrExtraction, err)
	}
	return uri, nil
}

func ownReference(shot domain.Shot) (*domain.ImageRef, string) {
	if shot.ReferenceImage.IsZero() {
		return nil, RefNone
	}
	return shot.ReferenceImage, RefOwn
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, domain.Event) {}
