// Package pipeline turns trigger requests into background generation and
// composition work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"storyreel/internal/continuity"
	"storyreel/internal/dispatch"
	"storyreel/internal/domain"
	"storyreel/internal/events"
	"storyreel/internal/infra"
	"storyreel/internal/media"
	"storyreel/internal/prompt"
	"storyreel/internal/transitions"
)

// Dispatcher is the part of dispatch.Queue the service drives.
type Dispatcher interface {
	Claim(ctx context.Context, job dispatch.Job) error
	Run(ctx context.Context, job dispatch.Job) dispatch.Result
	SubmitBatch(ctx context.Context, jobs []dispatch.Job) []dispatch.Result
	Release(ctx context.Context, job dispatch.Job, cause error) dispatch.Result
}

// Sequencer chains scene videos.
type Sequencer interface {
	Run(ctx context.Context, seq domain.SceneSequence) []continuity.ShotResult
	RunStory(ctx context.Context, scenes []domain.SceneSequence) ([][]continuity.ShotResult, error)
}

// Composer stitches a scene video.
type Composer interface {
	Compose(ctx context.Context, shots []domain.Shot, sceneID int64) (*domain.CompositionArtifact, error)
}

// Spawner runs detached work.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// StyleSource loads the visual style of a story for prompt building.
type StyleSource interface {
	LoadStyle(ctx context.Context, storyID int64) (prompt.Style, error)
}

type Options struct {
	Scenes      domain.SceneSource
	Styles      StyleSource
	Store       domain.StatusStore
	Queue       Dispatcher
	Chainer     Sequencer
	Assembler   Composer
	Runner      Spawner
	Broadcaster domain.Broadcaster
	// Matcher decides entity injection in prompts; nil matches substrings.
	Matcher prompt.Matcher
	Logger  *infra.Logger
}

// Ack is returned to the caller as soon as work is scheduled.
type Ack struct {
	OK      bool  `json:"ok"`
	ShotID  int64 `json:"shot_id,omitempty"`
	SceneID int64 `json:"scene_id,omitempty"`
	StoryID int64 `json:"story_id,omitempty"`
	Shots   int   `json:"shots"`
	Scenes  int   `json:"scenes,omitempty"`
}

// Service wires stores, queue, chainer and assembler behind the triggers.
type Service struct {
	scenes    domain.SceneSource
	styles    StyleSource
	store     domain.StatusStore
	queue     Dispatcher
	chainer   Sequencer
	assembler Composer
	runner    Spawner
	bc        domain.Broadcaster
	matcher   prompt.Matcher
	logger    infra.Logger
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Scenes == nil:
		return nil, errors.New("pipeline: scene source is required")
	case opts.Store == nil:
		return nil, errors.New("pipeline: status store is required")
	case opts.Queue == nil || opts.Chainer == nil || opts.Assembler == nil:
		return nil, errors.New("pipeline: queue, chainer and assembler are required")
	case opts.Runner == nil:
		return nil, errors.New("pipeline: background runner is required")
	}
	bc := opts.Broadcaster
	if bc == nil {
		bc = nopBroadcaster{}
	}
	return &Service{
		scenes:    opts.Scenes,
		styles:    opts.Styles,
		store:     opts.Store,
		queue:     opts.Queue,
		chainer:   opts.Chainer,
		assembler: opts.Assembler,
		runner:    opts.Runner,
		bc:        bc,
		matcher:   opts.Matcher,
		logger:    infra.LoggerOrNop(opts.Logger),
	}, nil
}

func (s *Service) builder(ctx context.Context, storyID int64) *prompt.Builder {
	var style prompt.Style
	if s.styles != nil {
		loaded, err := s.styles.LoadStyle(ctx, storyID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("story_id", storyID).Msg("pipeline: style unavailable, building plain prompts")
		} else {
			style = loaded
		}
	}
	return prompt.New(style, s.matcher)
}

func (s *Service) spawn(name string, fn func(ctx context.Context) error) error {
	if !s.runner.Go(name, fn) {
		return fmt.Errorf("pipeline: %s: runner is shutting down", name)
	}
	return nil
}

// release marks claimed jobs failed so their shots can be triggered again.
func (s *Service) release(ctx context.Context, jobs []dispatch.Job, cause error) {
	ctx = context.WithoutCancel(ctx)
	for _, job := range jobs {
		s.queue.Release(ctx, job, cause)
	}
}

func videoJobs(seqs ...domain.SceneSequence) []dispatch.Job {
	var jobs []dispatch.Job
	for _, seq := range seqs {
		for _, shot := range seq.Shots {
			jobs = append(jobs, dispatch.Job{Class: domain.ResourceVideo, ShotID: shot.ID, Prompt: shot.VideoPrompt})
		}
	}
	return jobs
}

// GenerateShotImage schedules the image of one shot.
func (s *Service) GenerateShotImage(ctx context.Context, shotID int64) (Ack, error) {
	shot, scene, err := s.scenes.LoadShot(ctx, shotID)
	if err != nil {
		return Ack{}, err
	}
	text := strings.TrimSpace(shot.Prompt)
	if text == "" {
		text = s.builder(ctx, scene.StoryID).Image(prompt.Input{Shot: *shot})
	}
	job := dispatch.Job{Class: domain.ResourceImage, ShotID: shot.ID, Prompt: text}
	if err := s.queue.Claim(ctx, job); err != nil {
		return Ack{}, err
	}
	if err := s.spawn("shot-image", func(ctx context.Context) error {
		return s.queue.Run(ctx, job).Err
	}); err != nil {
		s.release(ctx, []dispatch.Job{job}, err)
		return Ack{}, err
	}
	return Ack{OK: true, ShotID: shot.ID, Shots: 1}, nil
}

// GenerateShotVideo schedules an image-to-video job for one shot.
func (s *Service) GenerateShotVideo(ctx context.Context, shotID int64) (Ack, error) {
	shot, scene, err := s.scenes.LoadShot(ctx, shotID)
	if err != nil {
		return Ack{}, err
	}
	text := s.builder(ctx, scene.StoryID).Video(prompt.Input{Shot: *shot})
	job := dispatch.Job{
		Class:          domain.ResourceVideo,
		ShotID:         shot.ID,
		Prompt:         text,
		ReferenceImage: reference(*shot),
		Duration:       shot.VideoDuration(),
	}
	if err := s.queue.Claim(ctx, job); err != nil {
		return Ack{}, err
	}
	if err := s.spawn("shot-video", func(ctx context.Context) error {
		return s.queue.Run(ctx, job).Err
	}); err != nil {
		s.release(ctx, []dispatch.Job{job}, err)
		return Ack{}, err
	}
	return Ack{OK: true, ShotID: shot.ID, Shots: 1}, nil
}

// GenerateSceneVideos chains the videos of every shot in a scene.
func (s *Service) GenerateSceneVideos(ctx context.Context, sceneID int64) (Ack, error) {
	scene, err := s.scenes.LoadScene(ctx, sceneID)
	if err != nil {
		return Ack{}, err
	}
	seq, err := s.prepareSequence(ctx, *scene, s.builder(ctx, scene.StoryID), false)
	if err != nil {
		return Ack{}, err
	}
	if len(seq.Shots) > 0 {
		if err := s.spawn("scene-videos", func(ctx context.Context) error {
			return continuity.SceneErr(seq.SceneID, s.chainer.Run(ctx, seq))
		}); err != nil {
			s.release(ctx, videoJobs(seq), err)
			return Ack{}, err
		}
	}
	return Ack{OK: true, SceneID: scene.ID, Shots: len(seq.Shots)}, nil
}

// prepareSequence builds video prompts, claims each shot and returns the
// claimed shots in order. Shots already in flight are left out, and the shot
// after such a gap is detached from the chain. With needFirstImage a scene
// whose first shot has no image drops that shot. On error nothing stays
// claimed.
func (s *Service) prepareSequence(ctx context.Context, scene domain.Scene, b *prompt.Builder, needFirstImage bool) (domain.SceneSequence, error) {
	ordered, err := domain.NewSceneSequence(scene.ID, scene.Shots)
	if err != nil {
		return domain.SceneSequence{}, err
	}
	seq := domain.SceneSequence{
		SceneID: scene.ID,
		Prompt: func(shot domain.Shot, continued bool) string {
			return b.Video(prompt.Input{Shot: shot, Continuation: continued})
		},
	}
	busy := 0
	last := -1
	for i, shot := range ordered.Shots {
		ref := reference(shot)
		if needFirstImage && i == 0 && ref.IsZero() {
			continue
		}
		linked := len(seq.Shots) > 0 && last == i-1
		shot.ReferenceImage = ref
		shot.VideoPrompt = seq.Prompt(shot, linked)
		job := dispatch.Job{Class: domain.ResourceVideo, ShotID: shot.ID, Prompt: shot.VideoPrompt}
		if err := s.queue.Claim(ctx, job); err != nil {
			if errors.Is(err, domain.ErrAlreadyInProgress) {
				busy++
				s.logger.Info().Int64("shot_id", shot.ID).Msg("pipeline: video already in progress, skipped")
				continue
			}
			s.release(ctx, videoJobs(seq), err)
			return domain.SceneSequence{}, err
		}
		if len(seq.Shots) > 0 && !linked {
			if seq.Detached == nil {
				seq.Detached = map[int64]bool{}
			}
			seq.Detached[shot.ID] = true
		}
		seq.Shots = append(seq.Shots, shot)
		last = i
	}
	if len(seq.Shots) == 0 && busy > 0 {
		return domain.SceneSequence{}, domain.ErrAlreadyInProgress
	}
	return seq, nil
}

// GenerateStoryImages schedules images for every shot of a story that has no
// current image yet. The story is marked generating until the batch ends.
func (s *Service) GenerateStoryImages(ctx context.Context, storyID int64) (Ack, error) {
	scenes, err := s.scenes.LoadStoryScenes(ctx, storyID)
	if err != nil {
		return Ack{}, err
	}
	b := s.builder(ctx, storyID)

	type indexed struct {
		shot  domain.Shot
		scene int
	}
	var all []indexed
	for i, scene := range sortScenes(scenes) {
		for _, shot := range sortShots(scene.Shots) {
			all = append(all, indexed{shot: shot, scene: i})
		}
	}

	var jobs []dispatch.Job
	for i, item := range all {
		if item.shot.CurrentImage != "" {
			continue
		}
		text := strings.TrimSpace(item.shot.Prompt)
		if text == "" {
			in := prompt.Input{Shot: item.shot, SceneIndex: &item.scene}
			if i > 0 {
				in.Prev = &all[i-1].shot
			}
			text = b.Image(in)
		}
		job := dispatch.Job{Class: domain.ResourceImage, ShotID: item.shot.ID, Prompt: text}
		if err := s.queue.Claim(ctx, job); err != nil {
			if errors.Is(err, domain.ErrAlreadyInProgress) {
				continue
			}
			s.release(ctx, jobs, err)
			return Ack{}, err
		}
		jobs = append(jobs, job)
	}

	if len(jobs) > 0 {
		if err := s.store.SetStoryStatus(ctx, storyID, "generating"); err != nil {
			s.release(ctx, jobs, err)
			return Ack{}, err
		}
		if err := s.spawn("story-images", func(ctx context.Context) error {
			s.queue.SubmitBatch(ctx, jobs)
			return s.store.SetStoryStatus(ctx, storyID, "complete")
		}); err != nil {
			s.release(ctx, jobs, err)
			return Ack{}, err
		}
	}
	return Ack{OK: true, StoryID: storyID, Shots: len(jobs), Scenes: len(scenes)}, nil
}

// GenerateStoryVideos chains every scene of a story. Scenes run concurrently;
// a scene whose first shot has no image skips that shot.
func (s *Service) GenerateStoryVideos(ctx context.Context, storyID int64) (Ack, error) {
	scenes, err := s.scenes.LoadStoryScenes(ctx, storyID)
	if err != nil {
		return Ack{}, err
	}
	b := s.builder(ctx, storyID)
	var seqs []domain.SceneSequence
	total := 0
	for _, scene := range sortScenes(scenes) {
		seq, err := s.prepareSequence(ctx, scene, b, true)
		if errors.Is(err, domain.ErrAlreadyInProgress) {
			continue
		}
		if err != nil {
			s.release(ctx, videoJobs(seqs...), err)
			return Ack{}, err
		}
		if len(seq.Shots) == 0 {
			continue
		}
		seqs = append(seqs, seq)
		total += len(seq.Shots)
	}
	if len(seqs) > 0 {
		if err := s.spawn("story-videos", func(ctx context.Context) error {
			_, err := s.chainer.RunStory(ctx, seqs)
			return err
		}); err != nil {
			s.release(ctx, videoJobs(seqs...), err)
			return Ack{}, err
		}
	}
	return Ack{OK: true, StoryID: storyID, Scenes: len(seqs), Shots: total}, nil
}

// Compose stitches the scene's current images into one video in the
// background. composition_complete is sent only when an artifact exists.
func (s *Service) Compose(ctx context.Context, sceneID int64) (Ack, error) {
	scene, err := s.scenes.LoadScene(ctx, sceneID)
	if err != nil {
		return Ack{}, err
	}
	if len(scene.Shots) == 0 {
		return Ack{}, domain.ErrNoShots
	}
	withImages := 0
	for _, shot := range scene.Shots {
		if shot.CurrentImage != "" {
			withImages++
		}
	}
	if withImages == 0 {
		return Ack{}, domain.ErrNoImages
	}
	shots := sortShots(scene.Shots)
	if err := s.spawn("compose", func(ctx context.Context) error {
		art, err := s.assembler.Compose(ctx, shots, sceneID)
		if err != nil {
			s.compositionFailed(ctx, sceneID, compositionReason(err))
			return fmt.Errorf("pipeline: compose scene %d: %w", sceneID, err)
		}
		if _, err := s.store.RecordComposition(ctx, *art); err != nil {
			s.compositionFailed(ctx, sceneID, "composition could not be recorded")
			return fmt.Errorf("pipeline: record composition: %w", err)
		}
		s.bc.Broadcast(ctx, events.CompositionComplete(sceneID, art.Path))
		return nil
	}); err != nil {
		return Ack{}, err
	}
	return Ack{OK: true, SceneID: sceneID, Shots: withImages}, nil
}

// compositionFailed persists and announces a composition run that ended
// without an artifact.
func (s *Service) compositionFailed(ctx context.Context, sceneID int64, reason string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.RecordCompositionFailure(ctx, sceneID, reason); err != nil {
		s.logger.Error().Err(err).Int64("scene_id", sceneID).Msg("pipeline: persist composition failure")
	}
	s.bc.Broadcast(ctx, events.CompositionFailed(sceneID, reason))
}

// compositionReason keeps processor output out of client events.
func compositionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoImages):
		return "no usable images for the scene"
	case errors.Is(err, media.ErrProcessor):
		return "media processor failed"
	}
	return "composition failed"
}

// ShotMap schedules the overhead camera map image of a scene.
func (s *Service) ShotMap(ctx context.Context, sceneID int64) (Ack, error) {
	scene, err := s.scenes.LoadScene(ctx, sceneID)
	if err != nil {
		return Ack{}, err
	}
	if len(scene.Shots) == 0 {
		return Ack{}, domain.ErrNoShots
	}
	job := dispatch.Job{
		Class:   domain.ResourceImage,
		ShotMap: true,
		SceneID: sceneID,
		Prompt:  prompt.ShotMap(*scene, sortShots(scene.Shots)),
	}
	s.bc.Broadcast(ctx, events.ShotMapProgress(sceneID, domain.JobStatusQueued, nil, ""))
	if err := s.spawn("shot-map", func(ctx context.Context) error {
		return s.queue.Run(ctx, job).Err
	}); err != nil {
		s.release(ctx, []dispatch.Job{job}, err)
		return Ack{}, err
	}
	return Ack{OK: true, SceneID: sceneID, Shots: len(scene.Shots)}, nil
}

// Transitions suggests a transition for each adjacent shot pair of a scene.
func (s *Service) Transitions(ctx context.Context, sceneID int64) ([]domain.TransitionSuggestion, error) {
	scene, err := s.scenes.LoadScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	return transitions.Suggest(sortShots(scene.Shots), transitions.ContextFor(*scene)), nil
}

// reference returns the shot's explicit reference image, or its current
// image from storage.
func reference(shot domain.Shot) *domain.ImageRef {
	if !shot.ReferenceImage.IsZero() {
		return shot.ReferenceImage
	}
	if shot.CurrentImage != "" {
		return &domain.ImageRef{StorageKey: shot.CurrentImage}
	}
	return nil
}

func sortShots(shots []domain.Shot) []domain.Shot {
	out := make([]domain.Shot, len(shots))
	copy(out, shots)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

func sortScenes(scenes []domain.Scene) []domain.Scene {
	out := make([]domain.Scene, len(scenes))
	copy(out, scenes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, domain.Event) {}
