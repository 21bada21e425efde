// Package dispatch admits generation jobs into per-class pools, calls the
// remote generator and records every outcome as a status transition plus a
// progress event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"storyreel/internal/domain"
	"storyreel/internal/events"
	"storyreel/internal/infra"
	"storyreel/internal/providers/xai"
)

const (
	DefaultImageCeiling = 3
	DefaultVideoCeiling = 1
	DefaultMinSpacing   = 250 * time.Millisecond

	// maxParamURL caps how much of a reference image is echoed into asset params.
	maxParamURL = 100
)

// Generator performs one remote generation and returns the stored media key.
type Generator interface {
	Generate(ctx context.Context, req xai.Request) (string, error)
}

// Job is one unit of work submitted to the queue.
type Job struct {
	Class          domain.ResourceClass
	ShotID         int64
	Prompt         string
	ReferenceImage *domain.ImageRef
	Duration       int

	// ShotMap marks a scene-level overhead map; SceneID is required then.
	ShotMap bool
	SceneID int64
}

// Result is delivered once per submitted job.
type Result struct {
	Job   domain.GenerationJob
	Asset *domain.Asset
	Err   error
}

// OK reports whether the job produced an asset.
func (r Result) OK() bool {
	return r.Err == nil && r.Job.Status == domain.JobStatusComplete
}

// Path returns the stored media key, or "" on failure.
func (r Result) Path() string {
	if r.Job.ResultPath == nil {
		return ""
	}
	return *r.Job.ResultPath
}

type Options struct {
	Images       Generator
	Videos       Generator
	Store        domain.StatusStore
	Broadcaster  domain.Broadcaster
	ImageCeiling int
	VideoCeiling int
	MinSpacing   time.Duration
	Logger       *infra.Logger
}

// Queue owns the image and video admission pools.
type Queue struct {
	pools  map[domain.ResourceClass]*pool
	store  domain.StatusStore
	bc     domain.Broadcaster
	logger infra.Logger
}

func New(opts Options) (*Queue, error) {
	if opts.Images == nil || opts.Videos == nil {
		return nil, errors.New("dispatch: image and video generators are required")
	}
	if opts.Store == nil {
		return nil, errors.New("dispatch: status store is required")
	}
	imageCeiling := opts.ImageCeiling
	if imageCeiling <= 0 {
		imageCeiling = DefaultImageCeiling
	}
	videoCeiling := opts.VideoCeiling
	if videoCeiling <= 0 {
		videoCeiling = DefaultVideoCeiling
	}
	spacing := opts.MinSpacing
	if spacing < 0 {
		spacing = 0
	} else if spacing == 0 {
		spacing = DefaultMinSpacing
	}
	bc := opts.Broadcaster
	if bc == nil {
		bc = nopBroadcaster{}
	}
	return &Queue{
		pools: map[domain.ResourceClass]*pool{
			domain.ResourceImage: newPool(opts.Images, imageCeiling, spacing),
			domain.ResourceVideo: newPool(opts.Videos, videoCeiling, spacing),
		},
		store:  opts.Store,
		bc:     bc,
		logger: infra.LoggerOrNop(opts.Logger),
	}, nil
}

// Claim records that a shot job is about to be submitted. It fails with
// domain.ErrAlreadyInProgress when the same shot and class is in flight.
func (q *Queue) Claim(ctx context.Context, job Job) error {
	if job.ShotMap {
		return nil
	}
	if _, ok := q.pools[job.Class]; !ok {
		return fmt.Errorf("dispatch: unknown resource class %q", job.Class)
	}
	return q.store.BeginGeneration(ctx, job.Class, job.ShotID, job.Prompt)
}

// Release gives up a claimed job that will never run. The shot is marked
// failed with cause, and an error progress event is sent, so a later trigger
// can claim it again.
func (q *Queue) Release(ctx context.Context, job Job, cause error) Result {
	now := time.Now().UTC()
	record := domain.GenerationJob{
		ID:        uuid.NewString(),
		Class:     job.Class,
		ShotID:    job.ShotID,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return q.fail(ctx, job, record, cause)
}

// Submit runs job in its own goroutine. The returned channel receives exactly
// one Result; failures are reported there and never panic or block the caller.
func (q *Queue) Submit(ctx context.Context, job Job) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- q.Run(ctx, job)
	}()
	return out
}

// SubmitBatch runs every job concurrently, waits for all of them and then
// broadcasts generation_complete. Results keep the order of jobs.
func (q *Queue) SubmitBatch(ctx context.Context, jobs []Job) []Result {
	chans := make([]<-chan Result, len(jobs))
	for i, job := range jobs {
		chans[i] = q.Submit(ctx, job)
	}
	results := make([]Result, len(jobs))
	for i, ch := range chans {
		results[i] = <-ch
	}
	q.bc.Broadcast(context.WithoutCancel(ctx), events.GenerationComplete())
	return results
}

// Run executes job synchronously on the caller's goroutine.
func (q *Queue) Run(ctx context.Context, job Job) Result {
	record := domain.GenerationJob{
		ID:        uuid.NewString(),
		Class:     job.Class,
		ShotID:    job.ShotID,
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	record.UpdatedAt = record.CreatedAt
	log := q.logger.With().
		Str("job_id", record.ID).
		Str("class", string(job.Class)).
		Int64("shot_id", job.ShotID).
		Logger()

	p, ok := q.pools[job.Class]
	if !ok {
		return q.fail(ctx, job, record, fmt.Errorf("dispatch: unknown resource class %q", job.Class))
	}
	release, err := p.admit(ctx)
	if err != nil {
		return q.fail(ctx, job, record, fmt.Errorf("dispatch: admission: %w", err))
	}
	defer release()

	record.Status = domain.JobStatusGenerating
	record.UpdatedAt = time.Now().UTC()
	q.bc.Broadcast(ctx, q.progress(job, record.Status, nil, ""))
	log.Debug().Msg("dispatch: job admitted")

	req := xai.Request{
		ShotID:         job.ShotID,
		Prompt:         job.Prompt,
		ReferenceImage: job.ReferenceImage,
		Duration:       job.Duration,
	}
	if job.ShotMap {
		req.Key = fmt.Sprintf("shot_maps/scene_%d_shot_map.png", job.SceneID)
	}
	path, err := p.gen.Generate(ctx, req)
	if err == nil && path == "" {
		err = errors.New("dispatch: generator returned no path")
	}
	if err != nil {
		return q.fail(ctx, job, record, err)
	}

	record.Status = domain.JobStatusComplete
	record.ResultPath = &path
	record.UpdatedAt = time.Now().UTC()
	params := generationParams(job)

	persistCtx := context.WithoutCancel(ctx)
	var asset *domain.Asset
	if job.ShotMap {
		asset, err = q.store.CompleteSceneAsset(persistCtx, job.SceneID, domain.AssetKindShotMap, path, params)
	} else {
		asset, err = q.store.CompleteJob(persistCtx, record, params)
	}
	if err != nil {
		return q.fail(ctx, job, record, fmt.Errorf("dispatch: persist result: %w", err))
	}

	q.bc.Broadcast(persistCtx, q.progress(job, record.Status, asset, ""))
	log.Info().Str("path", path).Msg("dispatch: job complete")
	return Result{Job: record, Asset: asset}
}

func (q *Queue) fail(ctx context.Context, job Job, record domain.GenerationJob, cause error) Result {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	record.Status = domain.JobStatusError
	record.Error = &msg
	record.ResultPath = nil
	record.UpdatedAt = time.Now().UTC()

	q.logger.Error().
		Err(cause).
		Str("job_id", record.ID).
		Str("class", string(job.Class)).
		Int64("shot_id", job.ShotID).
		Int64("scene_id", job.SceneID).
		Msg("dispatch: job failed")

	if !job.ShotMap {
		if err := q.store.FailJob(ctx, record); err != nil {
			q.logger.Error().Err(err).Str("job_id", record.ID).Msg("dispatch: persist failure")
		}
	}
	q.bc.Broadcast(ctx, q.progress(job, record.Status, nil, msg))
	return Result{Job: record, Err: cause}
}

func (q *Queue) progress(job Job, status domain.JobStatus, asset *domain.Asset, errMsg string) domain.Event {
	if job.ShotMap {
		return events.ShotMapProgress(job.SceneID, status, asset, errMsg)
	}
	return events.ShotProgress(job.Class, job.ShotID, status, asset, errMsg)
}

func generationParams(job Job) map[string]any {
	params := map[string]any{"prompt": job.Prompt}
	if job.Class == domain.ResourceVideo {
		var ref string
		if r := job.ReferenceImage; !r.IsZero() {
			switch {
			case r.DataURI != "":
				ref = r.DataURI
			case r.URL != "":
				ref = r.URL
			default:
				ref = r.StorageKey
			}
		}
		if len(ref) > maxParamURL {
			ref = ref[:maxParamURL]
		}
		if ref != "" {
			params["image_url"] = ref
		} else {
			params["image_url"] = nil
		}
		params["duration"] = job.Duration
	}
	return params
}

// pool is one admission lane: a weighted semaphore plus a spacing clock.
type pool struct {
	gen     Generator
	sem     *semaphore.Weighted
	spacing time.Duration

	mu   sync.Mutex
	next time.Time
}

func newPool(gen Generator, ceiling int, spacing time.Duration) *pool {
	return &pool{gen: gen, sem: semaphore.NewWeighted(int64(ceiling)), spacing: spacing}
}

// admit blocks for a slot, then waits out the spacing since the previous
// admission in this pool.
func (p *pool) admit(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { p.sem.Release(1) }

	p.mu.Lock()
	now := time.Now()
	at := p.next
	if at.Before(now) {
		at = now
	}
	p.next = at.Add(p.spacing)
	p.mu.Unlock()

	if wait := time.Until(at); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return release, nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, domain.Event) {}
