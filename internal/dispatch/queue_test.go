package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/events"
	"storyreel/internal/providers/xai"
)

// blockingGenerator holds every call until release is closed and records the
// highest number of concurrent calls.
type blockingGenerator struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	fail     map[int64]error

	mu       sync.Mutex
	started  []time.Time
	requests []xai.Request
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{release: make(chan struct{})}
}

func (g *blockingGenerator) Generate(ctx context.Context, req xai.Request) (string, error) {
	g.calls.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.mu.Lock()
	g.started = append(g.started, time.Now())
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	<-g.release
	if err := g.fail[req.ShotID]; err != nil {
		return "", err
	}
	if req.Key != "" {
		return req.Key, nil
	}
	return fmt.Sprintf("images/shot_%d.png", req.ShotID), nil
}

type fakeStore struct {
	mu        sync.Mutex
	begun     map[string]bool
	completed []domain.GenerationJob
	failed    []domain.GenerationJob
	scene     []string
	params    []map[string]any
	failErr   error
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{begun: map[string]bool{}}
}

func (s *fakeStore) BeginGeneration(ctx context.Context, class domain.ResourceClass, shotID int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d", class, shotID)
	if s.begun[key] {
		return domain.ErrAlreadyInProgress
	}
	s.begun[key] = true
	return nil
}

func (s *fakeStore) CompleteJob(ctx context.Context, job domain.GenerationJob, params map[string]any) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.nextID++
	s.completed = append(s.completed, job)
	s.params = append(s.params, params)
	return &domain.Asset{ID: s.nextID, ShotID: job.ShotID, Kind: domain.KindForClass(job.Class), FilePath: *job.ResultPath, IsCurrent: true}, nil
}

func (s *fakeStore) FailJob(ctx context.Context, job domain.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, job)
	delete(s.begun, fmt.Sprintf("%s/%d", job.Class, job.ShotID))
	return nil
}

func (s *fakeStore) CompleteSceneAsset(ctx context.Context, sceneID int64, kind domain.AssetKind, path string, params map[string]any) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene = append(s.scene, path)
	return &domain.Asset{SceneID: sceneID, Kind: kind, FilePath: path, IsCurrent: true}, nil
}

func (s *fakeStore) RecordComposition(ctx context.Context, artifact domain.CompositionArtifact) (*domain.Asset, error) {
	return &domain.Asset{SceneID: artifact.SceneID, Kind: domain.AssetKindComposed, FilePath: artifact.Path}, nil
}

func (s *fakeStore) RecordCompositionFailure(ctx context.Context, sceneID int64, reason string) error {
	return nil
}

func (s *fakeStore) SetStoryStatus(ctx context.Context, storyID int64, status string) error {
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Broadcast(ctx context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestQueue(t *testing.T, images, videos Generator, store *fakeStore, bc *recorder, spacing time.Duration) *Queue {
	t.Helper()
	q, err := New(Options{
		Images:       images,
		Videos:       videos,
		Store:        store,
		Broadcaster:  bc,
		ImageCeiling: 3,
		VideoCeiling: 1,
		MinSpacing:   spacing,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPoolCeilingNeverExceeded(t *testing.T) {
	tests := []struct {
		name    string
		class   domain.ResourceClass
		ceiling int32
	}{
		{name: "image pool", class: domain.ResourceImage, ceiling: 3},
		{name: "video pool", class: domain.ResourceVideo, ceiling: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := newBlockingGenerator()
			store := newFakeStore()
			q := newTestQueue(t, gen, gen, store, &recorder{}, -1)

			const k = 8
			chans := make([]<-chan Result, k)
			for i := 0; i < k; i++ {
				chans[i] = q.Submit(context.Background(), Job{Class: tc.class, ShotID: int64(i + 1), Prompt: "p"})
			}

			waitFor(t, func() bool { return gen.inFlight.Load() == tc.ceiling })
			time.Sleep(20 * time.Millisecond)
			if got := gen.inFlight.Load(); got != tc.ceiling {
				t.Fatalf("in flight = %d, want %d", got, tc.ceiling)
			}
			close(gen.release)

			for _, ch := range chans {
				if res := <-ch; !res.OK() {
					t.Fatalf("job failed: %v", res.Err)
				}
			}
			if peak := gen.peak.Load(); peak > tc.ceiling {
				t.Fatalf("peak concurrency %d exceeds ceiling %d", peak, tc.ceiling)
			}
			if got := gen.calls.Load(); got != k {
				t.Fatalf("calls = %d, want %d", got, k)
			}
		})
	}
}

func TestPoolsAreIndependent(t *testing.T) {
	images := newBlockingGenerator()
	videos := newBlockingGenerator()
	q := newTestQueue(t, images, videos, newFakeStore(), &recorder{}, -1)

	img := q.Submit(context.Background(), Job{Class: domain.ResourceImage, ShotID: 1, Prompt: "p"})
	vid := q.Submit(context.Background(), Job{Class: domain.ResourceVideo, ShotID: 2, Prompt: "p"})
	waitFor(t, func() bool { return images.inFlight.Load() == 1 && videos.inFlight.Load() == 1 })
	close(images.release)
	close(videos.release)
	<-img
	<-vid
}

func TestAdmissionSpacing(t *testing.T) {
	gen := newBlockingGenerator()
	close(gen.release)
	q := newTestQueue(t, gen, gen, newFakeStore(), &recorder{}, 30*time.Millisecond)

	jobs := []Job{
		{Class: domain.ResourceImage, ShotID: 1, Prompt: "p"},
		{Class: domain.ResourceImage, ShotID: 2, Prompt: "p"},
		{Class: domain.ResourceImage, ShotID: 3, Prompt: "p"},
	}
	q.SubmitBatch(context.Background(), jobs)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if len(gen.started) != 3 {
		t.Fatalf("started = %d", len(gen.started))
	}
	first, last := gen.started[0], gen.started[0]
	for _, ts := range gen.started {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	if spread := last.Sub(first); spread < 55*time.Millisecond {
		t.Fatalf("admissions spread over %s, want at least two spacing intervals", spread)
	}
}

func TestRunSuccessEmitsEventsAndPersists(t *testing.T) {
	gen := newBlockingGenerator()
	close(gen.release)
	store := newFakeStore()
	bc := &recorder{}
	q := newTestQueue(t, gen, gen, store, bc, -1)

	res := q.Run(context.Background(), Job{
		Class:          domain.ResourceVideo,
		ShotID:         5,
		Prompt:         "dolly",
		Duration:       4,
		ReferenceImage: &domain.ImageRef{URL: "https://example.com/ref.png"},
	})
	if !res.OK() || res.Path() != "images/shot_5.png" || res.Asset == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Job.ID == "" || res.Job.Status != domain.JobStatusComplete || res.Job.Error != nil {
		t.Fatalf("unexpected job %+v", res.Job)
	}

	progress := bc.ofType(events.TypeVideoProgress)
	if len(progress) != 2 {
		t.Fatalf("progress events = %d, want 2", len(progress))
	}
	if progress[0]["status"] != "generating" || progress[1]["status"] != "complete" {
		t.Fatalf("statuses = %v, %v", progress[0]["status"], progress[1]["status"])
	}
	if _, ok := progress[1]["video"]; !ok {
		t.Fatal("complete event should carry the video asset")
	}
	if len(store.completed) != 1 || store.params[0]["image_url"] != "https://example.com/ref.png" {
		t.Fatalf("persisted %+v params %+v", store.completed, store.params)
	}
}

func TestRunFailureIsReportedNotRaised(t *testing.T) {
	gen := newBlockingGenerator()
	gen.fail = map[int64]error{9: xai.ErrTimeout}
	close(gen.release)
	store := newFakeStore()
	bc := &recorder{}
	q := newTestQueue(t, gen, gen, store, bc, -1)

	res := <-q.Submit(context.Background(), Job{Class: domain.ResourceImage, ShotID: 9, Prompt: "p"})
	if res.OK() || !errors.Is(res.Err, xai.ErrTimeout) {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Job.Status != domain.JobStatusError || res.Job.Error == nil || res.Path() != "" {
		t.Fatalf("unexpected job %+v", res.Job)
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed jobs persisted = %d", len(store.failed))
	}
	progress := bc.ofType(events.TypeShotProgress)
	if len(progress) != 2 || progress[1]["status"] != "error" || progress[1]["error_message"] == "" {
		t.Fatalf("unexpected events %v", progress)
	}
}

func TestRunPersistFailureBecomesError(t *testing.T) {
	gen := newBlockingGenerator()
	close(gen.release)
	store := newFakeStore()
	store.failErr = errors.New("deadlock detected")
	q := newTestQueue(t, gen, gen, store, &recorder{}, -1)

	res := q.Run(context.Background(), Job{Class: domain.ResourceImage, ShotID: 1, Prompt: "p"})
	if res.OK() || res.Job.Status != domain.JobStatusError {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.failed) != 1 {
		t.Fatal("persist failure should be recorded as a failed job")
	}
}

func TestSubmitBatchBroadcastsGenerationComplete(t *testing.T) {
	gen := newBlockingGenerator()
	gen.fail = map[int64]error{2: xai.ErrJobFailed}
	close(gen.release)
	bc := &recorder{}
	q := newTestQueue(t, gen, gen, newFakeStore(), bc, -1)

	results := q.SubmitBatch(context.Background(), []Job{
		{Class: domain.ResourceImage, ShotID: 1, Prompt: "a"},
		{Class: domain.ResourceImage, ShotID: 2, Prompt: "b"},
	})
	if len(results) != 2 || !results[0].OK() || results[1].OK() {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Job.ShotID != 1 || results[1].Job.ShotID != 2 {
		t.Fatal("results out of order")
	}
	done := bc.ofType(events.TypeGenerationComplete)
	if len(done) != 1 {
		t.Fatalf("generation_complete events = %d", len(done))
	}
	bc.mu.Lock()
	last := bc.events[len(bc.events)-1]
	bc.mu.Unlock()
	if last["type"] != events.TypeGenerationComplete {
		t.Fatal("generation_complete must be the last event")
	}
}

func TestShotMapJob(t *testing.T) {
	gen := newBlockingGenerator()
	close(gen.release)
	store := newFakeStore()
	bc := &recorder{}
	q := newTestQueue(t, gen, gen, store, bc, -1)

	res := q.Run(context.Background(), Job{Class: domain.ResourceImage, ShotMap: true, SceneID: 4, Prompt: "overhead"})
	if !res.OK() || res.Path() != "shot_maps/scene_4_shot_map.png" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.scene) != 1 || len(store.completed) != 0 {
		t.Fatal("shot map should persist as a scene asset")
	}
	evs := bc.ofType(events.TypeShotMapProgress)
	if len(evs) != 2 || evs[1]["scene_id"] != int64(4) {
		t.Fatalf("unexpected events %v", evs)
	}
}

func TestClaimRejectsDuplicates(t *testing.T) {
	gen := newBlockingGenerator()
	q := newTestQueue(t, gen, gen, newFakeStore(), &recorder{}, -1)
	job := Job{Class: domain.ResourceVideo, ShotID: 3, Prompt: "p"}
	if err := q.Claim(context.Background(), job); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := q.Claim(context.Background(), job); !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("second claim err = %v", err)
	}
	if err := q.Claim(context.Background(), Job{Class: "audio", ShotID: 3}); err == nil {
		t.Fatal("unknown class should be rejected")
	}
}

func TestReleaseFreesClaim(t *testing.T) {
	gen := newBlockingGenerator()
	store := newFakeStore()
	bc := &recorder{}
	q := newTestQueue(t, gen, gen, store, bc, -1)
	job := Job{Class: domain.ResourceImage, ShotID: 5, Prompt: "p"}
	if err := q.Claim(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	res := q.Release(context.Background(), job, errors.New("runner closed"))

	if res.Err == nil || res.Job.Status != domain.JobStatusError {
		t.Fatalf("result = %+v", res)
	}
	if len(store.failed) != 1 || store.failed[0].ShotID != 5 {
		t.Fatalf("failed = %+v", store.failed)
	}
	evs := bc.ofType(events.TypeShotProgress)
	if len(evs) != 1 || evs[0]["status"] != "error" || evs[0]["error_message"] != "runner closed" {
		t.Fatalf("events = %v", evs)
	}
	if gen.calls.Load() != 0 {
		t.Fatal("a released job must not reach the generator")
	}
	if err := q.Claim(context.Background(), job); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestRunCancelledBeforeAdmission(t *testing.T) {
	gen := newBlockingGenerator()
	store := newFakeStore()
	q := newTestQueue(t, gen, gen, store, &recorder{}, -1)

	hold := q.Submit(context.Background(), Job{Class: domain.ResourceVideo, ShotID: 1, Prompt: "p"})
	waitFor(t, func() bool { return gen.inFlight.Load() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	waiting := q.Submit(ctx, Job{Class: domain.ResourceVideo, ShotID: 2, Prompt: "p"})
	cancel()
	res := <-waiting
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v", res.Err)
	}
	close(gen.release)
	<-hold
	if len(store.failed) != 1 {
		t.Fatalf("failed = %d", len(store.failed))
	}
}

func TestNewValidates(t *testing.T) {
	gen := newBlockingGenerator()
	if _, err := New(Options{Videos: gen, Store: newFakeStore()}); err == nil {
		t.Fatal("expected error without image generator")
	}
	if _, err := New(Options{Images: gen, Videos: gen}); err == nil {
		t.Fatal("expected error without store")
	}
}
