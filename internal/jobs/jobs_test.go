package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/needful-app/needful/internal/database"
	"github.com/needful-app/needful/internal/media"
	"github.com/needful-app/needful/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestRegisterValidatesSpec(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop(context.Background())

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Register(Job{Name: "a", Spec: "@every 15m", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "b", Spec: "0 3 * * *", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "c", Spec: "*/30 * * * * *", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "manual", Run: noop}))

	assert.Error(t, s.Register(Job{Name: "bad", Spec: "every day", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "a", Run: noop}), "duplicate name")
	assert.Error(t, s.Register(Job{Name: "nil"}))
	assert.Equal(t, []string{"a", "b", "c", "manual"}, s.Names())
}

func TestRunRecordsOutcome(t *testing.T) {
	m := metrics.New()
	s := NewScheduler(nil, m)
	defer s.Stop(context.Background())

	boom := errors.New("boom")
	require.NoError(t, s.Register(Job{Name: "ok", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Register(Job{Name: "fail", Run: func(context.Context) error { return boom }}))

	require.NoError(t, s.Run(context.Background(), "ok"))
	assert.ErrorIs(t, s.Run(context.Background(), "fail"), boom)
	assert.ErrorIs(t, s.Run(context.Background(), "missing"), ErrUnknownJob)
}

func TestRunSkipsOverlap(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{Name: "slow", Run: func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error)
	go func() { done <- s.Run(context.Background(), "slow") }()
	<-started
	require.NoError(t, s.Run(context.Background(), "slow"))
	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, runs.Load())
}

func TestScheduledJobFires(t *testing.T) {
	s := NewScheduler(nil, nil)
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestPurgeStories(t *testing.T) {
	repo := database.NewMockRepository()
	bucket := media.NewMemoryBucket("https://cdn.test/stories")
	ctx := context.Background()

	live := repo.AddStory(database.Story{ProviderID: "p1", StoragePath: "p1/live.jpg", ExpiresAt: now.Add(time.Hour)})
	repo.AddStory(database.Story{ProviderID: "p1", StoragePath: "p1/old.jpg", ExpiresAt: now.Add(-time.Hour)})
	repo.AddStory(database.Story{ProviderID: "p2", MediaURL: "https://cdn.test/stories/p2/legacy.mp4", ExpiresAt: now})
	for _, p := range []string{"p1/live.jpg", "p1/old.jpg", "p2/legacy.mp4"} {
		_, err := bucket.Put(ctx, p, []byte("x"), "image/jpeg")
		require.NoError(t, err)
	}

	require.NoError(t, PurgeStories(repo, bucket, clock, nil)(ctx))

	remaining, err := repo.ListActiveStories(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, live.ID, remaining[0].ID)
	assert.True(t, bucket.Has("p1/live.jpg"))
	assert.False(t, bucket.Has("p1/old.jpg"))
	assert.False(t, bucket.Has("p2/legacy.mp4"))
}

func TestPurgeStoriesKeepsRowsWhenStorageFails(t *testing.T) {
	repo := database.NewMockRepository()
	bucket := media.NewMemoryBucket("https://cdn.test/stories")
	bucket.Fail = errors.New("storage down")
	repo.AddStory(database.Story{ProviderID: "p1", StoragePath: "p1/old.jpg", ExpiresAt: now.Add(-time.Hour)})

	err := PurgeStories(repo, bucket, clock, nil)(context.Background())
	require.Error(t, err)

	left, err := repo.ListExpiredStories(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestPruneAnalytics(t *testing.T) {
	var got time.Time
	prune := func(_ context.Context, cutoff time.Time) (int, error) {
		got = cutoff
		return 3, nil
	}
	require.NoError(t, PruneAnalytics(prune, 30, clock, nil)(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -30), got)

	got = time.Time{}
	require.NoError(t, PruneAnalytics(prune, 0, clock, nil)(context.Background()))
	assert.True(t, got.IsZero(), "zero retention keeps everything")
}

func TestWarmCacheJoinsErrors(t *testing.T) {
	var calls int
	a := errors.New("a")
	err := WarmCache(
		func(context.Context) error { calls++; return a },
		func(context.Context) error { calls++; return nil },
	)(context.Background())
	assert.ErrorIs(t, err, a)
	assert.Equal(t, 2, calls)
}
