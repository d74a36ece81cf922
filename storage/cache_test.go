package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

type stubBackend struct {
	loadProjectsFn   func(ctx context.Context) ([]domain.Project, error)
	saveProjectsFn   func(ctx context.Context, projects []domain.Project) error
	loadOverridesFn  func(ctx context.Context) (domain.Overrides, error)
	putOverrideFn    func(ctx context.Context, id string, o domain.StatusOverride) error
	deleteOverrideFn func(ctx context.Context, id string) error
	publishChangeFn  func(ctx context.Context, ev domain.ChangeEvent) error
}

func (s *stubBackend) LoadProjects(ctx context.Context) ([]domain.Project, error) {
	if s.loadProjectsFn == nil {
		return nil, errors.New("unexpected LoadProjects call")
	}
	return s.loadProjectsFn(ctx)
}

func (s *stubBackend) SaveProjects(ctx context.Context, projects []domain.Project) error {
	if s.saveProjectsFn == nil {
		return errors.New("unexpected SaveProjects call")
	}
	return s.saveProjectsFn(ctx, projects)
}

func (s *stubBackend) LoadOverrides(ctx context.Context) (domain.Overrides, error) {
	if s.loadOverridesFn == nil {
		return nil, errors.New("unexpected LoadOverrides call")
	}
	return s.loadOverridesFn(ctx)
}

func (s *stubBackend) PutOverride(ctx context.Context, id string, o domain.StatusOverride) error {
	if s.putOverrideFn == nil {
		return errors.New("unexpected PutOverride call")
	}
	return s.putOverrideFn(ctx, id, o)
}

func (s *stubBackend) DeleteOverride(ctx context.Context, id string) error {
	if s.deleteOverrideFn == nil {
		return errors.New("unexpected DeleteOverride call")
	}
	return s.deleteOverrideFn(ctx, id)
}

func (s *stubBackend) PublishChange(ctx context.Context, ev domain.ChangeEvent) error {
	if s.publishChangeFn == nil {
		return errors.New("unexpected PublishChange call")
	}
	return s.publishChangeFn(ctx, ev)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheLoadProjectsMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.Project{{"Project_ID": "1", "Project_Name": "Survey"}}

	var calls int
	cache := NewCache(&stubBackend{
		loadProjectsFn: func(context.Context) ([]domain.Project, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute, nil)

	projects, err := cache.LoadProjects(ctx)
	if err != nil {
		t.Fatalf("load projects: %v", err)
	}
	if !reflect.DeepEqual(projects, expected) {
		t.Fatalf("unexpected projects: %#v", projects)
	}
	if ttl := mr.TTL(projectsCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.LoadProjects(ctx)
	if err != nil {
		t.Fatalf("load cached projects: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached projects: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached load to avoid backend, calls=%d", calls)
	}
}

func TestCacheEvictsOverridesAfterWrites(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	stored := domain.Overrides{"1": {Status: "On Hold"}}
	var loads int
	cache := NewCache(&stubBackend{
		loadOverridesFn: func(context.Context) (domain.Overrides, error) {
			loads++
			return stored.Clone(), nil
		},
		putOverrideFn: func(_ context.Context, id string, o domain.StatusOverride) error {
			stored[id] = o
			return nil
		},
		deleteOverrideFn: func(_ context.Context, id string) error {
			delete(stored, id)
			return nil
		},
	}, client, time.Minute, nil)

	if _, err := cache.LoadOverrides(ctx); err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	if !mr.Exists(overridesCacheKey) {
		t.Fatal("expected overrides to be cached")
	}

	if err := cache.PutOverride(ctx, "2", domain.StatusOverride{Notes: "call back"}); err != nil {
		t.Fatalf("put override: %v", err)
	}
	if mr.Exists(overridesCacheKey) {
		t.Fatal("overrides cache should be evicted after put")
	}

	got, err := cache.LoadOverrides(ctx)
	if err != nil {
		t.Fatalf("reload overrides: %v", err)
	}
	if got["2"].Notes != "call back" || loads != 2 {
		t.Fatalf("expected fresh overrides from backend, got %#v after %d loads", got, loads)
	}

	if err := cache.DeleteOverride(ctx, "1"); err != nil {
		t.Fatalf("delete override: %v", err)
	}
	if mr.Exists(overridesCacheKey) {
		t.Fatal("overrides cache should be evicted after delete")
	}
}

func TestCacheLoadRacingWriteDoesNotCacheStaleOverrides(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var mu sync.Mutex
	stored := domain.Overrides{"1": {Status: "Assigned"}}
	started := make(chan struct{})
	release := make(chan struct{})
	var blocked bool
	cache := NewCache(&stubBackend{
		loadOverridesFn: func(context.Context) (domain.Overrides, error) {
			mu.Lock()
			snapshot := stored.Clone()
			first := !blocked
			blocked = true
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			return snapshot, nil
		},
		putOverrideFn: func(_ context.Context, id string, o domain.StatusOverride) error {
			mu.Lock()
			defer mu.Unlock()
			stored[id] = o
			return nil
		},
	}, client, time.Minute, nil)

	done := make(chan error, 1)
	go func() {
		_, err := cache.LoadOverrides(ctx)
		done <- err
	}()
	<-started
	if err := cache.PutOverride(ctx, "1", domain.StatusOverride{Status: "On Hold"}); err != nil {
		t.Fatalf("put override: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	if mr.Exists(overridesCacheKey) {
		t.Fatal("a load that began before the write must not repopulate the cache")
	}

	got, err := cache.LoadOverrides(ctx)
	if err != nil {
		t.Fatalf("reload overrides: %v", err)
	}
	if got["1"].Status != "On Hold" {
		t.Fatalf("expected the written status, got %q", got["1"].Status)
	}
}

func TestCacheInvalidateDropsBothDocuments(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&stubBackend{
		loadProjectsFn:  func(context.Context) ([]domain.Project, error) { return []domain.Project{}, nil },
		loadOverridesFn: func(context.Context) (domain.Overrides, error) { return domain.Overrides{}, nil },
	}, client, time.Minute, nil)

	if _, err := cache.LoadProjects(ctx); err != nil {
		t.Fatalf("load projects: %v", err)
	}
	if _, err := cache.LoadOverrides(ctx); err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	cache.Invalidate(ctx)
	if mr.Exists(projectsCacheKey) || mr.Exists(overridesCacheKey) {
		t.Fatal("expected both keys to be evicted")
	}
}

func TestCacheFallsBackWhenRedisUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	var calls int
	cache := NewCache(&stubBackend{
		loadProjectsFn: func(context.Context) ([]domain.Project, error) {
			calls++
			return []domain.Project{{"Project_ID": "9"}}, nil
		},
	}, client, time.Minute, nil)

	projects, err := cache.LoadProjects(context.Background())
	if err != nil {
		t.Fatalf("expected backend fallback, got %v", err)
	}
	if len(projects) != 1 || calls != 1 {
		t.Fatalf("unexpected fallback result %#v (calls=%d)", projects, calls)
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(projectsCacheKey, "{not json"); err != nil {
		t.Fatalf("seed redis: %v", err)
	}
	cache := NewCache(&stubBackend{
		loadProjectsFn: func(context.Context) ([]domain.Project, error) { return []domain.Project{}, nil },
	}, client, 0, nil)

	if _, err := cache.LoadProjects(context.Background()); err != nil {
		t.Fatalf("load projects: %v", err)
	}
	if mr.Exists(projectsCacheKey) {
		t.Fatal("corrupt entry should be removed and zero TTL should not repopulate")
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var published []domain.ChangeEvent
	cache := NewCache(&stubBackend{
		publishChangeFn: func(_ context.Context, ev domain.ChangeEvent) error {
			published = append(published, ev)
			return nil
		},
		saveProjectsFn: func(context.Context, []domain.Project) error { return nil },
	}, nil, time.Minute, nil)

	ctx := context.Background()
	if err := cache.SaveProjects(ctx, nil); err != nil {
		t.Fatalf("save projects: %v", err)
	}
	if err := cache.PublishChange(ctx, domain.ChangeEvent{ID: "e1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cache.Invalidate(ctx)
	if len(published) != 1 {
		t.Fatalf("expected one published event, got %d", len(published))
	}
}
