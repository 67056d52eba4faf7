package products

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-cache/internal/testutil"
	"github.com/Sternrassler/catalog-cache/pkg/cache"
	"github.com/Sternrassler/catalog-cache/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// fakeRepo counts calls and can be slowed down or failed.
type fakeRepo struct {
	listCalls  atomic.Int32
	statsCalls atomic.Int32
	delay      time.Duration
	err        error
	items      []Product
}

func (r *fakeRepo) ListPage(ctx context.Context, q ListQuery) (ListResult, error) {
	r.listCalls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return ListResult{}, r.err
	}
	return pagination.Trim(append([]Product(nil), r.items...), q.Page)
}

func (r *fakeRepo) Stats(ctx context.Context) (Stats, error) {
	r.statsCalls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return Stats{}, r.err
	}
	return Stats{Totals: Totals{Total: int64(len(r.items))}, ByCategory: []CategoryCount{}}, nil
}

func newTestService(t *testing.T, repo Repository, client *redis.Client) *Service {
	t.Helper()
	logger := zerolog.Nop()
	store := cache.NewStore(client, cache.Config{
		LockTTL:     2 * time.Second,
		MaxWait:     time.Second,
		PollInitial: 10 * time.Millisecond,
		PollMax:     50 * time.Millisecond,
	}, logger)
	versions := cache.NewVersioner(client, cache.DefaultVersionKey, logger)
	return NewService(repo, store, versions, ServiceConfig{ListTTL: time.Minute, StatsTTL: time.Minute}, logger)
}

func TestService_ListMissThenHit(t *testing.T) {
	_, client := testutil.NewRedis(t)
	repo := &fakeRepo{items: fixtureProducts()}
	svc := newTestService(t, repo, client)
	ctx := context.Background()

	page, meta, err := svc.List(ctx, ListParams{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if meta.CacheStatus != cache.StatusMiss || meta.Deduped {
		t.Errorf("first meta = %+v, want MISS not deduped", meta)
	}
	if len(page.Items) != 2 || !page.PageInfo.HasMore {
		t.Errorf("first page = %+v", page.PageInfo)
	}

	// Same logical params, default values spelled out.
	page2, meta, err := svc.List(ctx, ListParams{Limit: 2, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if meta.CacheStatus != cache.StatusHit {
		t.Errorf("second status = %s, want HIT", meta.CacheStatus)
	}
	if *page2.PageInfo.NextCursor != *page.PageInfo.NextCursor {
		t.Error("cached page differs from computed page")
	}
	if got := repo.listCalls.Load(); got != 1 {
		t.Errorf("repository calls = %d, want 1", got)
	}
}

func TestService_InvalidateBumpsVersion(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	repo := &fakeRepo{items: fixtureProducts()}
	svc := newTestService(t, repo, client)
	ctx := context.Background()

	if _, _, err := svc.List(ctx, ListParams{}); err != nil {
		t.Fatal(err)
	}

	version, err := svc.Invalidate(ctx)
	if err != nil || version != 2 {
		t.Fatalf("Invalidate() = %d, %v; want 2, nil", version, err)
	}

	_, meta, err := svc.List(ctx, ListParams{})
	if err != nil {
		t.Fatal(err)
	}
	if meta.CacheStatus != cache.StatusMiss {
		t.Errorf("status after invalidate = %s, want MISS", meta.CacheStatus)
	}
	if got := repo.listCalls.Load(); got != 2 {
		t.Errorf("repository calls = %d, want 2", got)
	}

	// Old entries stay until TTL.
	var v1Keys int
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, listNamespace+":v1:") {
			v1Keys++
		}
	}
	if v1Keys == 0 {
		t.Error("v1 entry was deleted; expected it to remain until TTL")
	}
}

func TestService_ConcurrentListsComputeOnce(t *testing.T) {
	_, client := testutil.NewRedis(t)
	repo := &fakeRepo{items: fixtureProducts(), delay: 200 * time.Millisecond}
	svc := newTestService(t, repo, client)

	const n = 16
	var wg sync.WaitGroup
	var deduped atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, meta, err := svc.List(context.Background(), ListParams{Filters: Filters{Category: "home"}})
			if err != nil {
				t.Errorf("List() error = %v", err)
				return
			}
			if len(page.Items) != len(repo.items) {
				t.Errorf("items = %d", len(page.Items))
			}
			if meta.Deduped {
				deduped.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := repo.listCalls.Load(); got != 1 {
		t.Errorf("repository calls = %d, want 1", got)
	}
	if deduped.Load() == 0 {
		t.Error("no caller was deduplicated")
	}
}

func TestService_RedisDisabledBypasses(t *testing.T) {
	repo := &fakeRepo{items: fixtureProducts()}
	svc := newTestService(t, repo, nil)

	for i := 0; i < 2; i++ {
		_, meta, err := svc.List(context.Background(), ListParams{})
		if err != nil {
			t.Fatal(err)
		}
		if meta.CacheStatus != cache.StatusBypass {
			t.Errorf("status = %s, want BYPASS", meta.CacheStatus)
		}
	}
	if got := repo.listCalls.Load(); got != 2 {
		t.Errorf("repository calls = %d, want 2", got)
	}

	if _, err := svc.Invalidate(context.Background()); !errors.Is(err, cache.ErrUnavailable) {
		t.Errorf("Invalidate() error = %v, want ErrUnavailable", err)
	}
}

func TestService_RedisDownDegrades(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	repo := &fakeRepo{items: fixtureProducts()}
	svc := newTestService(t, repo, client)
	mr.Close()

	_, meta, err := svc.List(context.Background(), ListParams{})
	if err != nil {
		t.Fatalf("List() error = %v, want degraded success", err)
	}
	if meta.CacheStatus != cache.StatusBypass {
		t.Errorf("status = %s, want BYPASS", meta.CacheStatus)
	}
}

func TestService_ValidationBeforeIO(t *testing.T) {
	_, client := testutil.NewRedis(t)
	repo := &fakeRepo{}
	svc := newTestService(t, repo, client)

	_, _, err := svc.List(context.Background(), ListParams{Limit: 1000})
	if !IsValidationError(err) {
		t.Errorf("List() error = %v, want ValidationError", err)
	}
	if repo.listCalls.Load() != 0 {
		t.Error("repository called for invalid input")
	}
}

func TestService_StorageErrorNotCached(t *testing.T) {
	_, client := testutil.NewRedis(t)
	boom := errors.New("connection reset")
	repo := &fakeRepo{err: boom}
	svc := newTestService(t, repo, client)
	ctx := context.Background()

	if _, _, err := svc.List(ctx, ListParams{}); !errors.Is(err, boom) {
		t.Fatalf("List() error = %v, want storage error", err)
	}

	repo.err = nil
	repo.items = fixtureProducts()
	_, meta, err := svc.List(ctx, ListParams{})
	if err != nil {
		t.Fatal(err)
	}
	if meta.CacheStatus != cache.StatusMiss {
		t.Errorf("status = %s, want MISS (error must not be cached)", meta.CacheStatus)
	}
}

func TestService_StatsFixedKey(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	repo := &fakeRepo{items: fixtureProducts()}
	svc := newTestService(t, repo, client)
	ctx := context.Background()

	stats, meta, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Totals.Total != 4 || meta.CacheStatus != cache.StatusMiss {
		t.Errorf("first Stats() = %+v, %+v", stats.Totals, meta)
	}

	_, meta, _ = svc.Stats(ctx)
	if meta.CacheStatus != cache.StatusHit {
		t.Errorf("second status = %s, want HIT", meta.CacheStatus)
	}

	want := cache.CacheKey{Namespace: statsNamespace, Version: 1, Params: map[string]any{"v": 1}}.String()
	if !mr.Exists(want) {
		t.Errorf("stats key %q not found; keys = %v", want, mr.Keys())
	}
	if repo.statsCalls.Load() != 1 {
		t.Errorf("stats calls = %d, want 1", repo.statsCalls.Load())
	}
}
