package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pixvault/pixvault/cache"
	"github.com/pixvault/pixvault/config"
	"github.com/pixvault/pixvault/imaging"
	"github.com/pixvault/pixvault/models"
	"github.com/pixvault/pixvault/store"
)

// fakeStore is an in-memory Store with the same uniqueness rules as
// the real one.
type fakeStore struct {
	mu     sync.Mutex
	byHash map[string]*models.Image
	byID   map[string]*models.Image
	nextID uint

	lookupsByID int
	forcedDupes int
	failWith    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byHash: make(map[string]*models.Image),
		byID:   make(map[string]*models.Image),
	}
}

func (f *fakeStore) FindByHash(ctx context.Context, hash string) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if rec, ok := f.byHash[hash]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindByPublicID(ctx context.Context, publicID string) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupsByID++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if rec, ok := f.byID[publicID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) Insert(ctx context.Context, img *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if f.forcedDupes > 0 {
		f.forcedDupes--
		return gorm.ErrDuplicatedKey
	}
	if _, ok := f.byHash[img.ContentHash]; ok {
		return gorm.ErrDuplicatedKey
	}
	if _, ok := f.byID[img.PublicID]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.nextID++
	img.ID = f.nextID
	img.CreatedAt = time.Now()
	cp := *img
	f.byHash[img.ContentHash] = &cp
	f.byID[img.PublicID] = &cp
	return nil
}

func (f *fakeStore) Overwrite(ctx context.Context, img *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	cp := *img
	f.byHash[img.ContentHash] = &cp
	f.byID[img.PublicID] = &cp
	return nil
}

func (f *fakeStore) record(publicID string) (models.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[publicID]
	if !ok {
		return models.Image{}, false
	}
	return *rec, true
}

var notFoundPayload = []byte("fallback image bytes")

func digestOf(s string) string {
	return imaging.Digest([]byte(s))
}

func testConfig() config.Config {
	return config.Config{
		CacheTime:           time.Minute,
		IdentifierLength:    11,
		IdentifierAlphabet:  config.Base62Alphabet,
		MaxFileSize:         1 << 20,
		AuthorizedMimeTypes: []string{"image/jpeg", "image/png", "image/gif"},
		NotFoundImageType:   "image/jpeg",
	}
}

func newTestService(st store.Store, cacheTime time.Duration) (*Service, *cache.Cache) {
	cfg := testConfig()
	cfg.CacheTime = cacheTime
	c := cache.New(st, cacheTime, time.Second, zerolog.Nop())
	return New(st, c, cfg, notFoundPayload, zerolog.Nop()), c
}

func pngPayload(suffix string) []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte(suffix)...)
}

func TestIngestDedupIdempotence(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, time.Minute)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, UploadRequest{
		Payload:          pngPayload("dedup"),
		DeclaredMimeType: "image/png",
		OriginalName:     "a.png",
		UploadedBy:       "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if first.AlreadyExists {
		t.Fatal("first upload reported already_exists")
	}
	if len(first.PublicID) != 11 {
		t.Fatalf("public id %q has length %d, want 11", first.PublicID, len(first.PublicID))
	}
	if first.ExtensionHint != "png" {
		t.Errorf("extension hint = %q, want png", first.ExtensionHint)
	}

	// Same bytes, different name and declared type string.
	second, err := svc.Ingest(ctx, UploadRequest{
		Payload:          pngPayload("dedup"),
		DeclaredMimeType: "image/png",
		OriginalName:     "completely-different.png",
		UploadedBy:       "10.0.0.2",
	})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !second.AlreadyExists {
		t.Fatal("second upload of identical bytes not reported as already existing")
	}
	if second.PublicID != first.PublicID {
		t.Fatalf("dedup hit returned id %q, want %q", second.PublicID, first.PublicID)
	}
}

func TestIngestSignatureAuthority(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, time.Minute)

	// Authorized declared type, but the bytes are not a png.
	_, err := svc.Ingest(context.Background(), UploadRequest{
		Payload:          []byte("this is a text file"),
		DeclaredMimeType: "image/png",
		OriginalName:     "sneaky.png",
		UploadedBy:       "10.0.0.1",
	})
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
	if len(st.byID) != 0 {
		t.Error("rejected upload reached the store")
	}
}

func TestIngestValidation(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, time.Minute)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, UploadRequest{DeclaredMimeType: "image/png"}); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("empty payload: got %v, want ErrEmptyPayload", err)
	}

	if _, err := svc.Ingest(ctx, UploadRequest{
		Payload:          pngPayload("x"),
		DeclaredMimeType: "application/pdf",
	}); !errors.Is(err, ErrMimeNotAllowed) {
		t.Errorf("disallowed mime: got %v, want ErrMimeNotAllowed", err)
	}

	big := make([]byte, (1<<20)+1)
	if _, err := svc.Ingest(ctx, UploadRequest{
		Payload:          big,
		DeclaredMimeType: "image/png",
	}); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload: got %v, want ErrPayloadTooLarge", err)
	}
}

func TestIngestDedupHitSkipsSignatureCheck(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, time.Minute)
	ctx := context.Background()

	// Seed a record whose bytes would fail the signature check today.
	seeded := &models.Image{
		PublicID:    "seededid123",
		ContentHash: digestOf("no magic here"),
		Payload:     []byte("no magic here"),
		MimeType:    "image/gif",
	}
	if err := st.Insert(ctx, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.Ingest(ctx, UploadRequest{
		Payload:          []byte("no magic here"),
		DeclaredMimeType: "image/gif",
		OriginalName:     "old.gif",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.AlreadyExists || res.PublicID != "seededid123" {
		t.Fatalf("got %+v, want dedup hit on seededid123", res)
	}
}

func TestIngestDedupHitDoesNotPopulateCache(t *testing.T) {
	st := newFakeStore()
	svc, c := newTestService(st, time.Minute)
	ctx := context.Background()

	seeded := &models.Image{
		PublicID:    "knownrecord",
		ContentHash: digestOf(string(pngPayload("seeded bytes"))),
		Payload:     pngPayload("seeded bytes"),
		MimeType:    "image/png",
	}
	if err := st.Insert(ctx, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Ingest(ctx, UploadRequest{
		Payload:          pngPayload("seeded bytes"),
		DeclaredMimeType: "image/png",
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, ok := c.Get("knownrecord"); ok {
		t.Error("dedup hit populated the cache")
	}
}

func TestIngestNewRecordPopulatesCache(t *testing.T) {
	st := newFakeStore()
	svc, c := newTestService(st, time.Minute)

	res, err := svc.Ingest(context.Background(), UploadRequest{
		Payload:          pngPayload("fresh"),
		DeclaredMimeType: "image/png",
		OriginalName:     "fresh.png",
		UploadedBy:       "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	rec, ok := c.Get(res.PublicID)
	if !ok {
		t.Fatal("new record missing from cache")
	}
	if rec.Views != 0 {
		t.Errorf("new record views = %d, want 0", rec.Views)
	}

	stored, ok := st.record(res.PublicID)
	if !ok {
		t.Fatal("new record missing from store")
	}
	if !bytes.Equal(stored.Payload, pngPayload("fresh")) {
		t.Error("stored payload differs from upload")
	}
	if stored.UploadedBy != "10.0.0.1" {
		t.Errorf("uploaded_by = %q, want 10.0.0.1", stored.UploadedBy)
	}
}

func TestIngestIdentifierCollisionRetriesOnce(t *testing.T) {
	st := newFakeStore()
	st.forcedDupes = 1
	svc, _ := newTestService(st, time.Minute)

	res, err := svc.Ingest(context.Background(), UploadRequest{
		Payload:          pngPayload("collide"),
		DeclaredMimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("Ingest after one collision: %v", err)
	}
	if res.AlreadyExists {
		t.Fatal("collision retry reported already_exists")
	}
	if _, ok := st.record(res.PublicID); !ok {
		t.Fatal("record not stored after collision retry")
	}
}

func TestIngestIdentifierCollisionExhausted(t *testing.T) {
	st := newFakeStore()
	st.forcedDupes = 2
	svc, _ := newTestService(st, time.Minute)

	_, err := svc.Ingest(context.Background(), UploadRequest{
		Payload:          pngPayload("collide-forever"),
		DeclaredMimeType: "image/png",
	})
	if !errors.Is(err, ErrIdentifierExhausted) {
		t.Fatalf("got %v, want ErrIdentifierExhausted", err)
	}
}

func TestIngestDuplicateInsertResolvesAsDedupRace(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, time.Minute)
	ctx := context.Background()

	payload := pngPayload("raced")

	// Simulate the twin upload winning between FindByHash and Insert:
	// force one duplicate failure and plant the twin's record so the
	// re-query finds it.
	st.forcedDupes = 1
	twin := &models.Image{
		PublicID:    "twinwinner1",
		ContentHash: digestOf(string(payload)),
		Payload:     payload,
		MimeType:    "image/png",
	}
	st.byHash[twin.ContentHash] = twin
	st.byID[twin.PublicID] = twin

	res, err := svc.Ingest(ctx, UploadRequest{
		Payload:          payload,
		DeclaredMimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.AlreadyExists || res.PublicID != "twinwinner1" {
		t.Fatalf("got %+v, want dedup race resolution to twinwinner1", res)
	}
}

func TestIngestStoreErrorSurfaces(t *testing.T) {
	st := newFakeStore()
	st.failWith = errors.New("connection refused")
	svc, _ := newTestService(st, time.Minute)

	_, err := svc.Ingest(context.Background(), UploadRequest{
		Payload:          pngPayload("x"),
		DeclaredMimeType: "image/png",
	})
	if err == nil {
		t.Fatal("expected error when the store is down")
	}
	if IsValidation(err) {
		t.Error("store failure classified as a validation error")
	}
}

func TestRetrieveNotFound(t *testing.T) {
	st := newFakeStore()
	svc, c := newTestService(st, time.Minute)

	res, err := svc.Retrieve(context.Background(), "nosuchident", "10.0.0.1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Found {
		t.Fatal("unknown id reported as found")
	}
	if !bytes.Equal(res.Payload, notFoundPayload) {
		t.Error("not-found response is not the configured fallback image")
	}
	if res.MimeType != "image/jpeg" {
		t.Errorf("not-found mime = %q, want image/jpeg", res.MimeType)
	}
	if _, ok := c.Get("nosuchident"); ok {
		t.Error("not-found lookup created a cache entry")
	}
	if len(st.byID) != 0 {
		t.Error("not-found lookup created a durable record")
	}
}

func TestRetrieveExtensionStripping(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, time.Minute)
	ctx := context.Background()

	up, err := svc.Ingest(ctx, UploadRequest{
		Payload:          pngPayload("ext"),
		DeclaredMimeType: "image/png",
		OriginalName:     "ext.png",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	plain, err := svc.Retrieve(ctx, up.PublicID, "10.0.0.1")
	if err != nil || !plain.Found {
		t.Fatalf("plain retrieve failed: %v found=%v", err, plain.Found)
	}
	suffixed, err := svc.Retrieve(ctx, up.PublicID+".png", "10.0.0.1")
	if err != nil || !suffixed.Found {
		t.Fatalf("suffixed retrieve failed: %v found=%v", err, suffixed.Found)
	}
	if !bytes.Equal(plain.Payload, suffixed.Payload) {
		t.Error("extension-suffixed lookup returned different payload")
	}
}

func TestRetrievePopulatesCacheOnMiss(t *testing.T) {
	st := newFakeStore()
	svc, c := newTestService(st, time.Minute)
	ctx := context.Background()

	rec := &models.Image{
		PublicID:    "storedimage",
		ContentHash: "somehash",
		Payload:     pngPayload("stored"),
		MimeType:    "image/png",
	}
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Retrieve(ctx, "storedimage", "10.0.0.1"); err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	if _, ok := c.Get("storedimage"); !ok {
		t.Fatal("retrieval did not populate the cache")
	}

	lookupsAfterFirst := st.lookupsByID
	if _, err := svc.Retrieve(ctx, "storedimage", "10.0.0.2"); err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if st.lookupsByID != lookupsAfterFirst {
		t.Error("cached retrieval still hit the durable store")
	}
}

func TestViewCountingFlushesToStore(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, 80*time.Millisecond)
	ctx := context.Background()

	rec := &models.Image{
		PublicID:    "countedimg1",
		ContentHash: "counted-hash",
		Payload:     pngPayload("counted"),
		MimeType:    "image/png",
	}
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	viewers := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	for _, v := range viewers {
		if _, err := svc.Retrieve(ctx, "countedimg1", v); err != nil {
			t.Fatalf("Retrieve as %s: %v", v, err)
		}
	}

	// Durable copy is stale until the eviction flush lands.
	time.Sleep(200 * time.Millisecond)

	stored, ok := st.record("countedimg1")
	if !ok {
		t.Fatal("record vanished from the store")
	}
	if stored.Views != 3 {
		t.Errorf("durable views = %d, want 3", stored.Views)
	}
	if stored.LastViewedBy == nil || *stored.LastViewedBy != "10.0.0.3" {
		t.Errorf("durable last_viewed_by = %v, want the most recent viewer", stored.LastViewedBy)
	}
	if stored.LastViewedAt == nil {
		t.Error("durable last_viewed_at never set")
	}
}

func TestRetrieveStoreErrorSurfaces(t *testing.T) {
	st := newFakeStore()
	st.failWith = errors.New("connection refused")
	svc, _ := newTestService(st, time.Minute)

	_, err := svc.Retrieve(context.Background(), "whatever", "10.0.0.1")
	if err == nil {
		t.Fatal("expected error when the store is down")
	}
}
