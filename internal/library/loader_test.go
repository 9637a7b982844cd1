package library

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/config"
	"github.com/taipei-doit/vismatch-svc/internal/fingerprint"
	"github.com/taipei-doit/vismatch-svc/internal/index"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
)

// pngBytes encodes a small deterministic PNG whose pixels depend on seed.
func pngBytes(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8((x*5 + y*11 + seed*37) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestLoader(t *testing.T) (*Loader, *Library, *countingStore) {
	t.Helper()
	lib, err := New(t.TempDir(), config.ImageExtensions)
	if err != nil {
		t.Fatal(err)
	}
	sqlite, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	store := &countingStore{Store: sqlite}

	ext, err := fingerprint.NewDifferenceExtractor(8)
	if err != nil {
		t.Fatal(err)
	}
	return NewLoader(lib, store, ext, zap.NewNop()), lib, store
}

// countingStore counts Put calls to observe cache behavior.
type countingStore struct {
	storage.Store
	puts int
}

func (c *countingStore) Put(ctx context.Context, fp *storage.Fingerprint) error {
	c.puts++
	return c.Store.Put(ctx, fp)
}

func TestLoader_FingerprintCaching(t *testing.T) {
	ld, _, store := newTestLoader(t)
	ctx := context.Background()
	data := pngBytes(t, 1)

	first, err := ld.Fingerprint(ctx, "alpha", "cat.png", data)
	if err != nil {
		t.Fatal(err)
	}
	if store.puts != 1 {
		t.Fatalf("puts = %d, want 1", store.puts)
	}

	// Unchanged bytes are served from cache, without recomputation.
	second, err := ld.Fingerprint(ctx, "alpha", "cat.png", data)
	if err != nil {
		t.Fatal(err)
	}
	if store.puts != 1 {
		t.Errorf("puts = %d after cache hit, want 1", store.puts)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("component %d differs across cache hit", i)
		}
	}

	// A changed file invalidates the cache entry.
	if _, err := ld.Fingerprint(ctx, "alpha", "cat.png", pngBytes(t, 9)); err != nil {
		t.Fatal(err)
	}
	if store.puts != 2 {
		t.Errorf("puts = %d after content change, want 2", store.puts)
	}
}

func TestLoader_FingerprintUndecodable(t *testing.T) {
	ld, _, _ := newTestLoader(t)
	if _, err := ld.Fingerprint(context.Background(), "alpha", "junk.png", []byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoader_Populate(t *testing.T) {
	ld, lib, _ := newTestLoader(t)
	ctx := context.Background()

	_ = lib.WriteImage("alpha", "cat.png", pngBytes(t, 1))
	_ = lib.WriteImage("alpha", "dog.png", pngBytes(t, 7))
	// A corrupt file is skipped, not fatal.
	_ = lib.WriteImage("alpha", "broken.png", []byte("garbage"))

	m, _ := index.ParseMetric("cosine")
	idx := index.New(64, m)
	if err := ld.Populate(ctx, "alpha", idx); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("Size = %d, want 2 (corrupt file skipped)", idx.Size())
	}

	// A populated index answers queries with the ingested image first.
	vec, err := ld.Fingerprint(ctx, "alpha", "cat.png", pngBytes(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	matches, err := idx.Search(ctx, vec, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Identifier != "cat.png" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestLoader_PopulateMissingProject(t *testing.T) {
	// A project with no directory yet populates empty; the directory only
	// appears when the first image is stored.
	ld, _, _ := newTestLoader(t)
	m, _ := index.ParseMetric("cosine")
	idx := index.New(64, m)
	if err := ld.Populate(context.Background(), "ghost", idx); err != nil {
		t.Fatalf("Populate on missing project: %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("Size = %d, want 0", idx.Size())
	}
}

func TestLoader_PopulateServesFromCache(t *testing.T) {
	ld, lib, store := newTestLoader(t)
	ctx := context.Background()

	_ = lib.WriteImage("alpha", "cat.png", pngBytes(t, 1))
	_ = lib.WriteImage("alpha", "dog.png", pngBytes(t, 7))

	m, _ := index.ParseMetric("cosine")
	if err := ld.Populate(ctx, "alpha", index.New(64, m)); err != nil {
		t.Fatal(err)
	}
	if store.puts != 2 {
		t.Fatalf("puts = %d after first populate, want 2", store.puts)
	}

	// A second populate over unchanged files is served entirely from the
	// cache scan; nothing is recomputed or rewritten.
	idx := index.New(64, m)
	if err := ld.Populate(ctx, "alpha", idx); err != nil {
		t.Fatal(err)
	}
	if store.puts != 2 {
		t.Errorf("puts = %d after cached populate, want 2", store.puts)
	}
	if idx.Size() != 2 {
		t.Errorf("Size = %d, want 2", idx.Size())
	}
}
