package scryfall_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cardsort/sorterd/internal/scryfall"
)

const cardJSON = `{
	"id": "abc-123",
	"name": "Birds of Paradise",
	"cmc": 1,
	"colors": ["G"],
	"color_identity": ["G"],
	"type_line": "Creature — Bird",
	"mana_cost": "{G}",
	"oracle_text": "Flying",
	"power": "0",
	"toughness": "1",
	"keywords": ["Flying"],
	"set_name": "Ravnica Remastered",
	"rarity": "rare",
	"image_uris": {"large": "https://img/large.jpg", "normal": "https://img/normal.jpg", "art_crop": "https://img/art.jpg"}
}`

const facedCardJSON = `{
	"id": "def-456",
	"name": "Delver of Secrets",
	"cmc": 1,
	"type_line": "Creature — Human Wizard",
	"rarity": "common",
	"card_faces": [
		{"image_uris": {"normal": "https://img/front.jpg", "art_crop": "https://img/front-art.jpg"}},
		{"image_uris": {"normal": "https://img/back.jpg"}}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *scryfall.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return scryfall.NewClient(srv.URL, time.Second, nil, nil)
}

func TestCardParsesEnrichment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/abc-123" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(cardJSON)) //nolint:errcheck
	})

	e, err := c.Card(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if e.TypeLine != "Creature — Bird" || e.Rarity != "rare" || e.CMC != 1 {
		t.Fatalf("unexpected enrichment: %+v", e)
	}
	if e.ImageURI != "https://img/large.jpg" || e.ImageArtCrop != "https://img/art.jpg" {
		t.Fatalf("expected large image preferred, got %+v", e)
	}
	if len(e.Keywords) != 1 || e.Keywords[0] != "Flying" {
		t.Fatalf("unexpected keywords: %+v", e.Keywords)
	}
}

func TestCardFacesImageFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(facedCardJSON)) //nolint:errcheck
	})

	e, err := c.Card(context.Background(), "def-456")
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if e.ImageURI != "https://img/front.jpg" || e.ImageArtCrop != "https://img/front-art.jpg" {
		t.Fatalf("expected first face images, got %+v", e)
	}
}

func TestCardCachesByID(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(cardJSON)) //nolint:errcheck
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Card(context.Background(), "abc-123"); err != nil {
			t.Fatalf("card: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one upstream fetch, got %d", got)
	}
}

func TestCardEmptyIDIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request for empty id: %s", r.URL.Path)
	})

	e, err := c.Card(context.Background(), "")
	if err != nil || e != nil {
		t.Fatalf("expected nil, nil for empty id, got %+v, %v", e, err)
	}
}

func TestCardUpstreamErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	if _, err := c.Card(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for upstream 404")
	}
}

func TestSearchCapsAtEightPrints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "birds" {
			t.Fatalf("unexpected query %q", got)
		}
		w.Write([]byte(`{"data": [` + cardJSON + `,` + cardJSON + `,` + cardJSON + `,` + cardJSON + `,` + //nolint:errcheck
			cardJSON + `,` + cardJSON + `,` + cardJSON + `,` + cardJSON + `,` + cardJSON + `]}`))
	})

	results, err := c.Search(context.Background(), "birds")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	if results[0].ID != "abc-123" || results[0].Name != "Birds of Paradise" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestMemoryCacheContract(t *testing.T) {
	cache := scryfall.NewMemoryCache()
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "x"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	cache.Put(ctx, "x", scryfall.Enrichment{TypeLine: "Instant"})
	e, ok := cache.Get(ctx, "x")
	if !ok || e.TypeLine != "Instant" {
		t.Fatalf("expected hit, got %+v %v", e, ok)
	}

	// Mutating the returned copy must not poison the cache.
	e.TypeLine = "Sorcery"
	e2, _ := cache.Get(ctx, "x")
	if e2.TypeLine != "Instant" {
		t.Fatalf("cache entry was mutated through the returned pointer")
	}
}
