// Package scryfall resolves a scanned card's Scryfall ID to descriptive
// attributes. Lookup failures are never fatal to ingestion: the caller
// proceeds with default attributes. Card metadata is immutable once
// published, so cache entries never expire.
package scryfall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const userAgent = "sorterd/1.0"

// Enrichment is the attribute set merged onto a scanned card.
type Enrichment struct {
	CMC           float64  `json:"cmc"`
	Colors        []string `json:"colors"`
	ColorIdentity []string `json:"color_identity"`
	TypeLine      string   `json:"type_line"`
	ManaCost      string   `json:"mana_cost"`
	OracleText    string   `json:"oracle_text"`
	Power         string   `json:"power"`
	Toughness     string   `json:"toughness"`
	Keywords      []string `json:"keywords"`
	SetName       string   `json:"set_name"`
	Rarity        string   `json:"rarity"`
	ImageURI      string   `json:"image_uri"`
	ImageArtCrop  string   `json:"image_art_crop"`
}

// SearchResult is one print returned by the card search passthrough.
type SearchResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SetName string `json:"set_name"`
	Set     string `json:"set"`
	Number  string `json:"number"`
	Rarity  string `json:"rarity"`
	Image   string `json:"image"`
}

type Client struct {
	baseURL string
	http    *http.Client
	cache   Cache
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, cache Cache, log *slog.Logger) *Client {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
		log:     log,
	}
}

type cardPayload struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CMC           float64  `json:"cmc"`
	Colors        []string `json:"colors"`
	ColorIdentity []string `json:"color_identity"`
	TypeLine      string   `json:"type_line"`
	ManaCost      string   `json:"mana_cost"`
	OracleText    string   `json:"oracle_text"`
	Power         string   `json:"power"`
	Toughness     string   `json:"toughness"`
	Keywords      []string `json:"keywords"`
	SetName       string   `json:"set_name"`
	Set           string   `json:"set"`
	CollectorNum  string   `json:"collector_number"`
	Rarity        string   `json:"rarity"`
	ImageURIs     *images  `json:"image_uris"`
	CardFaces     []struct {
		ImageURIs *images `json:"image_uris"`
	} `json:"card_faces"`
}

type images struct {
	Small   string `json:"small"`
	Normal  string `json:"normal"`
	Large   string `json:"large"`
	ArtCrop string `json:"art_crop"`
}

// Card resolves a Scryfall ID. An empty ID resolves to no enrichment without
// touching the network; an upstream failure returns an error and the caller
// proceeds with defaults.
func (c *Client) Card(ctx context.Context, id string) (*Enrichment, error) {
	if id == "" {
		return nil, nil
	}
	if cached, ok := c.cache.Get(ctx, id); ok {
		c.log.Debug("scryfall cache hit", "id", id)
		return cached, nil
	}

	var payload cardPayload
	if err := c.getJSON(ctx, "/cards/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}

	e := &Enrichment{
		CMC:           payload.CMC,
		Colors:        payload.Colors,
		ColorIdentity: payload.ColorIdentity,
		TypeLine:      payload.TypeLine,
		ManaCost:      payload.ManaCost,
		OracleText:    payload.OracleText,
		Power:         payload.Power,
		Toughness:     payload.Toughness,
		Keywords:      payload.Keywords,
		SetName:       payload.SetName,
		Rarity:        payload.Rarity,
	}
	if iu := payload.ImageURIs; iu != nil {
		e.ImageURI = firstNonEmpty(iu.Large, iu.Normal)
		e.ImageArtCrop = iu.ArtCrop
	} else if len(payload.CardFaces) > 0 && payload.CardFaces[0].ImageURIs != nil {
		iu := payload.CardFaces[0].ImageURIs
		e.ImageURI = firstNonEmpty(iu.Large, iu.Normal)
		e.ImageArtCrop = iu.ArtCrop
	}

	c.cache.Put(ctx, id, *e)
	c.log.Info("scryfall fetched", "id", id, "name", payload.Name)
	return e, nil
}

// Search proxies the card search endpoint for the dashboard's rule builder,
// returning at most the first eight prints.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	params := url.Values{
		"q":      {query},
		"unique": {"prints"},
		"order":  {"released"},
		"dir":    {"desc"},
	}
	var payload struct {
		Data []cardPayload `json:"data"`
	}
	if err := c.getJSON(ctx, "/cards/search", params, &payload); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, 8)
	for _, card := range payload.Data {
		if len(results) == 8 {
			break
		}
		img := ""
		if card.ImageURIs != nil {
			img = card.ImageURIs.Small
		} else if len(card.CardFaces) > 0 && card.CardFaces[0].ImageURIs != nil {
			img = card.CardFaces[0].ImageURIs.Small
		}
		results = append(results, SearchResult{
			ID:      card.ID,
			Name:    card.Name,
			SetName: card.SetName,
			Set:     card.Set,
			Number:  card.CollectorNum,
			Rarity:  card.Rarity,
			Image:   img,
		})
	}
	return results, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scryfall request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scryfall status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode scryfall response: %w", err)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
