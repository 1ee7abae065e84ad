package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mediamirror/models"

	"github.com/avast/retry-go/v4"
)

var (
	ErrNotConfigured = errors.New("jellyfin server not configured")
)

// Client talks to a Jellyfin-compatible media server. The server is
// local, so there is no server-side rate limit; callers scale fetch
// throughput with concurrent page requests instead.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Jellyfin API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// UpdateCredentials swaps the server URL and API key, used when
// settings change without a restart.
func (c *Client) UpdateCredentials(baseURL, apiKey string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.apiKey = apiKey
	c.mu.Unlock()
}

func (c *Client) creds() (baseURL, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.apiKey
}

// Configured reports whether the client has a server URL and API key.
func (c *Client) Configured() bool {
	base, key := c.creds()
	return base != "" && key != ""
}

// Library is a top-level media folder on the server.
type Library struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"` // tvshows | movies | ...
}

// ProviderUser is a media server account.
type ProviderUser struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		IsDisabled bool `json:"IsDisabled"`
	} `json:"Policy"`
}

// WatchedItem is one played catalog item for a user, scoped to the
// library it was fetched from.
type WatchedItem struct {
	ItemID       string
	ItemType     string // movie | episode
	SeriesID     string
	LibraryID    string
	PlayCount    int
	IsFavorite   bool
	LastPlayedAt *time.Time
}

// item mirrors the subset of the server's item DTO the pipeline reads.
type item struct {
	ID              string            `json:"Id"`
	Name            string            `json:"Name"`
	Type            string            `json:"Type"`
	ProductionYear  int               `json:"ProductionYear"`
	Overview        string            `json:"Overview"`
	Genres          []string          `json:"Genres"`
	OfficialRating  string            `json:"OfficialRating"`
	CommunityRating float64           `json:"CommunityRating"`
	RunTimeTicks    int64             `json:"RunTimeTicks"`
	ProviderIDs     map[string]string `json:"ProviderIds"`
	SeriesID        string            `json:"SeriesId"`
	IndexNumber     *int              `json:"IndexNumber"`
	ParentIndex     *int              `json:"ParentIndexNumber"`
	PremiereDate    *time.Time        `json:"PremiereDate"`
	DateCreated     *time.Time        `json:"DateCreated"`
	ImageTags       map[string]string `json:"ImageTags"`
	BackdropTags    []string          `json:"BackdropImageTags"`
	People          []struct {
		Name string `json:"Name"`
		Role string `json:"Role"`
		Type string `json:"Type"`
	} `json:"People"`
	UserData *struct {
		PlayCount      int        `json:"PlayCount"`
		IsFavorite     bool       `json:"IsFavorite"`
		Played         bool       `json:"Played"`
		LastPlayedDate *time.Time `json:"LastPlayedDate"`
	} `json:"UserData"`
}

type itemsResponse struct {
	Items            []item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// doGET issues an authenticated GET and decodes the JSON response.
// Transient failures (network errors, 5xx) are retried with a fixed
// short backoff; this is the transport-level retry the page fetcher
// deliberately does not duplicate.
func (c *Client) doGET(ctx context.Context, path string, query url.Values, dest any) error {
	base, key := c.creds()
	if base == "" || key == "" {
		return ErrNotConfigured
	}

	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("X-Emby-Token", key)
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("jellyfin request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("jellyfin server error: status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return retry.Unrecoverable(fmt.Errorf("jellyfin request failed: %s - %s", resp.Status, strings.TrimSpace(string(body))))
			}
			if dest == nil {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	var info struct {
		ServerName string `json:"ServerName"`
		Version    string `json:"Version"`
	}
	if err := c.doGET(ctx, "/System/Info", nil, &info); err != nil {
		return err
	}
	return nil
}

// GetLibraries returns the server's top-level media folders.
func (c *Client) GetLibraries(ctx context.Context) ([]Library, error) {
	var resp struct {
		Items []Library `json:"Items"`
	}
	if err := c.doGET(ctx, "/Library/MediaFolders", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch libraries: %w", err)
	}
	return resp.Items, nil
}

// GetUsers returns all server accounts.
func (c *Client) GetUsers(ctx context.Context) ([]ProviderUser, error) {
	var users []ProviderUser
	if err := c.doGET(ctx, "/Users", nil, &users); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	return users, nil
}

const itemFields = "Genres,People,ProviderIds,Overview,DateCreated,OfficialRating,CommunityRating,PremiereDate,RunTimeTicks"

func (c *Client) itemsPage(ctx context.Context, libraryID, itemTypes string, startIndex, limit int) (itemsResponse, error) {
	q := url.Values{}
	q.Set("Recursive", "true")
	q.Set("IncludeItemTypes", itemTypes)
	q.Set("ParentId", libraryID)
	q.Set("StartIndex", fmt.Sprintf("%d", startIndex))
	q.Set("Limit", fmt.Sprintf("%d", limit))
	q.Set("Fields", itemFields)
	q.Set("SortBy", "SortName")
	q.Set("SortOrder", "Ascending")

	var resp itemsResponse
	if err := c.doGET(ctx, "/Items", q, &resp); err != nil {
		return itemsResponse{}, err
	}
	return resp, nil
}

// GetItemCount returns the total number of items of a type in a library
// without fetching any item payloads.
func (c *Client) GetItemCount(ctx context.Context, libraryID, itemTypes string) (int, error) {
	resp, err := c.itemsPage(ctx, libraryID, itemTypes, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("count %s items: %w", itemTypes, err)
	}
	return resp.TotalRecordCount, nil
}

// GetSeriesPage fetches one page of series from a library.
func (c *Client) GetSeriesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Series, int, error) {
	resp, err := c.itemsPage(ctx, libraryID, "Series", startIndex, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch series page at %d: %w", startIndex, err)
	}
	out := make([]models.Series, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, c.mapSeries(it))
	}
	return out, resp.TotalRecordCount, nil
}

// GetMoviesPage fetches one page of movies from a library.
func (c *Client) GetMoviesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Movie, int, error) {
	resp, err := c.itemsPage(ctx, libraryID, "Movie", startIndex, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch movies page at %d: %w", startIndex, err)
	}
	out := make([]models.Movie, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, c.mapMovie(it))
	}
	return out, resp.TotalRecordCount, nil
}

// GetEpisodesPage fetches one page of episodes from a library.
func (c *Client) GetEpisodesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Episode, int, error) {
	resp, err := c.itemsPage(ctx, libraryID, "Episode", startIndex, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch episodes page at %d: %w", startIndex, err)
	}
	out := make([]models.Episode, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, c.mapEpisode(it))
	}
	return out, resp.TotalRecordCount, nil
}

// GetWatchHistory returns played movies and episodes for a user within
// one library. A nil since fetches everything (full sync); otherwise
// only items whose state changed after the timestamp are returned.
func (c *Client) GetWatchHistory(ctx context.Context, jellyfinUserID, libraryID string, since *time.Time) ([]WatchedItem, error) {
	q := url.Values{}
	q.Set("Recursive", "true")
	q.Set("IncludeItemTypes", "Movie,Episode")
	q.Set("Filters", "IsPlayed")
	q.Set("ParentId", libraryID)
	q.Set("Fields", "ProviderIds")
	if since != nil {
		q.Set("MinDateLastSaved", since.UTC().Format(time.RFC3339))
	}

	var resp itemsResponse
	if err := c.doGET(ctx, "/Users/"+url.PathEscape(jellyfinUserID)+"/Items", q, &resp); err != nil {
		return nil, fmt.Errorf("fetch watch history: %w", err)
	}

	out := make([]WatchedItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.UserData == nil || !it.UserData.Played {
			continue
		}
		w := WatchedItem{
			ItemID:       it.ID,
			SeriesID:     it.SeriesID,
			LibraryID:    libraryID,
			PlayCount:    it.UserData.PlayCount,
			IsFavorite:   it.UserData.IsFavorite,
			LastPlayedAt: it.UserData.LastPlayedDate,
		}
		switch it.Type {
		case "Movie":
			w.ItemType = "movie"
		case "Episode":
			w.ItemType = "episode"
		default:
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// PosterURL builds the primary image URL for an item.
func (c *Client) PosterURL(itemID, imageTag string) string {
	if imageTag == "" {
		return ""
	}
	base, _ := c.creds()
	return fmt.Sprintf("%s/Items/%s/Images/Primary?tag=%s&quality=90", base, itemID, imageTag)
}

// BackdropURL builds the backdrop image URL for an item.
func (c *Client) BackdropURL(itemID, imageTag string) string {
	if imageTag == "" {
		return ""
	}
	base, _ := c.creds()
	return fmt.Sprintf("%s/Items/%s/Images/Backdrop?tag=%s&quality=90", base, itemID, imageTag)
}

func (c *Client) mapSeries(it item) models.Series {
	s := models.Series{
		ID:              it.ID,
		Name:            it.Name,
		NormalizedName:  models.NormalizeTitle(it.Name),
		ProductionYear:  it.ProductionYear,
		Overview:        it.Overview,
		Genres:          it.Genres,
		OfficialRating:  it.OfficialRating,
		CommunityRating: it.CommunityRating,
		IMDBID:          it.ProviderIDs["Imdb"],
		TMDBID:          it.ProviderIDs["Tmdb"],
		TVDBID:          it.ProviderIDs["Tvdb"],
		PosterURL:       c.PosterURL(it.ID, it.ImageTags["Primary"]),
		DateCreated:     it.DateCreated,
	}
	if len(it.BackdropTags) > 0 {
		s.BackdropURL = c.BackdropURL(it.ID, it.BackdropTags[0])
	}
	s.People = mapPeople(it)
	return s
}

func (c *Client) mapMovie(it item) models.Movie {
	m := models.Movie{
		ID:              it.ID,
		Name:            it.Name,
		NormalizedName:  models.NormalizeTitle(it.Name),
		ProductionYear:  it.ProductionYear,
		Overview:        it.Overview,
		Genres:          it.Genres,
		OfficialRating:  it.OfficialRating,
		CommunityRating: it.CommunityRating,
		RuntimeMinutes:  ticksToMinutes(it.RunTimeTicks),
		IMDBID:          it.ProviderIDs["Imdb"],
		TMDBID:          it.ProviderIDs["Tmdb"],
		TVDBID:          it.ProviderIDs["Tvdb"],
		PosterURL:       c.PosterURL(it.ID, it.ImageTags["Primary"]),
		DateCreated:     it.DateCreated,
	}
	if len(it.BackdropTags) > 0 {
		m.BackdropURL = c.BackdropURL(it.ID, it.BackdropTags[0])
	}
	m.People = mapPeople(it)
	return m
}

func (c *Client) mapEpisode(it item) models.Episode {
	e := models.Episode{
		ID:              it.ID,
		SeriesID:        it.SeriesID,
		Name:            it.Name,
		Overview:        it.Overview,
		CommunityRating: it.CommunityRating,
		RuntimeMinutes:  ticksToMinutes(it.RunTimeTicks),
		PremiereDate:    it.PremiereDate,
		PosterURL:       c.PosterURL(it.ID, it.ImageTags["Primary"]),
	}
	if it.IndexNumber != nil {
		e.EpisodeNumber = *it.IndexNumber
	}
	if it.ParentIndex != nil {
		e.SeasonNumber = *it.ParentIndex
	}
	return e
}

func mapPeople(it item) []models.Person {
	if len(it.People) == 0 {
		return nil
	}
	people := make([]models.Person, 0, len(it.People))
	for _, p := range it.People {
		people = append(people, models.Person{Name: p.Name, Role: p.Role, Type: p.Type})
	}
	return people
}

// ticksToMinutes converts the server's 100ns ticks to whole minutes.
func ticksToMinutes(ticks int64) int {
	return int(ticks / 600_000_000)
}
