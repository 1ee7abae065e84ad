package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c := NewClient("http://jellyfin.local:8096", "test-key")
	c.httpClient.Transport = rt
	return c
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestGetMoviesPageMapping(t *testing.T) {
	const body = `{
		"Items": [{
			"Id": "abc123",
			"Name": "The Matrix",
			"Type": "Movie",
			"ProductionYear": 1999,
			"Overview": "A hacker learns the truth.",
			"Genres": ["Action", "Sci-Fi"],
			"OfficialRating": "R",
			"CommunityRating": 8.7,
			"RunTimeTicks": 81600000000,
			"ProviderIds": {"Imdb": "tt0133093", "Tmdb": "603"},
			"ImageTags": {"Primary": "poster-tag"},
			"BackdropImageTags": ["backdrop-tag"],
			"People": [{"Name": "Keanu Reeves", "Role": "Neo", "Type": "Actor"}]
		}],
		"TotalRecordCount": 1
	}`

	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-Emby-Token"); got != "test-key" {
			t.Errorf("X-Emby-Token = %q, want test-key", got)
		}
		q := req.URL.Query()
		if q.Get("IncludeItemTypes") != "Movie" {
			t.Errorf("IncludeItemTypes = %q", q.Get("IncludeItemTypes"))
		}
		if q.Get("StartIndex") != "100" || q.Get("Limit") != "50" {
			t.Errorf("pagination query = %s/%s", q.Get("StartIndex"), q.Get("Limit"))
		}
		return jsonResponse(http.StatusOK, body), nil
	})

	movies, total, err := c.GetMoviesPage(context.Background(), "lib1", 100, 50)
	if err != nil {
		t.Fatalf("GetMoviesPage failed: %v", err)
	}
	if total != 1 || len(movies) != 1 {
		t.Fatalf("got %d movies, total %d", len(movies), total)
	}

	m := movies[0]
	if m.ID != "abc123" || m.Name != "The Matrix" {
		t.Errorf("identity mapping wrong: %+v", m)
	}
	if m.NormalizedName != "the matrix" {
		t.Errorf("NormalizedName = %q", m.NormalizedName)
	}
	if m.RuntimeMinutes != 136 {
		t.Errorf("RuntimeMinutes = %d, want 136", m.RuntimeMinutes)
	}
	if m.IMDBID != "tt0133093" || m.TMDBID != "603" {
		t.Errorf("provider IDs wrong: imdb=%q tmdb=%q", m.IMDBID, m.TMDBID)
	}
	if !strings.Contains(m.PosterURL, "/Items/abc123/Images/Primary?tag=poster-tag") {
		t.Errorf("PosterURL = %q", m.PosterURL)
	}
	if !strings.Contains(m.BackdropURL, "Images/Backdrop?tag=backdrop-tag") {
		t.Errorf("BackdropURL = %q", m.BackdropURL)
	}
	if len(m.People) != 1 || m.People[0].Name != "Keanu Reeves" {
		t.Errorf("People = %+v", m.People)
	}
}

func TestGetEpisodesPageMapping(t *testing.T) {
	const body = `{
		"Items": [{
			"Id": "ep1",
			"SeriesId": "show1",
			"Name": "Pilot",
			"Type": "Episode",
			"IndexNumber": 1,
			"ParentIndexNumber": 2,
			"RunTimeTicks": 27000000000
		}],
		"TotalRecordCount": 1
	}`

	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, body), nil
	})

	episodes, _, err := c.GetEpisodesPage(context.Background(), "lib1", 0, 100)
	if err != nil {
		t.Fatalf("GetEpisodesPage failed: %v", err)
	}
	e := episodes[0]
	if e.SeriesID != "show1" || e.SeasonNumber != 2 || e.EpisodeNumber != 1 {
		t.Errorf("episode keys wrong: %+v", e)
	}
	if e.RuntimeMinutes != 45 {
		t.Errorf("RuntimeMinutes = %d, want 45", e.RuntimeMinutes)
	}
}

func TestDoGETRetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return jsonResponse(http.StatusBadGateway, `{}`), nil
		}
		return jsonResponse(http.StatusOK, `{"Items":[],"TotalRecordCount":0}`), nil
	})

	if _, err := c.GetItemCount(context.Background(), "lib1", "Movie"); err != nil {
		t.Fatalf("GetItemCount failed after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("made %d requests, want 3", calls)
	}
}

func TestDoGETDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusUnauthorized, `{"error":"bad key"}`), nil
	})

	if _, err := c.GetLibraries(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1 (4xx is not retryable)", calls)
	}
}

func TestDoGETNotConfigured(t *testing.T) {
	c := NewClient("", "")
	if c.Configured() {
		t.Error("empty client reports configured")
	}
	if _, err := c.GetLibraries(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want wrapped ErrNotConfigured", err)
	}
}

func TestGetWatchHistoryFiltersAndMaps(t *testing.T) {
	played := time.Date(2026, 2, 10, 20, 0, 0, 0, time.UTC)
	resp := map[string]any{
		"Items": []map[string]any{
			{
				"Id": "m1", "Type": "Movie",
				"UserData": map[string]any{"Played": true, "PlayCount": 3, "IsFavorite": true, "LastPlayedDate": played},
			},
			{
				"Id": "e1", "Type": "Episode", "SeriesId": "show1",
				"UserData": map[string]any{"Played": true, "PlayCount": 1},
			},
			// Returned by the IsPlayed filter edge cases; must be dropped.
			{"Id": "m2", "Type": "Movie", "UserData": map[string]any{"Played": false}},
			{"Id": "m3", "Type": "Movie"},
			{"Id": "x1", "Type": "Audio", "UserData": map[string]any{"Played": true}},
		},
		"TotalRecordCount": 5,
	}
	body, _ := json.Marshal(resp)

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("Filters") != "IsPlayed" {
			t.Errorf("Filters = %q", q.Get("Filters"))
		}
		if got := q.Get("MinDateLastSaved"); got != since.Format(time.RFC3339) {
			t.Errorf("MinDateLastSaved = %q", got)
		}
		if !strings.Contains(req.URL.Path, "/Users/user1/Items") {
			t.Errorf("path = %q", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, string(body)), nil
	})

	items, err := c.GetWatchHistory(context.Background(), "user1", "lib1", &since)
	if err != nil {
		t.Fatalf("GetWatchHistory failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	if items[0].ItemType != "movie" || items[0].PlayCount != 3 || !items[0].IsFavorite {
		t.Errorf("movie mapping wrong: %+v", items[0])
	}
	if items[0].LastPlayedAt == nil || !items[0].LastPlayedAt.Equal(played) {
		t.Errorf("LastPlayedAt = %v", items[0].LastPlayedAt)
	}
	if items[1].ItemType != "episode" || items[1].SeriesID != "show1" {
		t.Errorf("episode mapping wrong: %+v", items[1])
	}
	if items[1].LibraryID != "lib1" {
		t.Errorf("LibraryID = %q", items[1].LibraryID)
	}
}

func TestUpdateCredentials(t *testing.T) {
	c := NewClient("http://old:8096", "old-key")
	c.UpdateCredentials("http://new:8096/", "new-key")
	base, key := c.creds()
	if base != "http://new:8096" || key != "new-key" {
		t.Errorf("creds = %q/%q after update", base, key)
	}
}
