package mdblist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

type fakeErrorLog struct {
	recent bool
	logged []string // kinds, in call order
}

func (f *fakeErrorLog) HasRecentSimilarError(ctx context.Context, source, kind string, statusCode int, window time.Duration) (bool, error) {
	return f.recent, nil
}

func (f *fakeErrorLog) LogAPIError(ctx context.Context, source, kind string, statusCode int, message string) error {
	f.logged = append(f.logged, kind)
	return nil
}

// newTestClient returns a client with the tier pre-resolved to
// supporter so tests run on the short request interval and never hit
// the user-info endpoint.
func newTestClient(errorLog ErrorLog, rt roundTripFunc) *Client {
	c := NewClient("test-key", time.Hour, errorLog)
	c.httpClient.Transport = rt
	c.supporter = true
	c.tierChecked = time.Now()
	return c
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestGetMediaBatch(t *testing.T) {
	c := newTestClient(nil, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasPrefix(req.URL.Path, "/imdb/movie") {
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if req.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("apikey = %q", req.URL.Query().Get("apikey"))
		}
		var body struct {
			IDs    []string `json:"ids"`
			Append []string `json:"append_to_response"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if len(body.IDs) != 2 || body.IDs[0] != "tt0111161" {
			t.Errorf("ids = %v", body.IDs)
		}
		if len(body.Append) != 2 {
			t.Errorf("append_to_response = %v", body.Append)
		}
		return jsonResponse(http.StatusOK, `[
			{"imdbid": "tt0111161", "title": "The Shawshank Redemption",
			 "ratings": [{"source": "imdb", "value": 9.3}, {"source": "metacritic", "value": null}],
			 "keyword": [{"id": 1, "name": "prison"}],
			 "streams": [{"id": 8, "name": "Netflix"}]}
		]`), nil
	})

	infos, err := c.GetMediaBatch(context.Background(), "movie", []string{"tt0111161", "tt0068646"})
	if err != nil {
		t.Fatalf("GetMediaBatch failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d infos, want 1 (unmatched ids are absent)", len(infos))
	}

	info := infos[0]
	if info.IMDBID != "tt0111161" {
		t.Errorf("IMDBID = %q", info.IMDBID)
	}
	if len(info.Ratings) != 2 || info.Ratings[0].Value == nil || *info.Ratings[0].Value != 9.3 {
		t.Errorf("ratings = %+v", info.Ratings)
	}
	if info.Ratings[1].Value != nil {
		t.Error("null rating decoded as non-nil")
	}
	if len(info.Keywords) != 1 || info.Keywords[0].Name != "prison" {
		t.Errorf("keywords = %+v", info.Keywords)
	}
	if len(info.Streams) != 1 || info.Streams[0].Name != "Netflix" {
		t.Errorf("streams = %+v", info.Streams)
	}
}

func TestGetMediaBatchSizeLimit(t *testing.T) {
	c := newTestClient(nil, func(req *http.Request) (*http.Response, error) {
		t.Fatal("oversized batch must not reach the network")
		return nil, nil
	})

	ids := make([]string, BatchMax+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("tt%07d", i)
	}
	if _, err := c.GetMediaBatch(context.Background(), "movie", ids); err == nil {
		t.Fatal("expected error for batch above the provider maximum")
	}

	// An empty batch is a no-op, not an error.
	infos, err := c.GetMediaBatch(context.Background(), "movie", nil)
	if err != nil || infos != nil {
		t.Fatalf("empty batch: infos=%v err=%v", infos, err)
	}
}

func TestRequestNotConfigured(t *testing.T) {
	c := NewClient("", time.Hour, nil)
	if c.Configured() {
		t.Error("keyless client reports configured")
	}
	if _, err := c.GetMedia(context.Background(), "movie", "tt0111161"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRequestRetriesRateLimit(t *testing.T) {
	errorLog := &fakeErrorLog{}
	calls := 0
	c := newTestClient(errorLog, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := jsonResponse(http.StatusTooManyRequests, "")
			resp.Header.Set("Retry-After", "1")
			return resp, nil
		}
		return jsonResponse(http.StatusOK, `{"imdbid": "tt0111161", "title": "x"}`), nil
	})

	start := time.Now()
	info, err := c.GetMedia(context.Background(), "movie", "tt0111161")
	if err != nil {
		t.Fatalf("GetMedia failed: %v", err)
	}
	if info == nil || info.IMDBID != "tt0111161" {
		t.Fatalf("info = %+v", info)
	}
	if calls != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("retried after %s, want >= Retry-After of 1s", elapsed)
	}
	if len(errorLog.logged) != 1 || errorLog.logged[0] != "rate_limit" {
		t.Errorf("error log = %v", errorLog.logged)
	}
}

func TestRequestClientErrorIsNonFatal(t *testing.T) {
	errorLog := &fakeErrorLog{}
	calls := 0
	c := newTestClient(errorLog, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusNotFound, `{"error": "not found"}`), nil
	})

	info, err := c.GetMedia(context.Background(), "movie", "tt0000000")
	if err != nil {
		t.Fatalf("4xx must not surface as error, got: %v", err)
	}
	if info != nil {
		t.Fatalf("info = %+v, want nil", info)
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1", calls)
	}
	if len(errorLog.logged) != 1 || errorLog.logged[0] != "request_failed" {
		t.Errorf("error log = %v", errorLog.logged)
	}
}

func TestLogDedupedSkipsRecentErrors(t *testing.T) {
	errorLog := &fakeErrorLog{recent: true}
	c := newTestClient(errorLog, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, ""), nil
	})

	if _, err := c.GetMedia(context.Background(), "movie", "tt0000000"); err != nil {
		t.Fatalf("GetMedia failed: %v", err)
	}
	if len(errorLog.logged) != 0 {
		t.Errorf("logged %v despite a recent similar error", errorLog.logged)
	}
}

func TestGetMediaNoMatch(t *testing.T) {
	c := newTestClient(nil, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})
	info, err := c.GetMedia(context.Background(), "movie", "tt9999999")
	if err != nil || info != nil {
		t.Fatalf("info=%+v err=%v, want nil/nil for an unmatched id", info, err)
	}
}

func TestTierRefresh(t *testing.T) {
	c := NewClient("test-key", time.Hour, nil)
	c.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/user" {
			t.Errorf("tier refresh hit %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"patron_status": "active_patron"}`), nil
	})

	if d := c.currentDelay(context.Background()); d != supporterDelay {
		t.Errorf("delay = %s, want supporter delay %s", d, supporterDelay)
	}
	// Cached within the TTL; the transport would fail the test if hit
	// with a second /user call after mutating it.
	c.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Error("tier refreshed again inside TTL")
		return jsonResponse(http.StatusOK, `{}`), nil
	})
	if d := c.currentDelay(context.Background()); d != supporterDelay {
		t.Errorf("cached delay = %s, want %s", d, supporterDelay)
	}

	// Swapping the key invalidates the cache back to the free tier.
	c.UpdateAPIKey("other-key")
	c.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"patron_status": "former_patron"}`), nil
	})
	if d := c.currentDelay(context.Background()); d != freeDelay {
		t.Errorf("delay after key swap = %s, want free delay %s", d, freeDelay)
	}
}

func TestWaitTurnSpacesRequests(t *testing.T) {
	c := newTestClient(nil, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.waitTurn(context.Background()); err != nil {
			t.Fatalf("waitTurn failed: %v", err)
		}
	}
	// First call goes through immediately, the next two wait a full
	// interval each.
	if elapsed := time.Since(start); elapsed < 2*supporterDelay {
		t.Errorf("3 turns took %s, want >= %s", elapsed, 2*supporterDelay)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	fallback := 7 * time.Second

	resp := jsonResponse(http.StatusTooManyRequests, "")
	if got := retryAfter(resp, fallback); got != fallback {
		t.Errorf("missing header: got %s, want fallback", got)
	}

	resp.Header.Set("Retry-After", "30")
	if got := retryAfter(resp, fallback); got != 30*time.Second {
		t.Errorf("seconds form: got %s, want 30s", got)
	}

	resp.Header.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
	if got := retryAfter(resp, fallback); got < 80*time.Second || got > 90*time.Second {
		t.Errorf("date form: got %s, want ~90s", got)
	}

	resp.Header.Set("Retry-After", "soon")
	if got := retryAfter(resp, fallback); got != fallback {
		t.Errorf("garbage header: got %s, want fallback", got)
	}
}

func TestBackoffDoubles(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if got := backoff(attempt); got != w {
			t.Errorf("backoff(%d) = %s, want %s", attempt, got, w)
		}
	}
}
