package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestShadowClient_Load(t *testing.T) {
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("token_v2"); err == nil && c.Value == "secret" {
			sawCookie = true
		}
		switch r.URL.Path {
		case "/loadPageChunk":
			_, _ = w.Write([]byte(`{
				"recordMap": {
					"block": {
						"aaaa": {"role": "reader", "value": {"id": "11111111-1111-1111-1111-111111111111", "type": "page", "content": ["22222222-2222-2222-2222-222222222222"]}},
						"bbbb": {"value": {"value": {"id": "22222222-2222-2222-2222-222222222222", "type": "collection_view", "collection_id": "33333333-3333-3333-3333-333333333333", "view_ids": ["44444444-4444-4444-4444-444444444444"]}, "role": "reader"}}
					},
					"collection": {
						"cccc": {"value": {"id": "33333333-3333-3333-3333-333333333333", "name": [["Case "], ["Studies", [["b"]]]], "schema": {"title": {"name": "Name", "type": "title"}}}}
					},
					"collection_view": {
						"dddd": {"value": {"id": "44444444-4444-4444-4444-444444444444", "type": "gallery", "page_sort": ["row-b", "row-a"]}}
					}
				},
				"cursor": {"stack": []}
			}`))
		case "/queryCollection":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			_, _ = w.Write([]byte(`{
				"result": {"reducerResults": {"collection_group_results": {"blockIds": ["row-a", "row-b"]}}},
				"recordMap": {"block": {"eeee": {"value": {"id": "row-a", "type": "page"}}}}
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewShadowClient(srv.URL, "secret", nil)
	bundle, err := client.Load(context.Background(), "11111111111111111111111111111111")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !sawCookie {
		t.Error("token_v2 cookie was not sent")
	}
	if b := bundle.Block("22222222222222222222222222222222"); b == nil || b.Type != "collection_view" {
		t.Fatalf("doubly wrapped block not decoded: %#v", b)
	}
	if got := bundle.Collection("33333333-3333-3333-3333-333333333333").Title(); got != "Case Studies" {
		t.Errorf("collection title = %q", got)
	}
	rows := bundle.RowIDs("33333333333333333333333333333333", "44444444444444444444444444444444")
	if len(rows) != 2 || rows[0] != "row-a" {
		t.Errorf("RowIDs() = %v, want query order [row-a row-b]", rows)
	}
	if bundle.Block("row-a") == nil {
		t.Error("rows from the query record map should be merged")
	}
}

func TestShadowBundle_RowIDsFallsBackToPageSort(t *testing.T) {
	bundle := NewShadowBundle()
	bundle.Views["44444444444444444444444444444444"] = &ShadowView{PageSort: []string{"x", "y"}}

	rows := bundle.RowIDs("33333333333333333333333333333333", "44444444-4444-4444-4444-444444444444")
	if len(rows) != 2 || rows[0] != "x" {
		t.Errorf("RowIDs() = %v, want page_sort", rows)
	}
}

func TestShadowClient_LoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("token", nil, WithShadow(NewShadowClient(srv.URL, "", nil)))
	if bundle := c.GetShadowBundle(context.Background(), "11111111111111111111111111111111"); bundle != nil {
		t.Errorf("GetShadowBundle() = %v, want nil on failure", bundle)
	}
}

func TestDecodeShadowText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"segments", []any{[]any{"Book "}, []any{"now", []any{[]any{"b"}}}}, "Book now"},
		{"string", "plain", "plain"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeShadowText(tt.in); got != tt.want {
				t.Errorf("DecodeShadowText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShadowClient_SharesClientLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"recordMap": {"block": {"a": {"value": {"id": "11111111-1111-1111-1111-111111111111", "type": "page"}}}}, "cursor": {"stack": []}}`))
	}))
	defer srv.Close()

	limiter := NewRateLimiter(1000, 10)
	shadow := NewShadowClient(srv.URL, "", nil)
	c := NewClient("token", nil, WithRateLimiter(limiter), WithBackoff(80*time.Millisecond), WithShadow(shadow))
	if shadow.limiter != limiter {
		t.Fatal("record-map client does not use the API limiter")
	}

	if bundle := c.GetShadowBundle(context.Background(), "11111111111111111111111111111111"); bundle != nil {
		t.Fatal("expected nil bundle after a 429")
	}

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Errorf("a 429 on the record-map channel should pause API calls, waited %v", waited)
	}

	if bundle := c.GetShadowBundle(context.Background(), "11111111111111111111111111111111"); bundle == nil {
		t.Error("expected a bundle once the pause is over")
	}
}
