package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"kanon/internal/errclass"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("mangadex", server.URL, 5*time.Second, NewCache(time.Minute), zerolog.Nop())
	return client, server
}

func TestSearchByTitleParsesCandidates(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("title") != "Berserk" {
			t.Errorf("unexpected title query: %q", r.URL.Query().Get("title"))
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected limit query: %q", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"id":"abc-123","title":"Berserk","year":1989},
			{"id":"","title":"missing id"},
			{"id":"def-456","title":""}
		]}`))
	}))

	candidates, err := client.SearchByTitle(context.Background(), "Berserk", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected incomplete results dropped, got %d candidates", len(candidates))
	}
	if candidates[0].ProviderID != "abc-123" || candidates[0].Year != 1989 {
		t.Fatalf("unexpected candidate: %+v", candidates[0])
	}
}

func TestSearchByTitleBlankQuery(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("blank query must not reach the provider")
	}))

	candidates, err := client.SearchByTitle(context.Background(), "   ", 5)
	if err != nil || candidates != nil {
		t.Fatalf("expected empty verdict, got %v / %v", candidates, err)
	}
}

func TestGetByIDErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   errclass.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, errclass.KindTransient},
		{"not found", http.StatusNotFound, errclass.KindNotFound},
		{"upstream broken", http.StatusBadGateway, errclass.KindTransient},
		{"rejected", http.StatusForbidden, errclass.KindPermanent},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))

			_, err := client.GetByID(context.Background(), "abc-123")
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got := errclass.KindOf(err); got != tc.want {
				t.Fatalf("unexpected kind: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestGetByIDUsesCache(t *testing.T) {
	t.Parallel()

	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc-123","title":"Berserk"}`))
	}))

	for i := 0; i < 3; i++ {
		candidate, err := client.GetByID(context.Background(), "abc-123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if candidate.Title != "Berserk" {
			t.Fatalf("unexpected candidate: %+v", candidate)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single live call, got %d", calls)
	}
}

func TestGetByIDEmptyID(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := client.GetByID(context.Background(), "  ")
	if errclass.KindOf(err) != errclass.KindNotFound {
		t.Fatalf("expected not-found for empty id, got %v", err)
	}
}

func TestExtractIDFromURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{"https://mangadex.org/title/abc-123/solo-leveling", "abc-123"},
		{"https://site.example/manga/42", "42"},
		{"https://site.example/series/xyz", "xyz"},
		{"https://site.example/comic/777/chapter/1", "777"},
		{"https://site.example/about", ""},
		{"not a url", ""},
		{"", ""},
		{"https://site.example/title/", ""},
	}

	for _, tc := range cases {
		if got := ExtractIDFromURL(tc.raw); got != tc.want {
			t.Fatalf("ExtractIDFromURL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
