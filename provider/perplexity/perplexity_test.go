package perplexity_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/curator/models"
)

func chatResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
	}
}

func TestRankParsesSelections(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(chatResponse(
			"```json\n[{\"id\":\"01\",\"I\":4,\"N\":3,\"D\":4,\"S\":2,\"U\":5,\"score\":58}]\n```",
		))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "sonar-pro", "embed-model", time.Second)
	selections, err := c.Rank(context.Background(), []models.ShortlistItem{{ShortlistID: "01", Title: "headline"}}, nil, 3)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(selections) != 1 {
		t.Fatalf("got %d selections, want 1", len(selections))
	}
	sel := selections[0]
	if sel.ShortlistID != "01" || sel.Impact != 4 || sel.Underserved != 5 || sel.CompositeScore != 58 {
		t.Fatalf("parsed selection = %+v", sel)
	}
}

func TestRankRejectsNonArrayResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("I would pick the typhoon story."))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "sonar-pro", "embed-model", time.Second)
	if _, err := c.Rank(context.Background(), []models.ShortlistItem{{ShortlistID: "01"}}, nil, 3); err == nil {
		t.Fatalf("prose response must be a parse failure")
	}
}

func TestRankSurfacesHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "sonar-pro", "embed-model", time.Second)
	if _, err := c.Rank(context.Background(), []models.ShortlistItem{{ShortlistID: "01"}}, nil, 3); err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}

func TestCreateEmbeddingCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "sonar-pro", "embed-model", time.Second)
	if _, err := c.CreateEmbedding(context.Background(), []string{"one", "two"}); err == nil {
		t.Fatalf("expected error when vector count disagrees with input")
	}

	vectors, err := c.CreateEmbedding(context.Background(), []string{"one"})
	if err != nil {
		t.Fatalf("CreateEmbedding: %v", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != 2 {
		t.Fatalf("vectors = %v", vectors)
	}
}

func TestStripJSONFence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"[1,2]", "[1,2]"},
		{"```json\n[1,2]\n```", "[1,2]"},
		{"```\n[1,2]\n```", "[1,2]"},
		{"  [1,2]  ", "[1,2]"},
	}
	for _, tc := range cases {
		if got := stripJSONFence(tc.in); got != tc.want {
			t.Fatalf("stripJSONFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
