package pokemon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/trivia/go/internal/content/base"
)

func pokeServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/pokemon" && r.URL.Query().Get("offset") == "0":
			fmt.Fprintf(w, `{"count":3,"next":"%[1]s/pokemon?offset=2&limit=2","results":[
				{"name":"bulbasaur","url":"%[1]s/pokemon/1/"},
				{"name":"missingno","url":"%[1]s/pokemon/0/"}]}`, srv.URL)
		case r.URL.Path == "/pokemon":
			fmt.Fprintf(w, `{"count":3,"next":null,"results":[{"name":"ivysaur","url":"%s/pokemon/2/"}]}`, srv.URL)
		case r.URL.Path == "/pokemon/1/":
			fmt.Fprint(w, `{"id":1,"name":"bulbasaur","sprites":{"front_default":"https://sprites/1.png"},
				"types":[{"slot":1,"type":{"name":"grass"}},{"slot":2,"type":{"name":"poison"}}],
				"abilities":[{"ability":{"name":"overgrow"}}]}`)
		case r.URL.Path == "/pokemon/2/":
			fmt.Fprint(w, `{"id":2,"name":"ivysaur","sprites":{"front_default":null,"other":{"official-artwork":{"front_default":"https://art/2.png"}}},
				"types":[],"abilities":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchItemsWalksPages(t *testing.T) {
	srv := pokeServer(t)
	s := &Source{}
	if err := s.Init(base.SourceConfig{BaseURL: srv.URL, PageSize: 2, RequestDelay: time.Nanosecond}); err != nil {
		t.Fatalf("init: %v", err)
	}

	items, err := s.FetchItems(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 3 bulbasaur items and 1 ivysaur item, got %d", len(items))
	}
	if items[0].Question != NameQuestion || items[0].Answer != `["bulbasaur"]` || items[0].ImageURL != "https://sprites/1.png" {
		t.Errorf("unexpected name item %+v", items[0])
	}
	if items[1].Answer != `["grass","poison"]` || !strings.Contains(items[1].Question, "bulbasaur") {
		t.Errorf("unexpected type item %+v", items[1])
	}
	if items[3].ExternalID != "2:name" || items[3].ImageURL != "https://art/2.png" {
		t.Errorf("expected artwork fallback for ivysaur, got %+v", items[3])
	}
}

func TestFetchItemsHonoursLimit(t *testing.T) {
	srv := pokeServer(t)
	s := &Source{}
	if err := s.Init(base.SourceConfig{BaseURL: srv.URL, PageSize: 2, Limit: 1, RequestDelay: time.Nanosecond}); err != nil {
		t.Fatalf("init: %v", err)
	}
	items, err := s.FetchItems(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected only bulbasaur's 3 items, got %d", len(items))
	}
}
