package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arenalab/arenactl/pkg/catalog"
)

func newServer(t *testing.T, handler http.HandlerFunc) *catalog.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return catalog.New(srv.URL + "/api/v1")
}

func TestModules(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/modules" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"modules": [
				{"id":"lemonade-stand","slug":"lemonade-stand","name":"Lemonade Stand","description":"Run a stand for a day","icon":"lemon","category":"business"},
				{"id":"help-desk","slug":"help-desk","name":"Help Desk","description":"Handle support tickets"}
			],
			"count": 2
		}`))
	})

	mods, err := c.Modules(context.Background())
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("got %d modules, want 2", len(mods))
	}
	if mods[0].ID != "lemonade-stand" || mods[0].Name != "Lemonade Stand" || mods[0].Category != "business" {
		t.Errorf("module = %+v", mods[0])
	}
}

func TestAgents(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"agents":[{"id":"scripted","name":"Scripted","provider":"local"}],"count":1}`))
	})

	agents, err := c.Agents(context.Background())
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "scripted" || agents[0].Provider != "local" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestErrorStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "catalog unavailable", http.StatusServiceUnavailable)
	})

	_, err := c.Modules(context.Background())
	if err == nil {
		t.Fatal("no error on 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "catalog unavailable") {
		t.Errorf("err = %v, want status and body in message", err)
	}
}

func TestMalformedResponse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"modules": [`))
	})
	if _, err := c.Modules(context.Background()); err == nil {
		t.Fatal("no error on truncated body")
	}
}

func TestUnreachableServer(t *testing.T) {
	c := catalog.New("http://127.0.0.1:1/api/v1")
	if _, err := c.Modules(context.Background()); err == nil {
		t.Fatal("no error against a dead endpoint")
	}
}
