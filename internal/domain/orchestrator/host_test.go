package orchestrator

import "testing"

func TestCatalogResolve(t *testing.T) {
	cat := NewCatalog([]Host{
		{ID: "db-1", Alias: "primary-db", Kind: HostSSH, Address: "10.0.0.1:22"},
		{ID: "web-1", Address: "10.0.0.2:22"}, // no Kind -> defaults to ssh
	})

	t.Run("resolve by id", func(t *testing.T) {
		h, err := cat.Resolve("db-1")
		if err != nil {
			t.Fatalf("Resolve(db-1) error = %v", err)
		}
		if h.Address != "10.0.0.1:22" {
			t.Errorf("Address = %s, want 10.0.0.1:22", h.Address)
		}
	})

	t.Run("resolve by alias", func(t *testing.T) {
		h, err := cat.Resolve("primary-db")
		if err != nil {
			t.Fatalf("Resolve(primary-db) error = %v", err)
		}
		if h.ID != "db-1" {
			t.Errorf("ID = %s, want db-1", h.ID)
		}
	})

	t.Run("missing host kind defaults to ssh", func(t *testing.T) {
		h, err := cat.Resolve("web-1")
		if err != nil {
			t.Fatalf("Resolve(web-1) error = %v", err)
		}
		if h.Kind != HostSSH {
			t.Errorf("Kind = %s, want ssh", h.Kind)
		}
	})

	t.Run("unknown host errors", func(t *testing.T) {
		if _, err := cat.Resolve("nope"); err == nil {
			t.Error("expected error for unknown host, got nil")
		}
	})
}

func TestCatalogListIsDefensiveCopy(t *testing.T) {
	cat := NewCatalog([]Host{{ID: "a"}})
	list := cat.List()
	list[0].ID = "mutated"

	h, err := cat.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve(a) error = %v", err)
	}
	if h.ID != "a" {
		t.Errorf("catalog mutated via List() result: ID = %s, want a", h.ID)
	}
}
