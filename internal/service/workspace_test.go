package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"go.uber.org/zap"
)

func TestWorkspaceLoadAll(t *testing.T) {
	backend := newTableBackend()
	backend.seed(service.TableTickets, map[string]any{"id": "t1", "title": "A"}, map[string]any{"id": "t2", "title": "B"})
	backend.seed(service.TableUsers, map[string]any{"id": "u1", "name": "Ana"})
	backend.hook = func(method, table string) error {
		if table == service.TableLeads {
			return &domain.ErrBackend{Status: 500, Message: "leads down"}
		}
		return nil
	}
	c := newTestCatalog(backend, &fakeProfiles{})
	ws := service.NewWorkspace(c, 2, zap.NewNop())
	if ws.Ready() {
		t.Fatal("workspace must not be ready before LoadAll")
	}

	if err := ws.LoadAll(context.Background()); err != nil {
		t.Fatalf("read failures must not fail LoadAll, got %v", err)
	}
	if !ws.Ready() {
		t.Error("expected ready after LoadAll")
	}
	status := ws.Status()
	if status[service.TableTickets].Items != 2 || status[service.TableUsers].Items != 1 {
		t.Errorf("unexpected counts: %+v", status)
	}
	if status[service.TableLeads].Error == "" {
		t.Error("expected the leads failure in the leads store")
	}
	if status[service.TableTickets].Error != "" || status[service.TableTickets].Loading {
		t.Errorf("expected settled tickets store, got %+v", status[service.TableTickets])
	}
	if len(ws.Tables()) != 8 {
		t.Errorf("expected 8 tables, got %v", ws.Tables())
	}
}

func TestWorkspaceLoadAll_Cancelled(t *testing.T) {
	c := newTestCatalog(newTableBackend(), &fakeProfiles{})
	ws := service.NewWorkspace(c, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ws.LoadAll(ctx); err == nil {
		t.Error("expected cancellation error")
	}
	if ws.Ready() {
		t.Error("cancelled load must not mark the workspace ready")
	}
}

func TestWorkspaceMenuTree(t *testing.T) {
	backend := newTableBackend()
	backend.seed(service.TableMenuItems,
		map[string]any{"id": "home", "name": "Início", "order_index": 0, "is_active": true},
		map[string]any{"id": "admin", "name": "Admin", "order_index": 9, "is_active": true, "roles": []string{"admin"}},
		map[string]any{"id": "users", "name": "Usuários", "parent_id": "admin", "order_index": 1, "is_active": true},
		map[string]any{"id": "crm", "name": "CRM", "order_index": 2, "is_active": true, "roles": []string{"gestor"}},
		map[string]any{"id": "leads", "name": "Leads", "parent_id": "crm", "order_index": 2, "is_active": true},
		map[string]any{"id": "pipeline", "name": "Funil", "parent_id": "crm", "order_index": 1, "is_active": true},
		map[string]any{"id": "old", "name": "Antigo", "order_index": 3, "is_active": false},
		map[string]any{"id": "old-child", "name": "Filho", "parent_id": "old", "order_index": 1, "is_active": true},
	)
	c := newTestCatalog(backend, &fakeProfiles{})
	ws := service.NewWorkspace(c, 0, zap.NewNop())
	if err := ws.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	ids := func(nodes []*domain.MenuItem) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, n.ID)
		}
		return out
	}

	manager := ws.MenuTree([]string{domain.RoleManager})
	if got := ids(manager); len(got) != 2 || got[0] != "home" || got[1] != "crm" {
		t.Fatalf("expected [home crm], got %v", got)
	}
	if got := ids(manager[1].Children); len(got) != 2 || got[0] != "pipeline" || got[1] != "leads" {
		t.Errorf("expected children sorted [pipeline leads], got %v", got)
	}

	admin := ws.MenuTree([]string{domain.RoleAdmin})
	if got := ids(admin); len(got) != 3 || got[2] != "admin" {
		t.Errorf("expected [home crm admin], got %v", got)
	}
	for _, n := range admin {
		if n.ID == "old" || n.ID == "old-child" {
			t.Errorf("inactive branch leaked: %s", n.ID)
		}
	}

	user := ws.MenuTree([]string{domain.RoleUser})
	if got := ids(user); len(got) != 1 || got[0] != "home" {
		t.Errorf("expected [home], got %v", got)
	}
}
