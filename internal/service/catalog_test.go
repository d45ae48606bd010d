package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"
	"github.com/boddenberg/atas-admin-go/internal/service"
)

func seedStatuses(b *tableBackend, scope string) {
	b.seed(service.TableStatuses,
		map[string]any{"id": "st-open", "scope": scope, "name": "Aberto", "order_index": 1, "is_default": false},
		map[string]any{"id": "st-triage", "scope": scope, "name": "Triagem", "order_index": 2, "is_default": true},
	)
}

func TestTicketCreate_FillsDefaults(t *testing.T) {
	backend := newTableBackend()
	seedStatuses(backend, service.TableTickets)
	profiles := &fakeProfiles{user: &domain.UserRef{ID: "u-1", Name: "Ana"}}
	c := newTestCatalog(backend, profiles)

	created, err := c.Tickets.Store.Create(context.Background(), domain.Ticket{Title: "Trocar monitor"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if created.StatusID != "st-triage" {
		t.Errorf("expected default status st-triage, got %q", created.StatusID)
	}
	if created.Priority != domain.PriorityNormal {
		t.Errorf("expected NORMAL priority, got %q", created.Priority)
	}
	if created.CreatedByID != "u-1" {
		t.Errorf("expected creator u-1, got %q", created.CreatedByID)
	}
	if got := c.Tickets.Store.Items(); len(got) != 1 || got[0].ID != created.ID {
		t.Errorf("expected created ticket in store, got %+v", got)
	}
}

func TestTicketCreate_KeepsExplicitValues(t *testing.T) {
	backend := newTableBackend()
	seedStatuses(backend, service.TableTickets)
	c := newTestCatalog(backend, &fakeProfiles{user: &domain.UserRef{ID: "u-1"}})

	created, err := c.Tickets.Store.Create(context.Background(), domain.Ticket{
		Title:    "Urgente",
		StatusID: "st-open",
		Priority: domain.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if created.StatusID != "st-open" || created.Priority != domain.PriorityUrgent {
		t.Errorf("explicit values overwritten: %+v", created)
	}
}

func TestTicketCreate_RequiresTitleAndStatus(t *testing.T) {
	backend := newTableBackend()
	c := newTestCatalog(backend, &fakeProfiles{user: &domain.UserRef{ID: "u-1"}})
	ctx := context.Background()

	var validation *domain.ErrValidation
	if _, err := c.Tickets.Store.Create(ctx, domain.Ticket{}); !errors.As(err, &validation) || validation.Field != "title" {
		t.Errorf("expected title validation error, got %v", err)
	}
	// No status configured for the scope.
	if _, err := c.Tickets.Store.Create(ctx, domain.Ticket{Title: "x"}); !errors.As(err, &validation) || validation.Field != "statusId" {
		t.Errorf("expected statusId validation error, got %v", err)
	}
	if n := backend.count("insert tickets"); n != 0 {
		t.Errorf("expected no insert, got %d", n)
	}
	if c.Tickets.Store.Snapshot().Error == "" {
		t.Error("expected write error recorded in store")
	}
}

func TestTicketCreate_NoProfile(t *testing.T) {
	backend := newTableBackend()
	seedStatuses(backend, service.TableTickets)
	c := newTestCatalog(backend, &fakeProfiles{})

	_, err := c.Tickets.Store.Create(context.Background(), domain.Ticket{Title: "x"})
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTicketUpdate_RejectsUnknownPriority(t *testing.T) {
	backend := newTableBackend()
	c := newTestCatalog(backend, &fakeProfiles{user: &domain.UserRef{ID: "u-1"}})

	_, err := c.Tickets.Store.Update(context.Background(), "t-1", entity.Patch{"priority": "CRITICA"})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) || validation.Field != "priority" {
		t.Fatalf("expected priority validation error, got %v", err)
	}
}

func TestAdmissionCreate_UsesOwnScope(t *testing.T) {
	backend := newTableBackend()
	seedStatuses(backend, service.TableTickets)
	backend.seed(service.TableStatuses, map[string]any{"id": "adm-1", "scope": service.TableAdmissions, "name": "Docs", "order_index": 1})
	c := newTestCatalog(backend, &fakeProfiles{user: &domain.UserRef{ID: "u-1"}})

	created, err := c.Admissions.Store.Create(context.Background(), domain.Admission{Name: "Maria"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// No default flagged: the lowest order of the scope is used.
	if created.StatusID != "adm-1" {
		t.Errorf("expected adm-1, got %q", created.StatusID)
	}
}

func TestCatalog_NoFeedMeansNoReconcilers(t *testing.T) {
	c := newTestCatalog(newTableBackend(), &fakeProfiles{})
	if c.Tickets.Reconciler != nil {
		t.Error("expected no reconciler without a change feed")
	}
	if got := c.Subscriptions.Active(); len(got) != 0 {
		t.Errorf("expected no active subscriptions, got %v", got)
	}
}
