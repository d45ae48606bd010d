// Package service wires the generic sync layer to the concrete entities of
// the administration app and adds the flows that span more than one table:
// status ordering, comments with mentions and attachments, user management
// through edge functions, notifications and the workspace lifecycle.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"
	"github.com/boddenberg/atas-admin-go/internal/infra/cache"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backing tables.
const (
	TableTickets       = "tickets"
	TableAdmissions    = "admissions"
	TableTerminations  = "terminations"
	TableLeads         = "crm_leads"
	TableStatuses      = "statuses"
	TableMenuItems     = "menu_items"
	TableUsers         = "users"
	TableNotifications = "notifications"
	TableComments      = "comments"
	TableAttachments   = "attachments"
)

// ============================================================
// Field mappings
// ============================================================

var userRefMapping = entity.NewMapping(
	entity.Column("id", "id", func(u *domain.UserRef) *string { return &u.ID }),
	entity.Column("name", "name", func(u *domain.UserRef) *string { return &u.Name }),
	entity.Column("email", "email", func(u *domain.UserRef) *string { return &u.Email }),
	entity.Column("roles", "roles", func(u *domain.UserRef) *[]string { return &u.Roles }),
	entity.Column("avatar_url", "avatar", func(u *domain.UserRef) *string { return &u.Avatar }),
	entity.Column("color", "color", func(u *domain.UserRef) *string { return &u.Color }),
)

func userEmbed[T any](alias, domainName, table string, ref func(*T) **domain.UserRef) entity.Field[T] {
	return entity.Nested(alias, domainName, fmt.Sprintf("users!%s_%s_id_fkey", table, alias), ref, userRefMapping)
}

var ticketMapping = entity.NewMapping(
	entity.Column("id", "id", func(t *domain.Ticket) *string { return &t.ID }, entity.ReadOnly),
	entity.Column("number", "number", func(t *domain.Ticket) *int64 { return &t.Number }, entity.ReadOnly),
	entity.Column("title", "title", func(t *domain.Ticket) *string { return &t.Title }),
	entity.Column("description", "description", func(t *domain.Ticket) *string { return &t.Description }),
	entity.Column("ticket_octa", "externalCode", func(t *domain.Ticket) **string { return &t.ExternalCode }, entity.Nullable, entity.OmitZero),
	entity.Column("status_id", "statusId", func(t *domain.Ticket) *string { return &t.StatusID }, entity.OmitZero),
	entity.Column("priority", "priority", func(t *domain.Ticket) *domain.Priority { return &t.Priority }, entity.OmitZero),
	entity.Column("assigned_to_id", "assignedToId", func(t *domain.Ticket) **string { return &t.AssignedToID }, entity.Nullable),
	userEmbed("assigned_to", "assignedTo", TableTickets, func(t *domain.Ticket) **domain.UserRef { return &t.AssignedTo }),
	entity.Column("created_by_id", "createdById", func(t *domain.Ticket) *string { return &t.CreatedByID }, entity.ReadOnly),
	userEmbed("created_by", "createdBy", TableTickets, func(t *domain.Ticket) **domain.UserRef { return &t.CreatedBy }),
	entity.Column("tags", "tags", func(t *domain.Ticket) *[]string { return &t.Tags }, entity.OmitZero),
	entity.Column("due_date", "dueDate", func(t *domain.Ticket) **time.Time { return &t.DueDate }, entity.Nullable),
	entity.Column("is_private", "isPrivate", func(t *domain.Ticket) *bool { return &t.IsPrivate }),
	entity.Column("comment_count", "commentCount", func(t *domain.Ticket) *int { return &t.CommentCount }, entity.ReadOnly),
	entity.Column("attachment_count", "attachmentCount", func(t *domain.Ticket) *int { return &t.AttachmentCount }, entity.ReadOnly),
	entity.Column("created_at", "createdAt", func(t *domain.Ticket) *time.Time { return &t.CreatedAt }, entity.ReadOnly),
	entity.Column("updated_at", "updatedAt", func(t *domain.Ticket) *time.Time { return &t.UpdatedAt }, entity.ReadOnly),
)

var admissionMapping = entity.NewMapping(
	entity.Column("id", "id", func(a *domain.Admission) *string { return &a.ID }, entity.ReadOnly),
	entity.Column("name", "name", func(a *domain.Admission) *string { return &a.Name }),
	entity.Column("document", "document", func(a *domain.Admission) *string { return &a.Document }),
	entity.Column("position", "position", func(a *domain.Admission) *string { return &a.Position }),
	entity.Column("department", "department", func(a *domain.Admission) *string { return &a.Department }),
	entity.Column("start_date", "startDate", func(a *domain.Admission) **time.Time { return &a.StartDate }, entity.Nullable),
	entity.Column("notes", "notes", func(a *domain.Admission) *string { return &a.Notes }),
	entity.Column("status_id", "statusId", func(a *domain.Admission) *string { return &a.StatusID }, entity.OmitZero),
	entity.Column("priority", "priority", func(a *domain.Admission) *domain.Priority { return &a.Priority }, entity.OmitZero),
	entity.Column("assigned_to_id", "assignedToId", func(a *domain.Admission) **string { return &a.AssignedToID }, entity.Nullable),
	userEmbed("assigned_to", "assignedTo", TableAdmissions, func(a *domain.Admission) **domain.UserRef { return &a.AssignedTo }),
	entity.Column("created_by_id", "createdById", func(a *domain.Admission) *string { return &a.CreatedByID }, entity.ReadOnly),
	userEmbed("created_by", "createdBy", TableAdmissions, func(a *domain.Admission) **domain.UserRef { return &a.CreatedBy }),
	entity.Column("tags", "tags", func(a *domain.Admission) *[]string { return &a.Tags }, entity.OmitZero),
	entity.Column("is_private", "isPrivate", func(a *domain.Admission) *bool { return &a.IsPrivate }),
	entity.Column("comment_count", "commentCount", func(a *domain.Admission) *int { return &a.CommentCount }, entity.ReadOnly),
	entity.Column("attachment_count", "attachmentCount", func(a *domain.Admission) *int { return &a.AttachmentCount }, entity.ReadOnly),
	entity.Column("created_at", "createdAt", func(a *domain.Admission) *time.Time { return &a.CreatedAt }, entity.ReadOnly),
	entity.Column("updated_at", "updatedAt", func(a *domain.Admission) *time.Time { return &a.UpdatedAt }, entity.ReadOnly),
)

var terminationMapping = entity.NewMapping(
	entity.Column("id", "id", func(t *domain.Termination) *string { return &t.ID }, entity.ReadOnly),
	entity.Column("name", "name", func(t *domain.Termination) *string { return &t.Name }),
	entity.Column("document", "document", func(t *domain.Termination) *string { return &t.Document }),
	entity.Column("reason", "reason", func(t *domain.Termination) *string { return &t.Reason }),
	entity.Column("last_working_day", "lastWorkingDay", func(t *domain.Termination) **time.Time { return &t.LastWorkingDay }, entity.Nullable),
	entity.Column("notes", "notes", func(t *domain.Termination) *string { return &t.Notes }),
	entity.Column("status_id", "statusId", func(t *domain.Termination) *string { return &t.StatusID }, entity.OmitZero),
	entity.Column("priority", "priority", func(t *domain.Termination) *domain.Priority { return &t.Priority }, entity.OmitZero),
	entity.Column("assigned_to_id", "assignedToId", func(t *domain.Termination) **string { return &t.AssignedToID }, entity.Nullable),
	userEmbed("assigned_to", "assignedTo", TableTerminations, func(t *domain.Termination) **domain.UserRef { return &t.AssignedTo }),
	entity.Column("created_by_id", "createdById", func(t *domain.Termination) *string { return &t.CreatedByID }, entity.ReadOnly),
	userEmbed("created_by", "createdBy", TableTerminations, func(t *domain.Termination) **domain.UserRef { return &t.CreatedBy }),
	entity.Column("tags", "tags", func(t *domain.Termination) *[]string { return &t.Tags }, entity.OmitZero),
	entity.Column("is_private", "isPrivate", func(t *domain.Termination) *bool { return &t.IsPrivate }),
	entity.Column("comment_count", "commentCount", func(t *domain.Termination) *int { return &t.CommentCount }, entity.ReadOnly),
	entity.Column("attachment_count", "attachmentCount", func(t *domain.Termination) *int { return &t.AttachmentCount }, entity.ReadOnly),
	entity.Column("created_at", "createdAt", func(t *domain.Termination) *time.Time { return &t.CreatedAt }, entity.ReadOnly),
	entity.Column("updated_at", "updatedAt", func(t *domain.Termination) *time.Time { return &t.UpdatedAt }, entity.ReadOnly),
)

var leadMapping = entity.NewMapping(
	entity.Column("id", "id", func(l *domain.Lead) *string { return &l.ID }, entity.ReadOnly),
	entity.Column("name", "name", func(l *domain.Lead) *string { return &l.Name }),
	entity.Column("company", "company", func(l *domain.Lead) *string { return &l.Company }),
	entity.Column("email", "email", func(l *domain.Lead) *string { return &l.Email }),
	entity.Column("phone", "phone", func(l *domain.Lead) *string { return &l.Phone }),
	entity.Column("source", "source", func(l *domain.Lead) *string { return &l.Source }),
	entity.Column("estimated_value", "estimatedValue", func(l *domain.Lead) *float64 { return &l.EstimatedValue }),
	entity.Column("status_id", "statusId", func(l *domain.Lead) *string { return &l.StatusID }, entity.OmitZero),
	entity.Column("priority", "priority", func(l *domain.Lead) *domain.Priority { return &l.Priority }, entity.OmitZero),
	entity.Column("assigned_to_id", "assignedToId", func(l *domain.Lead) **string { return &l.AssignedToID }, entity.Nullable),
	userEmbed("assigned_to", "assignedTo", TableLeads, func(l *domain.Lead) **domain.UserRef { return &l.AssignedTo }),
	entity.Column("created_by_id", "createdById", func(l *domain.Lead) *string { return &l.CreatedByID }, entity.ReadOnly),
	userEmbed("created_by", "createdBy", TableLeads, func(l *domain.Lead) **domain.UserRef { return &l.CreatedBy }),
	entity.Column("tags", "tags", func(l *domain.Lead) *[]string { return &l.Tags }, entity.OmitZero),
	entity.Column("is_private", "isPrivate", func(l *domain.Lead) *bool { return &l.IsPrivate }),
	entity.Column("comment_count", "commentCount", func(l *domain.Lead) *int { return &l.CommentCount }, entity.ReadOnly),
	entity.Column("created_at", "createdAt", func(l *domain.Lead) *time.Time { return &l.CreatedAt }, entity.ReadOnly),
	entity.Column("updated_at", "updatedAt", func(l *domain.Lead) *time.Time { return &l.UpdatedAt }, entity.ReadOnly),
)

var statusMapping = entity.NewMapping(
	entity.Column("id", "id", func(s *domain.Status) *string { return &s.ID }, entity.ReadOnly),
	entity.Column("scope", "scope", func(s *domain.Status) *string { return &s.Scope }),
	entity.Column("name", "name", func(s *domain.Status) *string { return &s.Name }),
	entity.Column("color", "color", func(s *domain.Status) *string { return &s.Color }),
	entity.Column("order_index", "order", func(s *domain.Status) *int { return &s.Order }),
	entity.Column("is_default", "isDefault", func(s *domain.Status) *bool { return &s.IsDefault }),
	entity.Column("created_at", "createdAt", func(s *domain.Status) *time.Time { return &s.CreatedAt }, entity.ReadOnly),
)

var menuMapping = entity.NewMapping(
	entity.Column("id", "id", func(m *domain.MenuItem) *string { return &m.ID }, entity.ReadOnly),
	entity.Column("name", "name", func(m *domain.MenuItem) *string { return &m.Name }),
	entity.Column("path", "path", func(m *domain.MenuItem) *string { return &m.Path }),
	entity.Column("icon", "icon", func(m *domain.MenuItem) *string { return &m.Icon }),
	entity.Column("parent_id", "parentId", func(m *domain.MenuItem) **string { return &m.ParentID }, entity.Nullable),
	entity.Column("order_index", "orderIndex", func(m *domain.MenuItem) *int { return &m.OrderIndex }),
	entity.Column("is_active", "isActive", func(m *domain.MenuItem) *bool { return &m.IsActive }),
	entity.Column("roles", "roles", func(m *domain.MenuItem) *[]string { return &m.Roles }, entity.OmitZero),
)

var userMapping = entity.NewMapping(
	entity.Column("id", "id", func(u *domain.User) *string { return &u.ID }, entity.ReadOnly),
	entity.Column("auth_user_id", "authUserId", func(u *domain.User) *string { return &u.AuthUserID }, entity.ReadOnly),
	entity.Column("name", "name", func(u *domain.User) *string { return &u.Name }),
	entity.Column("email", "email", func(u *domain.User) *string { return &u.Email }),
	entity.Column("roles", "roles", func(u *domain.User) *[]string { return &u.Roles }),
	entity.Column("avatar_url", "avatar", func(u *domain.User) *string { return &u.Avatar }),
	entity.Column("color", "color", func(u *domain.User) *string { return &u.Color }),
	entity.Column("is_active", "isActive", func(u *domain.User) *bool { return &u.IsActive }),
	entity.Column("created_at", "createdAt", func(u *domain.User) *time.Time { return &u.CreatedAt }, entity.ReadOnly),
)

var notificationMapping = entity.NewMapping(
	entity.Column("id", "id", func(n *domain.Notification) *string { return &n.ID }, entity.ReadOnly),
	entity.Column("user_id", "userId", func(n *domain.Notification) *string { return &n.UserID }),
	entity.Column("type", "kind", func(n *domain.Notification) *string { return &n.Kind }),
	entity.Column("title", "title", func(n *domain.Notification) *string { return &n.Title }),
	entity.Column("message", "message", func(n *domain.Notification) *string { return &n.Message }),
	entity.Column("link", "link", func(n *domain.Notification) *string { return &n.Link }),
	entity.Column("read", "read", func(n *domain.Notification) *bool { return &n.Read }),
	entity.Column("created_at", "createdAt", func(n *domain.Notification) *time.Time { return &n.CreatedAt }, entity.ReadOnly),
)

var attachmentMapping = entity.NewMapping(
	entity.Column("id", "id", func(a *domain.Attachment) *string { return &a.ID }, entity.ReadOnly),
	entity.Column("parent_table", "parentTable", func(a *domain.Attachment) *string { return &a.ParentTable }),
	entity.Column("parent_id", "parentEntityId", func(a *domain.Attachment) *string { return &a.ParentEntityID }),
	entity.Column("comment_id", "commentId", func(a *domain.Attachment) **string { return &a.CommentID }, entity.Nullable),
	entity.Column("name", "name", func(a *domain.Attachment) *string { return &a.Name }),
	entity.Column("url", "url", func(a *domain.Attachment) *string { return &a.URL }),
	entity.Column("storage_path", "storagePath", func(a *domain.Attachment) *string { return &a.StoragePath }),
	entity.Column("mime_type", "mimeType", func(a *domain.Attachment) *string { return &a.MimeType }),
	entity.Column("size_kb", "sizeKb", func(a *domain.Attachment) *float64 { return &a.SizeKB }),
	entity.Column("created_at", "createdAt", func(a *domain.Attachment) *time.Time { return &a.CreatedAt }, entity.ReadOnly),
)

var commentMapping = entity.NewMapping(
	entity.Column("id", "id", func(c *domain.Comment) *string { return &c.ID }, entity.ReadOnly),
	entity.Column("parent_table", "parentTable", func(c *domain.Comment) *string { return &c.ParentTable }),
	entity.Column("parent_id", "parentEntityId", func(c *domain.Comment) *string { return &c.ParentEntityID }),
	entity.Column("author_id", "authorId", func(c *domain.Comment) *string { return &c.AuthorID }, entity.ReadOnly),
	userEmbed("author", "author", TableComments, func(c *domain.Comment) **domain.UserRef { return &c.Author }),
	entity.Column("body", "body", func(c *domain.Comment) *string { return &c.Body }),
	entity.NestedList("attachments", "attachments", "attachments", func(c *domain.Comment) *[]domain.Attachment { return &c.Attachments }, attachmentMapping),
	entity.Column("created_at", "createdAt", func(c *domain.Comment) *time.Time { return &c.CreatedAt }, entity.ReadOnly),
	entity.Column("updated_at", "updatedAt", func(c *domain.Comment) **time.Time { return &c.UpdatedAt }, entity.ReadOnly),
)

// ============================================================
// Bindings
// ============================================================

// Binding is the repository, store and optional reconciler of one entity.
type Binding[T entity.Entity] struct {
	Repo       *entity.Repository[T]
	Store      *entity.Store[T]
	Reconciler *entity.Reconciler[T]
}

// CatalogDeps are the adapters the catalog is built on.
type CatalogDeps struct {
	Backend port.Backend
	Session port.SessionResolver
	// Feed may be nil; stores are then only refreshed by explicit loads.
	Feed     port.ChangeFeed
	Bulkhead *resilience.Bulkhead
	// Redis, when set, backs the detail caches instead of process memory.
	Redis       *redis.Client
	CacheTTL    time.Duration
	SearchLimit int
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// Catalog holds one binding per synchronized entity and the subscription
// manager that owns their realtime channels.
type Catalog struct {
	Tickets       *Binding[domain.Ticket]
	Admissions    *Binding[domain.Admission]
	Terminations  *Binding[domain.Termination]
	Leads         *Binding[domain.Lead]
	Statuses      *Binding[domain.Status]
	MenuItems     *Binding[domain.MenuItem]
	Users         *Binding[domain.User]
	Notifications *Binding[domain.Notification]

	Comments    *entity.Repository[domain.Comment]
	Attachments *entity.Repository[domain.Attachment]

	Subscriptions *entity.SubscriptionManager
}

// NewCatalog builds every binding and registers its reconciler.
func NewCatalog(deps CatalogDeps) *Catalog {
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = 20
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = time.Minute
	}
	c := &Catalog{Subscriptions: entity.NewSubscriptionManager(deps.Logger)}

	c.Statuses = bind(deps, c.Subscriptions, entity.Config[domain.Status]{
		Table:     TableStatuses,
		Mapping:   statusMapping,
		OrderBy:   "order_index",
		Ascending: true,
		Validate:  validateStatus,
	})
	defaults := &statusDefaults{repo: c.Statuses.Repo}

	c.Tickets = bind(deps, c.Subscriptions, entity.Config[domain.Ticket]{
		Table:               TableTickets,
		Mapping:             ticketMapping,
		SearchColumns:       []string{"title", "description", "ticket_octa"},
		NumericSearchColumn: "number",
		SearchLimit:         deps.SearchLimit,
		CreatorColumn:       "created_by_id",
		Legacy:              map[string]string{"ticket_octa": "octa_ticket"},
		BeforeCreate:        defaults.apply(TableTickets, "title"),
		Validate:            validateWorkItem("title"),
	})
	c.Admissions = bind(deps, c.Subscriptions, entity.Config[domain.Admission]{
		Table:         TableAdmissions,
		Mapping:       admissionMapping,
		SearchColumns: []string{"name", "document", "position", "department"},
		SearchLimit:   deps.SearchLimit,
		CreatorColumn: "created_by_id",
		BeforeCreate:  defaults.apply(TableAdmissions, "name"),
		Validate:      validateWorkItem("name"),
	})
	c.Terminations = bind(deps, c.Subscriptions, entity.Config[domain.Termination]{
		Table:         TableTerminations,
		Mapping:       terminationMapping,
		SearchColumns: []string{"name", "document", "reason"},
		SearchLimit:   deps.SearchLimit,
		CreatorColumn: "created_by_id",
		BeforeCreate:  defaults.apply(TableTerminations, "name"),
		Validate:      validateWorkItem("name"),
	})
	c.Leads = bind(deps, c.Subscriptions, entity.Config[domain.Lead]{
		Table:         TableLeads,
		Mapping:       leadMapping,
		SearchColumns: []string{"name", "company", "email"},
		SearchLimit:   deps.SearchLimit,
		CreatorColumn: "created_by_id",
		BeforeCreate:  defaults.apply(TableLeads, "name"),
		Validate:      validateWorkItem("name"),
	})
	c.MenuItems = bind(deps, c.Subscriptions, entity.Config[domain.MenuItem]{
		Table:     TableMenuItems,
		Mapping:   menuMapping,
		OrderBy:   "order_index",
		Ascending: true,
	})
	c.Users = bind(deps, c.Subscriptions, entity.Config[domain.User]{
		Table:         TableUsers,
		Mapping:       userMapping,
		OrderBy:       "name",
		Ascending:     true,
		SearchColumns: []string{"name", "email"},
		SearchLimit:   deps.SearchLimit,
	})
	c.Notifications = bind(deps, c.Subscriptions, entity.Config[domain.Notification]{
		Table:   TableNotifications,
		Mapping: notificationMapping,
	})

	c.Comments = entity.NewRepository(entity.Config[domain.Comment]{
		Table:         TableComments,
		Mapping:       commentMapping,
		Ascending:     true,
		CreatorColumn: "author_id",
	}, deps.Backend, deps.Session, deps.Metrics, deps.Logger)
	c.Attachments = entity.NewRepository(entity.Config[domain.Attachment]{
		Table:   TableAttachments,
		Mapping: attachmentMapping,
	}, deps.Backend, deps.Session, deps.Metrics, deps.Logger)

	return c
}

func bind[T entity.Entity](deps CatalogDeps, subs *entity.SubscriptionManager, cfg entity.Config[T]) *Binding[T] {
	repo := entity.NewRepository(cfg, deps.Backend, deps.Session, deps.Metrics, deps.Logger)
	store := entity.NewStore[T](cfg.Table, repo, newCache[T](deps), deps.Metrics, deps.Logger)
	b := &Binding[T]{Repo: repo, Store: store}
	if deps.Feed != nil {
		b.Reconciler = entity.NewReconciler(cfg.Table, deps.Feed, repo, store, deps.Bulkhead, deps.Metrics, deps.Logger)
		if err := subs.Register(b.Reconciler); err != nil {
			// Tables are unique in the catalog.
			panic(err)
		}
	}
	return b
}

func newCache[T any](deps CatalogDeps) port.Cache[T] {
	if deps.Redis != nil {
		return cache.NewRedis[T](deps.Redis, cache.DefaultPrefix, deps.CacheTTL, deps.Logger)
	}
	return cache.New[T](deps.CacheTTL)
}

// ============================================================
// Create defaults and validation
// ============================================================

type statusDefaults struct {
	repo *entity.Repository[domain.Status]
}

// apply fills status_id with the scope's default status and priority with
// NORMAL when they were not given, and requires the label column.
func (d *statusDefaults) apply(scope, labelColumn string) func(ctx context.Context, row map[string]any) error {
	return func(ctx context.Context, row map[string]any) error {
		if label, _ := row[labelColumn].(string); strings.TrimSpace(label) == "" {
			return &domain.ErrValidation{Field: labelColumn, Message: "obrigatório"}
		}
		if _, ok := row["priority"]; !ok {
			row["priority"] = domain.PriorityNormal
		}
		if _, ok := row["status_id"]; ok {
			return nil
		}
		id, err := d.defaultFor(ctx, scope)
		if err != nil {
			return err
		}
		row["status_id"] = id
		return nil
	}
}

func (d *statusDefaults) defaultFor(ctx context.Context, scope string) (string, error) {
	statuses, err := d.repo.List(ctx, entity.Filter{Eq: map[string]any{"scope": scope}})
	if err != nil {
		return "", fmt.Errorf("resolve default status: %w", err)
	}
	if len(statuses) == 0 {
		return "", &domain.ErrValidation{Field: "statusId", Message: "nenhum status configurado para " + scope}
	}
	for _, s := range statuses {
		if s.IsDefault {
			return s.ID, nil
		}
	}
	// Lowest order wins when no default is flagged.
	return statuses[0].ID, nil
}

func validateWorkItem(labelColumn string) func(row map[string]any) error {
	return func(row map[string]any) error {
		if v, ok := row[labelColumn]; ok {
			if s, _ := v.(string); strings.TrimSpace(s) == "" {
				return &domain.ErrValidation{Field: labelColumn, Message: "obrigatório"}
			}
		}
		if v, ok := row["priority"]; ok {
			if p := toPriority(v); !p.Valid() {
				return &domain.ErrValidation{Field: "priority", Message: fmt.Sprintf("prioridade inválida: %v", v)}
			}
		}
		return nil
	}
}

func validateStatus(row map[string]any) error {
	if v, ok := row["name"]; ok {
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			return &domain.ErrValidation{Field: "name", Message: "obrigatório"}
		}
	}
	if v, ok := row["color"]; ok {
		if s, _ := v.(string); s != "" && !isHexColor(s) {
			return &domain.ErrValidation{Field: "color", Message: "cor deve ser hexadecimal"}
		}
	}
	return nil
}

func toPriority(v any) domain.Priority {
	switch p := v.(type) {
	case domain.Priority:
		return p
	case string:
		return domain.Priority(p)
	}
	return ""
}

func isHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
