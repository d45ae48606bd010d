// Package domain defines the business entities of the administration app:
// tickets ("atas"), admissions, terminations, CRM leads, statuses, comments,
// attachments, menu items, users and notifications. These are the in-app
// shapes; the wire (snake_case) shapes live only in the field mappings.
package domain

import "time"

// Priority is the urgency of a ticket-like entity.
type Priority string

const (
	PriorityUrgent Priority = "URGENTE"
	PriorityHigh   Priority = "ALTA"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "BAIXA"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Role names used for UI hiding and comment moderation.
const (
	RoleAdmin   = "admin"
	RoleManager = "gestor"
	RoleUser    = "usuario"
)

// UserRef is a snapshot of a user embedded in another entity at query time.
// It is not a live reference and may be stale until the next reload.
type UserRef struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	Avatar string   `json:"avatar,omitempty"`
	Color  string   `json:"color,omitempty"`
}

// HasRole reports whether the user holds role.
func (u *UserRef) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ============================================================
// Ticket-like entities
// ============================================================

// Ticket is an "ata": an internal work ticket.
type Ticket struct {
	ID              string     `json:"id"`
	Number          int64      `json:"number"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ExternalCode    *string    `json:"externalCode"`
	StatusID        string     `json:"statusId"`
	Priority        Priority   `json:"priority"`
	AssignedToID    *string    `json:"assignedToId"`
	AssignedTo      *UserRef   `json:"assignedTo,omitempty"`
	CreatedByID     string     `json:"createdById"`
	CreatedBy       *UserRef   `json:"createdBy,omitempty"`
	Tags            []string   `json:"tags"`
	DueDate         *time.Time `json:"dueDate"`
	IsPrivate       bool       `json:"isPrivate"`
	CommentCount    int        `json:"commentCount"`
	AttachmentCount int        `json:"attachmentCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Admission is an employee admission process.
type Admission struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Document        string     `json:"document"`
	Position        string     `json:"position"`
	Department      string     `json:"department"`
	StartDate       *time.Time `json:"startDate"`
	Notes           string     `json:"notes"`
	StatusID        string     `json:"statusId"`
	Priority        Priority   `json:"priority"`
	AssignedToID    *string    `json:"assignedToId"`
	AssignedTo      *UserRef   `json:"assignedTo,omitempty"`
	CreatedByID     string     `json:"createdById"`
	CreatedBy       *UserRef   `json:"createdBy,omitempty"`
	Tags            []string   `json:"tags"`
	IsPrivate       bool       `json:"isPrivate"`
	CommentCount    int        `json:"commentCount"`
	AttachmentCount int        `json:"attachmentCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Termination is an employee termination process.
type Termination struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Document        string     `json:"document"`
	Reason          string     `json:"reason"`
	LastWorkingDay  *time.Time `json:"lastWorkingDay"`
	Notes           string     `json:"notes"`
	StatusID        string     `json:"statusId"`
	Priority        Priority   `json:"priority"`
	AssignedToID    *string    `json:"assignedToId"`
	AssignedTo      *UserRef   `json:"assignedTo,omitempty"`
	CreatedByID     string     `json:"createdById"`
	CreatedBy       *UserRef   `json:"createdBy,omitempty"`
	Tags            []string   `json:"tags"`
	IsPrivate       bool       `json:"isPrivate"`
	CommentCount    int        `json:"commentCount"`
	AttachmentCount int        `json:"attachmentCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Lead is a CRM sales lead.
type Lead struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Company        string    `json:"company"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Source         string    `json:"source"`
	EstimatedValue float64   `json:"estimatedValue"`
	StatusID       string    `json:"statusId"`
	Priority       Priority  `json:"priority"`
	AssignedToID   *string   `json:"assignedToId"`
	AssignedTo     *UserRef  `json:"assignedTo,omitempty"`
	CreatedByID    string    `json:"createdById"`
	CreatedBy      *UserRef  `json:"createdBy,omitempty"`
	Tags           []string  `json:"tags"`
	IsPrivate      bool      `json:"isPrivate"`
	CommentCount   int       `json:"commentCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ============================================================
// Configuration entities
// ============================================================

// Status is one column of a board. Order defines the display position;
// at most one status per set is the default.
type Status struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Order     int       `json:"order"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

// MenuItem is a node of the navigation forest.
type MenuItem struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	Icon       string      `json:"icon"`
	ParentID   *string     `json:"parentId"`
	OrderIndex int         `json:"orderIndex"`
	IsActive   bool        `json:"isActive"`
	Roles      []string    `json:"roles"`
	Children   []*MenuItem `json:"children,omitempty"`
}

// User is an application profile row linked to an auth identity.
type User struct {
	ID         string    `json:"id"`
	AuthUserID string    `json:"authUserId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Roles      []string  `json:"roles"`
	Avatar     string    `json:"avatar"`
	Color      string    `json:"color"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Ref returns the embedded snapshot form of u.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email, Roles: u.Roles, Avatar: u.Avatar, Color: u.Color}
}

// ============================================================
// Comments, attachments, notifications
// ============================================================

// Comment belongs to a parent entity and owns zero or more attachments.
type Comment struct {
	ID             string       `json:"id"`
	ParentTable    string       `json:"parentTable"`
	ParentEntityID string       `json:"parentEntityId"`
	AuthorID       string       `json:"authorId"`
	Author         *UserRef     `json:"author,omitempty"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      *time.Time   `json:"updatedAt"`
}

// Attachment is owned either by a parent entity or by a comment.
type Attachment struct {
	ID             string    `json:"id"`
	ParentTable    string    `json:"parentTable"`
	ParentEntityID string    `json:"parentEntityId"`
	CommentID      *string   `json:"commentId"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	StoragePath    string    `json:"storagePath"`
	MimeType       string    `json:"mimeType"`
	SizeKB         float64   `json:"sizeKb"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Notification is a per-user inbox entry (mentions, assignments).
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// EntityID implementations let the generic store key items by id.

func (t Ticket) EntityID() string       { return t.ID }
func (a Admission) EntityID() string    { return a.ID }
func (t Termination) EntityID() string  { return t.ID }
func (l Lead) EntityID() string         { return l.ID }
func (s Status) EntityID() string       { return s.ID }
func (m MenuItem) EntityID() string     { return m.ID }
func (u User) EntityID() string         { return u.ID }
func (c Comment) EntityID() string      { return c.ID }
func (a Attachment) EntityID() string   { return a.ID }
func (n Notification) EntityID() string { return n.ID }
