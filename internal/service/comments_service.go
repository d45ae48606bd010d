package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var commentTracer = otel.Tracer("service/comments")

// DefaultEditWindow is how long an author may edit a comment.
const DefaultEditWindow = 10 * time.Minute

const notifyMentionsFunction = "notify-mentions"

// commentable lists the tables comments and attachments may hang off.
var commentable = map[string]bool{
	TableTickets:      true,
	TableAdmissions:   true,
	TableTerminations: true,
	TableLeads:        true,
}

// UserDirectory lists the known users, for resolving @handles.
type UserDirectory interface {
	Items() []domain.User
}

// Upload is an attachment to be stored.
type Upload struct {
	ParentTable    string
	ParentEntityID string
	CommentID      *string
	Name           string
	MimeType       string
	Body           io.Reader
}

// CommentService handles comments, their attachments and mention notifications.
type CommentService struct {
	comments    *entity.Repository[domain.Comment]
	attachments *entity.Repository[domain.Attachment]
	users       UserDirectory
	profiles    port.ProfileResolver
	functions   port.FunctionInvoker
	blobs       port.BlobStore
	editWindow  time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewCommentService creates a comment service. A zero editWindow uses DefaultEditWindow.
func NewCommentService(c *Catalog, profiles port.ProfileResolver, functions port.FunctionInvoker, blobs port.BlobStore, editWindow time.Duration, logger *zap.Logger) *CommentService {
	if editWindow <= 0 {
		editWindow = DefaultEditWindow
	}
	return &CommentService{
		comments:    c.Comments,
		attachments: c.Attachments,
		users:       c.Users.Store,
		profiles:    profiles,
		functions:   functions,
		blobs:       blobs,
		editWindow:  editWindow,
		now:         time.Now,
		logger:      logger,
	}
}

// List returns the comments of one entity, oldest first, with their attachments.
func (s *CommentService) List(ctx context.Context, parentTable, parentID string) ([]domain.Comment, error) {
	ctx, span := commentTracer.Start(ctx, "CommentService.List")
	defer span.End()

	if err := checkParent(parentTable, parentID); err != nil {
		return nil, err
	}
	return s.comments.List(ctx, entity.Filter{Eq: map[string]any{
		"parentTable":    parentTable,
		"parentEntityId": parentID,
	}})
}

// Create posts a comment as the caller and notifies the mentioned users.
func (s *CommentService) Create(ctx context.Context, parentTable, parentID, body string) (*domain.Comment, error) {
	ctx, span := commentTracer.Start(ctx, "CommentService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("parent_table", parentTable))

	if err := checkParent(parentTable, parentID); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &domain.ErrValidation{Field: "body", Message: "comentário vazio"}
	}
	author, err := s.profiles.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	created, err := s.comments.Create(ctx, domain.Comment{
		ParentTable:    parentTable,
		ParentEntityID: parentID,
		Body:           body,
	})
	if err != nil {
		return nil, err
	}
	s.notifyMentions(ctx, created, author, MentionedUserIDs(body, s.users.Items(), author.ID))
	return created, nil
}

// Edit replaces the body. Only the author may edit, and only within the edit
// window. Users mentioned for the first time are notified.
func (s *CommentService) Edit(ctx context.Context, id, body string) (*domain.Comment, error) {
	ctx, span := commentTracer.Start(ctx, "CommentService.Edit")
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &domain.ErrValidation{Field: "body", Message: "comentário vazio"}
	}
	caller, current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.AuthorID != caller.ID {
		return nil, &domain.ErrForbidden{Action: "editar comentário de outro usuário"}
	}
	if s.now().Sub(current.CreatedAt) > s.editWindow {
		return nil, &domain.ErrForbidden{Action: "editar comentário após o prazo de edição"}
	}

	updated, err := s.comments.Update(ctx, id, entity.Patch{"body": body})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, &domain.ErrNotFound{Resource: "comment", ID: id}
	}

	users := s.users.Items()
	before := make(map[string]bool)
	for _, uid := range MentionedUserIDs(current.Body, users, caller.ID) {
		before[uid] = true
	}
	var fresh []string
	for _, uid := range MentionedUserIDs(body, users, caller.ID) {
		if !before[uid] {
			fresh = append(fresh, uid)
		}
	}
	s.notifyMentions(ctx, updated, caller, fresh)
	return updated, nil
}

// Delete removes a comment. The author or an admin may delete; attachments
// are removed one by one, row then object, before the comment itself.
func (s *CommentService) Delete(ctx context.Context, id string) error {
	ctx, span := commentTracer.Start(ctx, "CommentService.Delete")
	defer span.End()

	caller, current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if current.AuthorID != caller.ID && !caller.HasRole(domain.RoleAdmin) {
		return &domain.ErrForbidden{Action: "excluir comentário de outro usuário"}
	}

	attachments, err := s.attachments.List(ctx, entity.Filter{Eq: map[string]any{"commentId": id}})
	if err != nil {
		return err
	}
	for _, a := range attachments {
		if err := s.removeAttachment(ctx, a); err != nil {
			return fmt.Errorf("delete attachment %s of comment %s: %w", a.ID, id, err)
		}
	}
	if _, err := s.comments.Remove(ctx, id); err != nil {
		return err
	}
	s.logger.Info("comment deleted",
		zap.String("comment_id", id),
		zap.String("by", caller.ID),
		zap.Int("attachments", len(attachments)),
	)
	return nil
}

// ListAttachments returns the attachments owned directly by an entity.
func (s *CommentService) ListAttachments(ctx context.Context, parentTable, parentID string) ([]domain.Attachment, error) {
	if err := checkParent(parentTable, parentID); err != nil {
		return nil, err
	}
	return s.attachments.List(ctx, entity.Filter{Eq: map[string]any{
		"parentTable":    parentTable,
		"parentEntityId": parentID,
		"commentId":      nil,
	}})
}

// AddAttachment uploads the file and records it. The object is removed
// again when the row cannot be inserted.
func (s *CommentService) AddAttachment(ctx context.Context, up Upload) (*domain.Attachment, error) {
	ctx, span := commentTracer.Start(ctx, "CommentService.AddAttachment")
	defer span.End()

	if err := checkParent(up.ParentTable, up.ParentEntityID); err != nil {
		return nil, err
	}
	name := safeFileName(up.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "nome do arquivo obrigatório"}
	}

	key := path.Join(up.ParentTable, up.ParentEntityID, uuid.NewString()+"-"+name)
	counter := &countingReader{r: up.Body}
	url, err := s.blobs.Put(ctx, key, counter, up.MimeType)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "storage", Err: err}
	}

	created, err := s.attachments.Create(ctx, domain.Attachment{
		ParentTable:    up.ParentTable,
		ParentEntityID: up.ParentEntityID,
		CommentID:      up.CommentID,
		Name:           up.Name,
		URL:            url,
		StoragePath:    key,
		MimeType:       up.MimeType,
		SizeKB:         math.Round(float64(counter.n)/1024*100) / 100,
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("orphaned attachment object", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	return created, nil
}

// RemoveAttachment deletes one attachment, row then object.
func (s *CommentService) RemoveAttachment(ctx context.Context, id string) error {
	a, err := s.attachments.Get(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return &domain.ErrNotFound{Resource: "attachment", ID: id}
	}
	return s.removeAttachment(ctx, *a)
}

// AttachmentURL returns a time-limited download URL.
func (s *CommentService) AttachmentURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	a, err := s.attachments.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", &domain.ErrNotFound{Resource: "attachment", ID: id}
	}
	return s.blobs.PresignURL(ctx, a.StoragePath, ttl)
}

func (s *CommentService) removeAttachment(ctx context.Context, a domain.Attachment) error {
	if _, err := s.attachments.Remove(ctx, a.ID); err != nil {
		return err
	}
	if a.StoragePath == "" {
		return nil
	}
	if err := s.blobs.Delete(ctx, a.StoragePath); err != nil {
		// The row is gone; a leftover object is only wasted space.
		s.logger.Warn("attachment object not deleted", zap.String("key", a.StoragePath), zap.Error(err))
	}
	return nil
}

func (s *CommentService) load(ctx context.Context, id string) (*domain.UserRef, *domain.Comment, error) {
	caller, err := s.profiles.CurrentUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.comments.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return nil, nil, &domain.ErrNotFound{Resource: "comment", ID: id}
	}
	return caller, c, nil
}

// notifyMentions calls the notify-mentions function. A failure is logged and
// never fails the comment write.
func (s *CommentService) notifyMentions(ctx context.Context, c *domain.Comment, author *domain.UserRef, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	req := map[string]any{
		"commentId":      c.ID,
		"parentTable":    c.ParentTable,
		"parentEntityId": c.ParentEntityID,
		"authorId":       author.ID,
		"authorName":     author.Name,
		"userIds":        userIDs,
		"excerpt":        excerpt(c.Body, 140),
	}
	if err := s.functions.Invoke(ctx, notifyMentionsFunction, req, nil); err != nil {
		s.logger.Warn("mention notification failed",
			zap.String("comment_id", c.ID),
			zap.Int("mentions", len(userIDs)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("mentions notified", zap.String("comment_id", c.ID), zap.Strings("user_ids", userIDs))
}

func checkParent(table, id string) error {
	if !commentable[table] {
		return &domain.ErrValidation{Field: "parentTable", Message: "tabela não aceita comentários: " + table}
	}
	if id == "" {
		return &domain.ErrValidation{Field: "parentEntityId", Message: "obrigatório"}
	}
	return nil
}

func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, name)
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
