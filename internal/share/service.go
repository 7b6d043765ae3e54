package share

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shieldmaiden/shieldmaiden/internal/file"
	"golang.org/x/crypto/bcrypt"
)

// linkStore abstracts link persistence. Consume is the single place the
// download counter changes and must be implemented as one conditional write.
type linkStore interface {
	Create(ctx context.Context, link Link) (Link, error)
	GetByToken(ctx context.Context, token string) (Link, error)
	GetByID(ctx context.Context, id uuid.UUID) (Link, error)
	Consume(ctx context.Context, id uuid.UUID, ip *string) (Link, error)
	Deactivate(ctx context.Context, id uuid.UUID, reason DeactivationReason) (bool, error)
	DeactivateForFile(ctx context.Context, fileID uuid.UUID, reason DeactivationReason) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Link, error)
	ListForFile(ctx context.Context, fileID uuid.UUID) ([]Link, error)
	ListForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]Link, error)
	Stats(ctx context.Context, userID *uuid.UUID) (Stats, error)
}

// fileGetter resolves a file with the usual ownership rules.
type fileGetter interface {
	Get(ctx context.Context, fileID, requesterID uuid.UUID, adminOverride bool) (file.File, error)
}

// Service owns the share-link state machine.
type Service struct {
	repo       linkStore
	files      fileGetter
	bcryptCost int
	nowFunc    func() time.Time
}

// NewService constructs a share service.
func NewService(repo linkStore, files fileGetter, bcryptCost int) *Service {
	return &Service{
		repo:       repo,
		files:      files,
		bcryptCost: bcryptCost,
		nowFunc:    time.Now,
	}
}

// CreateInput carries the policy for a new link.
type CreateInput struct {
	AccessType        AccessType
	DownloadLimit     int
	ExpiresAt         time.Time
	Password          *string
	AllowedIPs        []string
	AllowedEmails     []string
	RequiresAuth      bool
	CustomMessage     string
	NotifyOnDownload  bool
	NotificationEmail *string
}

// ValidateContext carries what is known about the requester at the gate.
type ValidateContext struct {
	IP           *string
	SubjectID    *uuid.UUID
	SubjectEmail *string
	Password     *string
}

// UpdateInput lists the fields an owner may still change. Token, file
// reference and the historical count are immutable.
type UpdateInput struct {
	DownloadLimit     *int
	ExpiresAt         *time.Time
	CustomMessage     *string
	NotifyOnDownload  *bool
	NotificationEmail *string
	PasswordHash      *string
	ClearPassword     bool
}

// Create issues a new link for a file the creator owns. Policy fields are
// normalized: single pins the limit to 1, unlimited ignores it.
func (s *Service) Create(ctx context.Context, fileID, creatorID uuid.UUID, input CreateInput) (Link, error) {
	if _, err := s.files.Get(ctx, fileID, creatorID, false); err != nil {
		return Link{}, err
	}

	now := s.nowFunc()
	if !input.ExpiresAt.After(now) {
		return Link{}, fmt.Errorf("expiry must be in the future")
	}

	accessType := input.AccessType
	switch accessType {
	case AccessSingle, AccessMultiple, AccessUnlimited:
	case "":
		accessType = AccessMultiple
	default:
		return Link{}, fmt.Errorf("unknown access type %q", input.AccessType)
	}

	limit := input.DownloadLimit
	switch accessType {
	case AccessSingle:
		limit = 1
	case AccessUnlimited:
		limit = 0
	default:
		if limit == 0 {
			limit = defaultDownloadLimit
		}
		if limit < minDownloadLimit || limit > maxDownloadLimit {
			return Link{}, fmt.Errorf("download limit must be between %d and %d", minDownloadLimit, maxDownloadLimit)
		}
	}

	if len(input.CustomMessage) > maxCustomMessageLength {
		return Link{}, fmt.Errorf("custom message exceeds %d characters", maxCustomMessageLength)
	}

	token, err := GenerateToken()
	if err != nil {
		return Link{}, err
	}

	var passwordHash *string
	if input.Password != nil && *input.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*input.Password), s.bcryptCost)
		if err != nil {
			return Link{}, fmt.Errorf("hash link password: %w", err)
		}
		h := string(hashed)
		passwordHash = &h
	}

	link := Link{
		ID:                uuid.New(),
		FileID:            fileID,
		CreatedBy:         creatorID,
		Token:             token,
		AccessType:        accessType,
		DownloadLimit:     limit,
		ExpiresAt:         input.ExpiresAt.UTC(),
		PasswordHash:      passwordHash,
		AllowedIPs:        normalizeList(input.AllowedIPs, false),
		AllowedEmails:     normalizeList(input.AllowedEmails, true),
		RequiresAuth:      input.RequiresAuth,
		IsActive:          true,
		CustomMessage:     input.CustomMessage,
		NotifyOnDownload:  input.NotifyOnDownload,
		NotificationEmail: input.NotificationEmail,
	}

	return s.repo.Create(ctx, link)
}

// Validate resolves a token and walks every gate in order. It never consumes:
// the returned link is pre-consumption state. Expiry wins over limit when
// both apply.
func (s *Service) Validate(ctx context.Context, token string, vctx ValidateContext) (Link, file.File, error) {
	link, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return Link{}, file.File{}, err
	}

	now := s.nowFunc()

	if link.IsExpired(now) {
		if _, err := s.repo.Deactivate(ctx, link.ID, ReasonExpired); err != nil {
			return Link{}, file.File{}, err
		}
		return Link{}, file.File{}, ErrExpired
	}

	if link.IsLimitReached() {
		if _, err := s.repo.Deactivate(ctx, link.ID, ReasonLimitReached); err != nil {
			return Link{}, file.File{}, err
		}
		return Link{}, file.File{}, ErrLimitReached
	}

	if link.IsPasswordProtected() {
		if vctx.Password == nil || *vctx.Password == "" {
			return Link{}, file.File{}, ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(*vctx.Password)) != nil {
			return Link{}, file.File{}, ErrInvalidPassword
		}
	}

	if len(link.AllowedIPs) > 0 {
		if vctx.IP == nil || !contains(link.AllowedIPs, *vctx.IP) {
			return Link{}, file.File{}, ErrAccessDenied
		}
	}

	if link.RequiresAuth && vctx.SubjectID == nil {
		return Link{}, file.File{}, ErrAuthRequired
	}

	if len(link.AllowedEmails) > 0 {
		if vctx.SubjectID == nil || vctx.SubjectEmail == nil {
			return Link{}, file.File{}, ErrAuthRequired
		}
		if !contains(link.AllowedEmails, strings.ToLower(*vctx.SubjectEmail)) {
			return Link{}, file.File{}, ErrAccessDenied
		}
	}

	f, err := s.files.Get(ctx, link.FileID, link.CreatedBy, false)
	if err != nil {
		return Link{}, file.File{}, err
	}

	return link, f, nil
}

// Preview resolves a token for display without passing the secret gates.
// Expiry and limit are still enforced so a dead link never renders a
// landing page.
func (s *Service) Preview(ctx context.Context, token string) (Link, file.File, error) {
	link, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return Link{}, file.File{}, err
	}

	now := s.nowFunc()
	if link.IsExpired(now) {
		if _, err := s.repo.Deactivate(ctx, link.ID, ReasonExpired); err != nil {
			return Link{}, file.File{}, err
		}
		return Link{}, file.File{}, ErrExpired
	}
	if link.IsLimitReached() {
		if _, err := s.repo.Deactivate(ctx, link.ID, ReasonLimitReached); err != nil {
			return Link{}, file.File{}, err
		}
		return Link{}, file.File{}, ErrLimitReached
	}

	f, err := s.files.Get(ctx, link.FileID, link.CreatedBy, false)
	if err != nil {
		return Link{}, file.File{}, err
	}
	return link, f, nil
}

// Consume spends one download unit. The repository performs the increment as
// a single conditional update; losing a race on the last unit surfaces as
// ErrLimitReached, never as a silent success.
func (s *Service) Consume(ctx context.Context, linkID uuid.UUID, ip *string) (Link, error) {
	return s.repo.Consume(ctx, linkID, ip)
}

// Deactivate moves a link to its terminal state on behalf of its owner or an
// admin. Reason admin is recorded for override calls.
func (s *Service) Deactivate(ctx context.Context, linkID, requesterID uuid.UUID, adminOverride bool) error {
	link, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if !adminOverride && link.CreatedBy != requesterID {
		return ErrAccessDenied
	}

	reason := ReasonManual
	if adminOverride && link.CreatedBy != requesterID {
		reason = ReasonAdmin
	}

	changed, err := s.repo.Deactivate(ctx, linkID, reason)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNotFound
	}
	return nil
}

// Update changes the still-mutable policy fields of an owned link.
func (s *Service) Update(ctx context.Context, linkID, requesterID uuid.UUID, input UpdateInput, newPassword *string) (Link, error) {
	link, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return Link{}, err
	}
	if link.CreatedBy != requesterID {
		return Link{}, ErrAccessDenied
	}

	if input.DownloadLimit != nil {
		if link.AccessType != AccessMultiple {
			return Link{}, fmt.Errorf("download limit only applies to multiple-use links")
		}
		if *input.DownloadLimit < minDownloadLimit || *input.DownloadLimit > maxDownloadLimit {
			return Link{}, fmt.Errorf("download limit must be between %d and %d", minDownloadLimit, maxDownloadLimit)
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.nowFunc()) {
		return Link{}, fmt.Errorf("expiry must be in the future")
	}
	if input.CustomMessage != nil && len(*input.CustomMessage) > maxCustomMessageLength {
		return Link{}, fmt.Errorf("custom message exceeds %d characters", maxCustomMessageLength)
	}

	if newPassword != nil {
		if *newPassword == "" {
			input.ClearPassword = true
		} else {
			hashed, err := bcrypt.GenerateFromPassword([]byte(*newPassword), s.bcryptCost)
			if err != nil {
				return Link{}, fmt.Errorf("hash link password: %w", err)
			}
			h := string(hashed)
			input.PasswordHash = &h
		}
	}

	return s.repo.Update(ctx, linkID, input)
}

// RevokeForDeletedFile deactivates every active link of a file being deleted.
// Implements the revoker hook the file service expects.
func (s *Service) RevokeForDeletedFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := s.repo.DeactivateForFile(ctx, fileID, ReasonFileDeleted)
	return err
}

// DeactivateExpired is the sweeper's first pass.
func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	return s.repo.DeactivateExpired(ctx, s.nowFunc())
}

// ListForFile returns a file's active links after an ownership check.
func (s *Service) ListForFile(ctx context.Context, fileID, requesterID uuid.UUID) ([]Link, error) {
	if _, err := s.files.Get(ctx, fileID, requesterID, false); err != nil {
		return nil, err
	}
	return s.repo.ListForFile(ctx, fileID)
}

// ListForUser returns links created by the user.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]Link, error) {
	return s.repo.ListForUser(ctx, userID, activeOnly)
}

// UserStats aggregates one user's links.
func (s *Service) UserStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	return s.repo.Stats(ctx, &userID)
}

// GlobalStats aggregates the whole store. Admin surface.
func (s *Service) GlobalStats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx, nil)
}

func normalizeList(values []string, lower bool) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if lower {
			v = strings.ToLower(v)
		}
		out = append(out, v)
	}
	return out
}

func contains(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}
