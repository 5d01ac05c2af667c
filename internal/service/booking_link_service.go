package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/repository"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type linkRepository interface {
	Create(ctx context.Context, link *models.BookingLink) error
	FindBySlug(ctx context.Context, tenantID, slug string) (*models.BookingLink, error)
	FindByToken(ctx context.Context, token string) (*models.BookingLink, error)
	Deactivate(ctx context.Context, tenantID, id string) error
}

type linkTypeRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.AppointmentType, error)
}

// CreateLinkRequest configures a new shareable booking link.
type CreateLinkRequest struct {
	TenantID          string                `json:"-" validate:"required"`
	TypeID            string                `json:"type_id" validate:"required"`
	ProfileOverrideID *string               `json:"profile_override_id"`
	Slug              string                `json:"slug" validate:"required,min=3,max=64"`
	Visibility        models.LinkVisibility `json:"visibility"`
	Password          string                `json:"password"`
	AllowEmailDomains []string              `json:"allow_email_domains"`
	DenyEmailDomains  []string              `json:"deny_email_domains"`
}

// ResolveLinkRequest carries the invitee-side credentials for link access.
type ResolveLinkRequest struct {
	TenantID     string
	Slug         string
	Token        string
	Password     string
	InviteeEmail string
}

// ResolvedLink is the booking surface behind a validated link.
type ResolvedLink struct {
	Link *models.BookingLink     `json:"link"`
	Type *models.AppointmentType `json:"type"`
}

// BookingLinkService manages shareable booking links and enforces their
// access controls at resolution time.
type BookingLinkService struct {
	links    linkRepository
	types    linkTypeRepository
	validate *validator.Validate
	logger   *zap.Logger
}

func NewBookingLinkService(links linkRepository, types linkTypeRepository, validate *validator.Validate, logger *zap.Logger) *BookingLinkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingLinkService{links: links, types: types, validate: validate, logger: logger}
}

// Create mints a link for an active appointment type. Direct-only links get
// a random access token; a password is stored as a bcrypt hash.
func (s *BookingLinkService) Create(ctx context.Context, req *CreateLinkRequest) (*models.BookingLink, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	at, err := s.types.FindByID(ctx, req.TenantID, req.TypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment type not found")
	}
	if !at.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "appointment type is inactive")
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = models.LinkPublic
	}

	link := &models.BookingLink{
		TenantID:          req.TenantID,
		TypeID:            req.TypeID,
		ProfileOverrideID: req.ProfileOverrideID,
		Slug:              strings.ToLower(strings.TrimSpace(req.Slug)),
		Token:             uuid.NewString(),
		Visibility:        visibility,
		AllowEmailDomains: normalizeDomains(req.AllowEmailDomains),
		DenyEmailDomains:  normalizeDomains(req.DenyEmailDomains),
		Active:            true,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash link password")
		}
		hashed := string(hash)
		link.PasswordHash = &hashed
	}

	if err := s.links.Create(ctx, link); err != nil {
		if repository.IsUniqueViolation(err, "booking_links_slug") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "booking link slug already in use")
		}
		return nil, err
	}
	return link, nil
}

// Resolve validates link access and returns the bookable surface. Direct-only
// links resolve by token only; slug lookups never reveal them.
func (s *BookingLinkService) Resolve(ctx context.Context, req *ResolveLinkRequest) (*ResolvedLink, error) {
	var link *models.BookingLink
	var err error

	switch {
	case req.Token != "":
		link, err = s.links.FindByToken(ctx, req.Token)
	case req.Slug != "":
		link, err = s.links.FindBySlug(ctx, req.TenantID, strings.ToLower(req.Slug))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "link slug or token required")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "booking link not found")
	}

	if link.Visibility == models.LinkDirectOnly && req.Token == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "booking link not found")
	}
	if link.PasswordHash != nil {
		if req.Password == "" {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "booking link requires a password")
		}
		if bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(req.Password)) != nil {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid booking link password")
		}
	}
	if req.InviteeEmail != "" {
		if err := s.checkDomains(link, req.InviteeEmail); err != nil {
			return nil, err
		}
	}

	at, err := s.types.FindByID(ctx, link.TenantID, link.TypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment type not found")
	}
	return &ResolvedLink{Link: link, Type: at}, nil
}

// Deactivate turns a link off.
func (s *BookingLinkService) Deactivate(ctx context.Context, tenantID, id string) error {
	return s.links.Deactivate(ctx, tenantID, id)
}

func (s *BookingLinkService) checkDomains(link *models.BookingLink, email string) error {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "invalid invitee email")
	}
	domain := strings.ToLower(email[at+1:])

	for _, denied := range link.DenyEmailDomains {
		if domain == denied {
			return appErrors.Clone(appErrors.ErrUnauthorized, "email domain is not allowed on this link")
		}
	}
	if len(link.AllowEmailDomains) > 0 {
		for _, allowed := range link.AllowEmailDomains {
			if domain == allowed {
				return nil
			}
		}
		return appErrors.Clone(appErrors.ErrUnauthorized, "email domain is not allowed on this link")
	}
	return nil
}

func normalizeDomains(domains []string) models.StringList {
	out := make(models.StringList, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
