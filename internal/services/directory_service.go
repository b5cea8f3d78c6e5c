package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/repository"
)

var (
	ErrSenderIDRequired = errors.New("sender id is required")
	ErrInvalidRole      = errors.New("role must be pm or sub")
	ErrInvalidTimezone  = errors.New("unknown time zone")
	ErrProjectRequired  = errors.New("project code is required")
)

// Identity is what the directory knows about one chat sender.
type Identity struct {
	SenderID          string
	Name              string
	Role              models.ContactRole
	ProjectCode       string
	SubcontractorName string
	Location          *time.Location
	Known             bool
}

// IsManager reports whether the sender may approve, reject and move order states.
func (i Identity) IsManager() bool {
	return i.Role == models.RoleManager
}

// DirectoryService resolves identities and project routing
type DirectoryService struct {
	contactRepo repository.ContactRepository
	defaultLoc  *time.Location
}

// NewDirectoryService creates a new DirectoryService. An unknown defaultTZ falls back to UTC.
func NewDirectoryService(contactRepo repository.ContactRepository, defaultTZ string) *DirectoryService {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil || defaultTZ == "" {
		loc = time.UTC
	}
	return &DirectoryService{
		contactRepo: contactRepo,
		defaultLoc:  loc,
	}
}

// Lookup returns the sender's identity. Unknown senders are field workers in the default zone.
func (s *DirectoryService) Lookup(ctx context.Context, senderID string) (Identity, error) {
	contact, err := s.contactRepo.FindBySenderID(ctx, senderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return Identity{SenderID: senderID, Role: models.RoleFieldWorker, Location: s.defaultLoc}, nil
		}
		return Identity{}, storageErr("lookup contact", err)
	}
	return s.identityOf(*contact), nil
}

func (s *DirectoryService) identityOf(c models.Contact) Identity {
	return Identity{
		SenderID:          c.SenderID,
		Name:              c.Name,
		Role:              c.Role,
		ProjectCode:       c.ProjectCode,
		SubcontractorName: c.SubcontractorName,
		Location:          s.Location(c.Timezone),
		Known:             true,
	}
}

// Location loads tz, falling back to the directory default.
func (s *DirectoryService) Location(tz string) *time.Location {
	if tz == "" {
		return s.defaultLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return s.defaultLoc
	}
	return loc
}

// ManagersFor lists the managers routed to a project
func (s *DirectoryService) ManagersFor(ctx context.Context, projectCode string) ([]string, error) {
	if projectCode == "" {
		return nil, nil
	}
	ids, err := s.contactRepo.ManagersForProject(ctx, projectCode)
	if err != nil {
		return nil, storageErr("load project managers", err)
	}
	return ids, nil
}

// ProjectsManagedBy lists the projects routed to a manager
func (s *DirectoryService) ProjectsManagedBy(ctx context.Context, managerSenderID string) ([]string, error) {
	codes, err := s.contactRepo.ProjectsManagedBy(ctx, managerSenderID)
	if err != nil {
		return nil, storageErr("load managed projects", err)
	}
	return codes, nil
}

// ActiveIdentities lists every active contact as an identity
func (s *DirectoryService) ActiveIdentities(ctx context.Context) ([]Identity, error) {
	contacts, err := s.contactRepo.ListActive(ctx)
	if err != nil {
		return nil, storageErr("list contacts", err)
	}
	out := make([]Identity, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, s.identityOf(c))
	}
	return out, nil
}

// ContactInput represents input for creating or updating a contact
type ContactInput struct {
	SenderID          string
	Name              string
	Role              models.ContactRole
	ProjectCode       string
	SubcontractorName string
	Timezone          string
	Active            bool
}

// UpsertContact validates and stores a contact keyed by sender id
func (s *DirectoryService) UpsertContact(ctx context.Context, input ContactInput) (*models.Contact, error) {
	senderID := strings.TrimSpace(input.SenderID)
	if senderID == "" {
		return nil, ErrSenderIDRequired
	}
	if input.Role != models.RoleManager && input.Role != models.RoleFieldWorker {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, input.Role)
	}
	if input.Timezone != "" {
		if _, err := time.LoadLocation(input.Timezone); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, input.Timezone)
		}
	}

	contact := &models.Contact{
		SenderID:          senderID,
		Name:              strings.TrimSpace(input.Name),
		Role:              input.Role,
		ProjectCode:       strings.TrimSpace(input.ProjectCode),
		SubcontractorName: strings.TrimSpace(input.SubcontractorName),
		Timezone:          input.Timezone,
		Active:            input.Active,
	}
	if err := s.contactRepo.Upsert(ctx, contact); err != nil {
		return nil, storageErr("upsert contact", err)
	}
	return contact, nil
}

// RouteProject sends a project's approvals and escalations to a manager
func (s *DirectoryService) RouteProject(ctx context.Context, projectCode, managerSenderID string) error {
	projectCode = strings.TrimSpace(projectCode)
	if projectCode == "" {
		return ErrProjectRequired
	}
	if strings.TrimSpace(managerSenderID) == "" {
		return ErrSenderIDRequired
	}
	if err := s.contactRepo.AddProjectManager(ctx, projectCode, managerSenderID); err != nil {
		return storageErr("route project", err)
	}
	return nil
}
