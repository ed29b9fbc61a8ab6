package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/auth"
	"github.com/keyxmakerx/loginfirewall/internal/sanitize"
)

const (
	maxNameLen  = 100
	maxTitleLen = 100
)

// whitelistIDPattern accepts Zoraxy access rule ids.
var whitelistIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// UserFinder resolves usernames for membership edits. auth.AuthService
// satisfies it.
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
}

// GroupDetail is a group with its members and links.
type GroupDetail struct {
	Group
	Members []Member `json:"members"`
	Links   []Link   `json:"links"`
}

// GroupService defines the business logic contract for groups. It also
// serves as the whitelist target resolver.
type GroupService interface {
	// TargetsForUser returns the distinct access rule ids of the user's
	// groups. Groups without a rule contribute nothing.
	TargetsForUser(ctx context.Context, userID string) ([]string, error)
	LinksForUser(ctx context.Context, userID string) ([]UserLink, error)

	CreateGroup(ctx context.Context, req CreateGroupRequest) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, id string) (*GroupDetail, error)
	UpdateGroup(ctx context.Context, id string, req UpdateGroupRequest) (*Group, error)
	DeleteGroup(ctx context.Context, id string) error

	AddMember(ctx context.Context, groupID, username string) (*Member, error)
	RemoveMember(ctx context.Context, groupID, userID string) error

	AddLink(ctx context.Context, groupID string, req LinkRequest) (*Link, error)
	UpdateLink(ctx context.Context, linkID string, req LinkRequest) (*Link, error)
	DeleteLink(ctx context.Context, linkID string) error
}

// groupService implements GroupService.
type groupService struct {
	repo  GroupRepository
	users UserFinder
}

// NewGroupService creates a new group service. users may be nil when the
// service only resolves targets, as in a one-off sweep.
func NewGroupService(repo GroupRepository, users UserFinder) GroupService {
	return &groupService{repo: repo, users: users}
}

func (s *groupService) TargetsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.repo.WhitelistIDsForUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("resolving whitelist ids: %w", err))
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (s *groupService) LinksForUser(ctx context.Context, userID string) ([]UserLink, error) {
	links, err := s.repo.LinksForUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing user links: %w", err))
	}
	return links, nil
}

func (s *groupService) CreateGroup(ctx context.Context, req CreateGroupRequest) (*Group, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}
	wid, err := validateWhitelistID(req.WhitelistID)
	if err != nil {
		return nil, err
	}

	g := &Group{
		ID:          uuid.NewString(),
		Name:        name,
		WhitelistID: wid,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, wrap(err, "creating group")
	}

	slog.Info("group created", slog.String("group_id", g.ID), slog.String("name", g.Name))
	return g, nil
}

func (s *groupService) ListGroups(ctx context.Context) ([]Group, error) {
	groups, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing groups: %w", err))
	}
	return groups, nil
}

func (s *groupService) GetGroup(ctx context.Context, id string) (*GroupDetail, error) {
	g, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, wrap(err, "finding group")
	}
	members, err := s.repo.ListMembers(ctx, id)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing members: %w", err))
	}
	links, err := s.repo.ListLinks(ctx, id)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing links: %w", err))
	}
	if members == nil {
		members = []Member{}
	}
	if links == nil {
		links = []Link{}
	}
	g.MemberCount = len(members)
	return &GroupDetail{Group: *g, Members: members, Links: links}, nil
}

// UpdateGroup renames the group or changes its access rule. Existing
// grants on the old rule stay until they expire or the user logs out.
func (s *groupService) UpdateGroup(ctx context.Context, id string, req UpdateGroupRequest) (*Group, error) {
	g, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, wrap(err, "finding group")
	}

	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		g.Name = name
	}
	if req.WhitelistID != nil {
		wid, err := validateWhitelistID(*req.WhitelistID)
		if err != nil {
			return nil, err
		}
		g.WhitelistID = wid
	}

	if err := s.repo.Update(ctx, g); err != nil {
		return nil, wrap(err, "updating group")
	}
	return g, nil
}

func (s *groupService) DeleteGroup(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrap(err, "deleting group")
	}
	slog.Info("group deleted", slog.String("group_id", id))
	return nil
}

func (s *groupService) AddMember(ctx context.Context, groupID, username string) (*Member, error) {
	if strings.TrimSpace(username) == "" {
		return nil, apperror.NewValidation("username is required")
	}
	if _, err := s.repo.FindByID(ctx, groupID); err != nil {
		return nil, wrap(err, "finding group")
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AddMember(ctx, groupID, user.ID); err != nil {
		return nil, wrap(err, "adding member")
	}
	return &Member{UserID: user.ID, Username: user.Username, DisplayName: user.DisplayName}, nil
}

func (s *groupService) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := s.repo.RemoveMember(ctx, groupID, userID); err != nil {
		return wrap(err, "removing member")
	}
	return nil
}

func (s *groupService) AddLink(ctx context.Context, groupID string, req LinkRequest) (*Link, error) {
	if _, err := s.repo.FindByID(ctx, groupID); err != nil {
		return nil, wrap(err, "finding group")
	}
	l := &Link{ID: uuid.NewString(), GroupID: groupID, CreatedAt: time.Now().UTC()}
	if err := applyLink(l, req); err != nil {
		return nil, err
	}
	if err := s.repo.CreateLink(ctx, l); err != nil {
		return nil, wrap(err, "creating link")
	}
	return l, nil
}

func (s *groupService) UpdateLink(ctx context.Context, linkID string, req LinkRequest) (*Link, error) {
	l, err := s.repo.FindLink(ctx, linkID)
	if err != nil {
		return nil, wrap(err, "finding link")
	}
	if err := applyLink(l, req); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLink(ctx, l); err != nil {
		return nil, wrap(err, "updating link")
	}
	return l, nil
}

func (s *groupService) DeleteLink(ctx context.Context, linkID string) error {
	if err := s.repo.DeleteLink(ctx, linkID); err != nil {
		return wrap(err, "deleting link")
	}
	return nil
}

// --- Validation ---

func validateName(raw string) (string, error) {
	name := sanitize.Text(raw)
	if name == "" {
		return "", apperror.NewValidation("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", apperror.NewValidation(fmt.Sprintf("name must be at most %d characters", maxNameLen))
	}
	return name, nil
}

// validateWhitelistID returns nil for a blank id: the group grants links
// only.
func validateWhitelistID(raw string) (*string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return nil, nil
	}
	if !whitelistIDPattern.MatchString(id) {
		return nil, apperror.NewValidation("whitelist id may only contain letters, digits, '.', '_', ':' or '-'")
	}
	return &id, nil
}

func applyLink(l *Link, req LinkRequest) error {
	title := sanitize.Text(req.Title)
	if title == "" {
		return apperror.NewValidation("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return apperror.NewValidation(fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	u := sanitize.URL(req.URL)
	if u == "" {
		return apperror.NewValidation("url must be an absolute http or https URL")
	}
	icon := ""
	if strings.TrimSpace(req.Icon) != "" {
		if icon = sanitize.URL(req.Icon); icon == "" {
			return apperror.NewValidation("icon must be an absolute http or https URL")
		}
	}
	l.Title, l.URL, l.Icon = title, u, icon
	return nil
}

// wrap passes AppErrors through and hides anything else behind a 500.
func wrap(err error, op string) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}
