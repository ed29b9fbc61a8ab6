package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
)

// mysqlDuplicateEntry is MariaDB's ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// GroupRepository defines the data access contract for groups, memberships
// and links. All SQL lives in the concrete implementation.
type GroupRepository interface {
	Create(ctx context.Context, g *Group) error
	FindByID(ctx context.Context, id string) (*Group, error)
	List(ctx context.Context) ([]Group, error)
	Update(ctx context.Context, g *Group) error
	Delete(ctx context.Context, id string) error

	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]Member, error)

	// WhitelistIDsForUser returns the distinct non-empty access rule ids of
	// every group userID belongs to.
	WhitelistIDsForUser(ctx context.Context, userID string) ([]string, error)

	CreateLink(ctx context.Context, l *Link) error
	FindLink(ctx context.Context, id string) (*Link, error)
	UpdateLink(ctx context.Context, l *Link) error
	DeleteLink(ctx context.Context, id string) error
	ListLinks(ctx context.Context, groupID string) ([]Link, error)
	LinksForUser(ctx context.Context, userID string) ([]UserLink, error)
}

// groupRepository implements GroupRepository with hand-written MariaDB queries.
type groupRepository struct {
	db *sql.DB
}

// NewGroupRepository creates a new group repository backed by the given DB pool.
func NewGroupRepository(db *sql.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Create(ctx context.Context, g *Group) error {
	query := `INSERT INTO portal_groups (id, name, whitelist_id, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.Name, g.WhitelistID, g.CreatedAt); err != nil {
		if isDuplicate(err) {
			return apperror.NewConflict("a group with that name already exists")
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

func (r *groupRepository) FindByID(ctx context.Context, id string) (*Group, error) {
	query := `SELECT id, name, whitelist_id, created_at FROM portal_groups WHERE id = ?`

	g := &Group{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.WhitelistID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return g, nil
}

func (r *groupRepository) List(ctx context.Context) ([]Group, error) {
	query := `SELECT g.id, g.name, g.whitelist_id, g.created_at, COUNT(m.user_id)
	          FROM portal_groups g
	          LEFT JOIN group_members m ON m.group_id = g.id
	          GROUP BY g.id, g.name, g.whitelist_id, g.created_at
	          ORDER BY g.name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.WhitelistID, &g.CreatedAt, &g.MemberCount); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Update writes name and whitelist_id. MariaDB reports zero affected rows
// for an unchanged row, so existence is checked by the caller.
func (r *groupRepository) Update(ctx context.Context, g *Group) error {
	query := `UPDATE portal_groups SET name = ?, whitelist_id = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, g.Name, g.WhitelistID, g.ID)
	if err != nil {
		if isDuplicate(err) {
			return apperror.NewConflict("a group with that name already exists")
		}
		return fmt.Errorf("updating group: %w", err)
	}
	return nil
}

// Delete removes the group. Memberships and links go with it through
// ON DELETE CASCADE.
func (r *groupRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM portal_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return expectRow(res, "group not found")
}

func (r *groupRepository) AddMember(ctx context.Context, groupID, userID string) error {
	query := `INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, groupID, userID); err != nil {
		if isDuplicate(err) {
			return apperror.NewConflict("user is already a member of this group")
		}
		return fmt.Errorf("adding group member: %w", err)
	}
	return nil
}

func (r *groupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	query := `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`
	res, err := r.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("removing group member: %w", err)
	}
	return expectRow(res, "user is not a member of this group")
}

func (r *groupRepository) ListMembers(ctx context.Context, groupID string) ([]Member, error) {
	query := `SELECT u.id, u.username, u.display_name
	          FROM group_members m
	          INNER JOIN users u ON u.id = m.user_id
	          WHERE m.group_id = ?
	          ORDER BY u.username`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing group members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *groupRepository) WhitelistIDsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT DISTINCT g.whitelist_id
	          FROM portal_groups g
	          INNER JOIN group_members m ON m.group_id = g.id
	          WHERE m.user_id = ? AND g.whitelist_id IS NOT NULL AND g.whitelist_id <> ''
	          ORDER BY g.whitelist_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user whitelist ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning whitelist id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *groupRepository) CreateLink(ctx context.Context, l *Link) error {
	query := `INSERT INTO group_links (id, group_id, title, url, icon, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, l.ID, l.GroupID, l.Title, l.URL, l.Icon, l.CreatedAt); err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

func (r *groupRepository) FindLink(ctx context.Context, id string) (*Link, error) {
	query := `SELECT id, group_id, title, url, icon, created_at FROM group_links WHERE id = ?`

	l := &Link{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.GroupID, &l.Title, &l.URL, &l.Icon, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("link not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying link: %w", err)
	}
	return l, nil
}

func (r *groupRepository) UpdateLink(ctx context.Context, l *Link) error {
	query := `UPDATE group_links SET title = ?, url = ?, icon = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, l.Title, l.URL, l.Icon, l.ID); err != nil {
		return fmt.Errorf("updating link: %w", err)
	}
	return nil
}

func (r *groupRepository) DeleteLink(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	return expectRow(res, "link not found")
}

func (r *groupRepository) ListLinks(ctx context.Context, groupID string) ([]Link, error) {
	query := `SELECT id, group_id, title, url, icon, created_at
	          FROM group_links WHERE group_id = ? ORDER BY title`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.GroupID, &l.Title, &l.URL, &l.Icon, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *groupRepository) LinksForUser(ctx context.Context, userID string) ([]UserLink, error) {
	query := `SELECT l.id, l.group_id, l.title, l.url, l.icon, l.created_at, g.name
	          FROM group_links l
	          INNER JOIN portal_groups g ON g.id = l.group_id
	          INNER JOIN group_members m ON m.group_id = g.id
	          WHERE m.user_id = ?
	          ORDER BY g.name, l.title`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user links: %w", err)
	}
	defer rows.Close()

	var links []UserLink
	for rows.Next() {
		var l UserLink
		if err := rows.Scan(&l.ID, &l.GroupID, &l.Title, &l.URL, &l.Icon, &l.CreatedAt, &l.GroupName); err != nil {
			return nil, fmt.Errorf("scanning user link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// expectRow maps zero affected rows to a NotFound error.
func expectRow(res sql.Result, notFound string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound(notFound)
	}
	return nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
