// Package groups manages portal groups: which users belong to them, which
// firewall access rule each one grants, and the service links shown to its
// members. It is the membership source the whitelist lifecycle resolves
// targets from.
package groups

import "time"

// Group is a set of users sharing links and, optionally, one firewall
// access rule.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	WhitelistID *string   `json:"whitelist_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// MemberCount is filled by List only.
	MemberCount int `json:"member_count"`
}

// Member is a user in a group.
type Member struct {
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
}

// Link is a service shown on the dashboard of every member of its group.
type Link struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserLink is a link together with the group that grants it.
type UserLink struct {
	Link
	GroupName string `json:"group_name"`
}

// --- Request DTOs ---

// CreateGroupRequest is the admin "add group" payload.
type CreateGroupRequest struct {
	Name        string `json:"name" form:"name"`
	WhitelistID string `json:"whitelist_id" form:"whitelist_id"`
}

// UpdateGroupRequest renames a group or changes its access rule. Nil
// fields are left unchanged; an empty WhitelistID clears the rule.
type UpdateGroupRequest struct {
	Name        *string `json:"name" form:"name"`
	WhitelistID *string `json:"whitelist_id" form:"whitelist_id"`
}

// AddMemberRequest adds a user to a group by username.
type AddMemberRequest struct {
	Username string `json:"username" form:"username"`
}

// LinkRequest creates or replaces a link.
type LinkRequest struct {
	Title string `json:"title" form:"title"`
	URL   string `json:"url" form:"url"`
	Icon  string `json:"icon" form:"icon"`
}
