// Package auth handles user authentication, session management, and password
// security for the portal. It provides login, logout, and session validation
// via random tokens stored in Redis, plus admin user management.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Roles a user can hold.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// User represents a portal account. This is the domain model used
// throughout the application. Database scanning and JSON marshaling use this
// struct directly.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  *string    `json:"display_name,omitempty"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the data submitted by the login form.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// CreateUserRequest is the admin "add user" payload.
type CreateUserRequest struct {
	Username    string `json:"username" form:"username"`
	DisplayName string `json:"display_name" form:"display_name"`
	Password    string `json:"password" form:"password"`
	Role        string `json:"role" form:"role"`
}

// UpdateUserRequest is the admin "edit user" payload. Empty fields are left
// unchanged, except DisplayName which clears the name when blank.
type UpdateUserRequest struct {
	DisplayName *string `json:"display_name" form:"display_name"`
	Role        string  `json:"role" form:"role"`
	NewPassword string  `json:"new_password" form:"new_password"`
}

// ChangePasswordRequest is the self-service password change payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password"`
	NewPassword     string `json:"new_password" form:"new_password"`
	Confirm         string `json:"confirm" form:"confirm"`
}

// --- Service Input DTOs (passed from handler to service) ---

// CreateUserInput is the validated input for creating a user.
type CreateUserInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        string
}

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Username string
	Password string
	IP       string
}

// --- Session ---

// Session represents an authenticated user session stored in Redis.
// The session ID is the key, and this struct is the value (JSON-encoded).
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the session belongs to an admin.
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}
