package model

import "time"

// User is a household member as returned by the auth and household endpoints.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Points int    `json:"points,omitempty"`
}

// Household groups tasks and members under one shared scope.
type Household struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"inviteCode,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Members    []User    `json:"members,omitempty"`
}

// AuthResponse is the payload of /auth/register, /auth/login and
// /auth/refresh. Refresh responses may omit the user and the rotated
// refresh token.
type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         *User  `json:"user,omitempty"`
}
