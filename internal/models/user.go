package models

import (
	"strings"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns "FirstName L." format (first name + last initial).
// Users without a name fall back to their username.
func (u User) DisplayName() string {
	parts := strings.Fields(u.Name)
	if len(parts) == 0 {
		return u.Username
	}
	if len(parts) == 1 {
		return parts[0]
	}
	lastName := parts[len(parts)-1]
	return parts[0] + " " + string([]rune(lastName)[0]) + "."
}

type ErrorResponse struct {
	Error string `json:"error"`
}
