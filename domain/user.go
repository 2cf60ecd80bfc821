package domain

import (
	"net/mail"
	"strings"
	"time"

	"ordermesh/rpc"
)

// User is the stored user record. PasswordHash never leaves the service:
// it is excluded from JSON and stripped before any response.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName,omitempty"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateUser is the create_user input.
type CreateUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName,omitempty"`
}

// UpdateUser is the update_user input. Nil fields are left unchanged.
type UpdateUser struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	FullName *string `json:"fullName,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

const (
	minUsernameLen = 3
	minPasswordLen = 6
)

func (in CreateUser) Validate() error {
	if err := validateUsername(in.Username); err != nil {
		return err
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	return nil
}

func (in UpdateUser) Validate() error {
	if in.Username != nil {
		if err := validateUsername(*in.Username); err != nil {
			return err
		}
	}
	if in.Email != nil {
		if err := validateEmail(*in.Email); err != nil {
			return err
		}
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the update carries no fields at all.
func (in UpdateUser) Empty() bool {
	return in.Username == nil && in.Email == nil && in.Password == nil &&
		in.FullName == nil && in.IsActive == nil
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return rpc.ValidationFailed("username must not be empty")
	}
	if len(username) < minUsernameLen {
		return rpc.ValidationFailed("username must be at least %d characters", minUsernameLen)
	}
	return nil
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return rpc.ValidationFailed("email must not be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return rpc.ValidationFailed("email %q is not a valid address", email)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return rpc.ValidationFailed("password must be at least %d characters", minPasswordLen)
	}
	return nil
}
