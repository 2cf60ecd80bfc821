package domain

import (
	"strings"
	"time"

	"ordermesh/rpc"
)

// Order statuses, in lifecycle order. New orders default to StatusPending.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var orderStatuses = map[string]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusCompleted:  true,
	StatusCancelled:  true,
}

// OrderUser is the slice of the referenced user resolved into order reads.
type OrderUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Order is the stored order record. User is filled at read time from the
// referenced user, never stored.
type Order struct {
	ID          string     `json:"id"`
	Product     string     `json:"product"`
	Amount      float64    `json:"amount"`
	UserID      string     `json:"userId"`
	User        *OrderUser `json:"user,omitempty"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// CreateOrder is the create_order input.
type CreateOrder struct {
	Product     string  `json:"product"`
	Amount      float64 `json:"amount"`
	UserID      string  `json:"userId"`
	Description string  `json:"description,omitempty"`
}

// UpdateOrder is the update_order input. Nil fields are left unchanged.
type UpdateOrder struct {
	Product     *string  `json:"product,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Description *string  `json:"description,omitempty"`
}

func (in CreateOrder) Validate() error {
	if strings.TrimSpace(in.Product) == "" {
		return rpc.ValidationFailed("product must not be empty")
	}
	if in.Amount < 0 {
		return rpc.ValidationFailed("amount must not be negative")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return rpc.ValidationFailed("userId must not be empty")
	}
	return nil
}

func (in UpdateOrder) Validate() error {
	if in.Product != nil && strings.TrimSpace(*in.Product) == "" {
		return rpc.ValidationFailed("product must not be empty")
	}
	if in.Amount != nil && *in.Amount < 0 {
		return rpc.ValidationFailed("amount must not be negative")
	}
	if in.Status != nil && !orderStatuses[*in.Status] {
		return rpc.ValidationFailed("status %q is not one of pending, processing, completed, cancelled", *in.Status)
	}
	return nil
}
