package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"ordermesh/domain"
	"ordermesh/rpc"
	"ordermesh/storage"
)

// UserReader resolves user references for order reads and create-time
// validation. *UserService satisfies it; a nil reader disables both the
// reference check and the inline join.
type UserReader interface {
	FindOne(ctx context.Context, id string) (*domain.User, error)
}

// OrderService implements the order CRUD contract. Order reads resolve the
// referenced user's username and email inline; the join happens at read
// time, nothing is denormalized into the order document.
type OrderService struct {
	orders storage.Repository
	users  UserReader
}

func NewOrderService(orders storage.Repository, users UserReader) *OrderService {
	return &OrderService{orders: orders, users: users}
}

// Register wires the order commands into the router.
func (s *OrderService) Register(srv *rpc.Server) {
	srv.Register("create_order", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in domain.CreateOrder
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.Create(ctx, in)
	})
	srv.Register("get_order", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in idPayload
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.FindOne(ctx, in.ID)
	})
	srv.Register("get_all_orders", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in struct {
			UserID string `json:"userId"`
		}
		if len(payload) > 0 {
			if err := decode(payload, &in); err != nil {
				return nil, err
			}
		}
		return s.FindAll(ctx, in.UserID)
	})
	srv.Register("update_order", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in struct {
			ID         string             `json:"id"`
			UpdateData domain.UpdateOrder `json:"updateData"`
		}
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.Update(ctx, in.ID, in.UpdateData)
	})
	srv.Register("delete_order", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in idPayload
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.Remove(ctx, in.ID)
	})
}

// Create validates and persists a new order with status pending. When a user
// reader is configured the referenced user must exist.
func (s *OrderService) Create(ctx context.Context, in domain.CreateOrder) (*domain.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.users != nil {
		if _, err := s.users.FindOne(ctx, in.UserID); err != nil {
			if rpc.IsKind(err, rpc.KindNotFound) {
				return nil, rpc.ValidationFailed("user %s does not exist", in.UserID)
			}
			return nil, err
		}
	}

	log.Infof("creating order for product: %s", in.Product)
	now := time.Now()
	doc := storage.Document{
		"product":     in.Product,
		"amount":      in.Amount,
		"userId":      in.UserID,
		"status":      domain.StatusPending,
		"description": in.Description,
		"createdAt":   formatTime(now),
		"updatedAt":   formatTime(now),
	}
	id, err := s.orders.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc["id"] = id
	return s.withUser(ctx, orderFromDoc(doc)), nil
}

// FindAll returns orders, optionally filtered to one user's. Empty results
// are a valid outcome, not an error.
func (s *OrderService) FindAll(ctx context.Context, userID string) ([]*domain.Order, error) {
	var filter map[string]string
	if userID != "" {
		filter = map[string]string{"userId": userID}
		log.Debugf("fetching orders for user: %s", userID)
	} else {
		log.Debug("fetching all orders")
	}
	docs, err := s.orders.FindWhere(ctx, filter)
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, s.withUser(ctx, orderFromDoc(doc)))
	}
	return orders, nil
}

func (s *OrderService) FindOne(ctx context.Context, id string) (*domain.Order, error) {
	log.Debugf("fetching order with ID: %s", id)
	doc, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, rpc.NotFound("Order", id)
	}
	return s.withUser(ctx, orderFromDoc(doc)), nil
}

// Update applies only the fields present in the input, re-validating each.
func (s *OrderService) Update(ctx context.Context, id string, in domain.UpdateOrder) (*domain.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	log.Infof("updating order with ID: %s", id)
	partial := storage.Document{"updatedAt": formatTime(time.Now())}
	if in.Product != nil {
		partial["product"] = *in.Product
	}
	if in.Amount != nil {
		partial["amount"] = *in.Amount
	}
	if in.Status != nil {
		partial["status"] = *in.Status
	}
	if in.Description != nil {
		partial["description"] = *in.Description
	}
	doc, err := s.orders.UpdateByID(ctx, id, partial)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, rpc.NotFound("Order", id)
	}
	return s.withUser(ctx, orderFromDoc(doc)), nil
}

// Remove deletes the order or fails with NotFound.
func (s *OrderService) Remove(ctx context.Context, id string) (*DeleteResult, error) {
	log.Infof("deleting order with ID: %s", id)
	ok, err := s.orders.DeleteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rpc.NotFound("Order", id)
	}
	return &DeleteResult{
		Deleted: true,
		Message: fmt.Sprintf("Order with ID %s has been deleted", id),
	}, nil
}

// withUser resolves the referenced user into the order. A dangling reference
// leaves the order as-is rather than failing the read.
func (s *OrderService) withUser(ctx context.Context, order *domain.Order) *domain.Order {
	if s.users == nil || order.UserID == "" {
		return order
	}
	user, err := s.users.FindOne(ctx, order.UserID)
	if err != nil {
		if !rpc.IsKind(err, rpc.KindNotFound) {
			log.Warnf("resolving user %s for order %s: %v", order.UserID, order.ID, err)
		}
		return order
	}
	order.User = &domain.OrderUser{Username: user.Username, Email: user.Email}
	return order
}

func orderFromDoc(doc storage.Document) *domain.Order {
	return &domain.Order{
		ID:          docString(doc, "id"),
		Product:     docString(doc, "product"),
		Amount:      docFloat(doc, "amount"),
		UserID:      docString(doc, "userId"),
		Status:      docString(doc, "status"),
		Description: docString(doc, "description"),
		CreatedAt:   docTime(doc, "createdAt"),
		UpdatedAt:   docTime(doc, "updatedAt"),
	}
}
