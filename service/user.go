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

// UserService implements the user CRUD contract on top of a Repository.
type UserService struct {
	users storage.Repository
}

func NewUserService(users storage.Repository) *UserService {
	return &UserService{users: users}
}

// Register wires the user commands into the router.
func (s *UserService) Register(srv *rpc.Server) {
	srv.Register("create_user", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in domain.CreateUser
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.Create(ctx, in)
	})
	srv.Register("get_user", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in idPayload
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.FindOne(ctx, in.ID)
	})
	srv.Register("get_all_users", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.FindAll(ctx)
	})
	srv.Register("update_user", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in struct {
			ID         string            `json:"id"`
			UpdateData domain.UpdateUser `json:"updateData"`
		}
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.Update(ctx, in.ID, in.UpdateData)
	})
	srv.Register("delete_user", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in idPayload
		if err := decode(payload, &in); err != nil {
			return nil, err
		}
		return s.Remove(ctx, in.ID)
	})
}

// Create validates and persists a new user. The password is hashed before it
// touches storage and never appears in the returned record.
func (s *UserService) Create(ctx context.Context, in domain.CreateUser) (*domain.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	taken, err := s.usernameTaken(ctx, in.Username, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, rpc.ValidationFailed("username %q is already taken", in.Username)
	}

	log.Infof("creating user: %s", in.Username)
	now := time.Now()
	doc := storage.Document{
		"username":     in.Username,
		"email":        in.Email,
		"passwordHash": hashPassword(in.Password),
		"fullName":     in.FullName,
		"isActive":     true,
		"createdAt":    formatTime(now),
		"updatedAt":    formatTime(now),
	}
	id, err := s.users.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc["id"] = id
	return userFromDoc(doc), nil
}

// FindAll returns every user; an empty store yields an empty list.
func (s *UserService) FindAll(ctx context.Context) ([]*domain.User, error) {
	log.Debug("fetching all users")
	docs, err := s.users.FindWhere(ctx, nil)
	if err != nil {
		return nil, err
	}
	users := make([]*domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, userFromDoc(doc))
	}
	return users, nil
}

func (s *UserService) FindOne(ctx context.Context, id string) (*domain.User, error) {
	log.Debugf("fetching user with ID: %s", id)
	doc, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, rpc.NotFound("User", id)
	}
	return userFromDoc(doc), nil
}

// Update applies only the fields present in the input, re-validating each.
func (s *UserService) Update(ctx context.Context, id string, in domain.UpdateUser) (*domain.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Username != nil {
		taken, err := s.usernameTaken(ctx, *in.Username, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, rpc.ValidationFailed("username %q is already taken", *in.Username)
		}
	}

	log.Infof("updating user with ID: %s", id)
	partial := storage.Document{"updatedAt": formatTime(time.Now())}
	if in.Username != nil {
		partial["username"] = *in.Username
	}
	if in.Email != nil {
		partial["email"] = *in.Email
	}
	if in.Password != nil {
		partial["passwordHash"] = hashPassword(*in.Password)
	}
	if in.FullName != nil {
		partial["fullName"] = *in.FullName
	}
	if in.IsActive != nil {
		partial["isActive"] = *in.IsActive
	}
	doc, err := s.users.UpdateByID(ctx, id, partial)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, rpc.NotFound("User", id)
	}
	return userFromDoc(doc), nil
}

// Remove deletes the user or fails with NotFound; repeating the delete on an
// absent id fails the same way.
func (s *UserService) Remove(ctx context.Context, id string) (*DeleteResult, error) {
	log.Infof("deleting user with ID: %s", id)
	ok, err := s.users.DeleteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rpc.NotFound("User", id)
	}
	return &DeleteResult{
		Deleted: true,
		Message: fmt.Sprintf("User with ID %s has been deleted", id),
	}, nil
}

func (s *UserService) usernameTaken(ctx context.Context, username, selfID string) (bool, error) {
	docs, err := s.users.FindWhere(ctx, map[string]string{"username": username})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if docString(doc, "id") != selfID {
			return true, nil
		}
	}
	return false, nil
}

func userFromDoc(doc storage.Document) *domain.User {
	return &domain.User{
		ID:           docString(doc, "id"),
		Username:     docString(doc, "username"),
		Email:        docString(doc, "email"),
		PasswordHash: docString(doc, "passwordHash"),
		FullName:     docString(doc, "fullName"),
		IsActive:     docBool(doc, "isActive"),
		CreatedAt:    docTime(doc, "createdAt"),
		UpdatedAt:    docTime(doc, "updatedAt"),
	}
}
