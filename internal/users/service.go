// Package users manages user accounts and their credentials. Roles and the
// blocked flag live here; the session manager only ever sees the user id.
package users

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/auth"
	"chargehub/internal/gateway"
	"chargehub/internal/models"
)

const (
	metadataSK   = "METADATA"
	credentialSK = "CREDENTIAL"
)

func userPK(userID string) string { return "USER#" + userID }

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// credential is stored separately from the user record so profile reads
// never touch the password hash.
type credential struct {
	UserID       string `json:"userId"`
	PasswordHash string `json:"passwordHash"`
}

// Service manages user records over the persistence gateway.
type Service struct {
	store  gateway.Store
	hasher auth.Hasher
	logger *zap.Logger
}

// NewService returns a user service.
func NewService(store gateway.Store, hasher auth.Hasher, logger *zap.Logger) *Service {
	return &Service{store: store, hasher: hasher, logger: logger}
}

// Register creates a new USER-role account with a hashed credential.
func (s *Service) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return nil, apperr.Validation("invalid email format")
	}
	if len(password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}

	if existing, err := s.GetByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperr.Conflict("email %s is already registered", email)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := time.Now().UTC()
	user := models.User{
		UserID:    "user-" + uuid.NewString()[:8],
		Email:     email,
		Name:      name,
		Role:      models.RoleUser,
		Blocked:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := gateway.Key{PK: userPK(user.UserID), SK: metadataSK}
	if err := s.store.Put(ctx, gateway.KindUsers, key, user, true); err != nil {
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return nil, apperr.Conflict("user id collision, retry")
		}
		return nil, err
	}
	credKey := gateway.Key{PK: userPK(user.UserID), SK: credentialSK}
	if err := s.store.Put(ctx, gateway.KindUsers, credKey, credential{UserID: user.UserID, PasswordHash: hash}, false); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("userId", user.UserID))
	return &user, nil
}

// Authenticate checks the credential pair and returns the user. Blocked
// accounts cannot authenticate.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if user.Blocked {
		return nil, apperr.Forbidden("account is blocked")
	}

	credKey := gateway.Key{PK: userPK(user.UserID), SK: credentialSK}
	doc, err := s.store.Get(ctx, gateway.KindUsers, credKey)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.Unauthorized("invalid email or password")
		}
		return nil, err
	}
	cred, err := gateway.Decode[credential](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.hasher.Compare(cred.PasswordHash, password); err != nil {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	key := gateway.Key{PK: userPK(userID), SK: metadataSK}
	doc, err := s.store.Get(ctx, gateway.KindUsers, key)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("User", userID)
		}
		return nil, err
	}
	user, err := gateway.Decode[models.User](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &user, nil
}

// GetByEmail returns the user with the given email, or nil.
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	items, err := s.store.QueryIndex(ctx, gateway.KindUsers, gateway.Query{Attr: "email", Value: email})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Key.SK != metadataSK {
			continue
		}
		user, err := gateway.Decode[models.User](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		return &user, nil
	}
	return nil, nil
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]models.User, error) {
	items, err := s.store.Scan(ctx, gateway.KindUsers, nil)
	if err != nil {
		return nil, err
	}

	users := []models.User{}
	for _, it := range items {
		if it.Key.SK != metadataSK {
			continue
		}
		user, err := gateway.Decode[models.User](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		users = append(users, user)
	}
	return users, nil
}

// UpdateName changes the display name on the caller's own profile.
func (s *Service) UpdateName(ctx context.Context, userID, name string) (*models.User, error) {
	if name == "" {
		return nil, apperr.Validation("name must not be empty")
	}
	return s.patch(ctx, userID, map[string]any{"name": name})
}

// UpdateRole changes a user's role.
func (s *Service) UpdateRole(ctx context.Context, userID string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.Validation("role must be one of: USER, TECH_SUPPORT, ADMIN")
	}
	return s.patch(ctx, userID, map[string]any{"role": role})
}

// SetBlocked blocks or unblocks an account.
func (s *Service) SetBlocked(ctx context.Context, userID string, blocked bool) (*models.User, error) {
	return s.patch(ctx, userID, map[string]any{"blocked": blocked})
}

// Delete removes the user and its credential.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, gateway.KindUsers, gateway.Key{PK: userPK(userID), SK: credentialSK}); err != nil {
		return err
	}
	return s.store.Delete(ctx, gateway.KindUsers, gateway.Key{PK: userPK(userID), SK: metadataSK})
}

func (s *Service) patch(ctx context.Context, userID string, set map[string]any) (*models.User, error) {
	set["updatedAt"] = time.Now().UTC()
	key := gateway.Key{PK: userPK(userID), SK: metadataSK}
	doc, err := s.store.Update(ctx, gateway.KindUsers, key, set, nil)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("User", userID)
		}
		return nil, err
	}
	user, err := gateway.Decode[models.User](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &user, nil
}
