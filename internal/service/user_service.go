package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskflow/internal/auth"
	"taskflow/internal/cache"
	apperrors "taskflow/internal/errors"
	"taskflow/internal/model"
	"taskflow/internal/repository"
)

const bcryptCost = 10

const (
	userListCacheKey = "users:all"
	userListCacheTTL = 5 * time.Minute
)

// UserService handles registration, login and user listing.
type UserService interface {
	Register(ctx context.Context, caller *model.User, name, email, password, role string) (*model.User, error)
	Login(ctx context.Context, email, password string) (token string, user *model.User, err error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type userService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	cache  *cache.Client
}

// NewUserService builds a UserService.
func NewUserService(users repository.UserRepository, tokens *auth.TokenService, cache *cache.Client) UserService {
	return &userService{users: users, tokens: tokens, cache: cache}
}

// Register creates a new user. The very first user must be created as admin
// and needs no caller; afterwards only an authenticated admin may register
// users. The bootstrap insert is atomic against concurrent first requests.
func (s *userService) Register(ctx context.Context, caller *model.User, name, email, password, role string) (*model.User, error) {
	if name == "" || email == "" || password == "" {
		return nil, apperrors.ErrMissingFields
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, apperrors.ErrEmailInUse
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	adminExists, err := s.users.ExistsWithRole(ctx, model.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("check bootstrap state: %w", err)
	}

	if !adminExists {
		if role != model.RoleAdmin {
			return nil, apperrors.ErrFirstUserMustBeAdmin
		}
		user, err := s.newUser(name, email, password, model.RoleAdmin)
		if err != nil {
			return nil, err
		}
		created, err := s.users.CreateIfNoAdmin(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("create bootstrap admin: %w", err)
		}
		if !created {
			// A concurrent bootstrap won; this request now falls under the
			// post-bootstrap rule and it has no admin caller.
			return nil, apperrors.ErrForbidden
		}
		s.cache.Delete(ctx, userListCacheKey)
		return user, nil
	}

	if caller == nil || !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}

	if role == "" {
		role = model.RoleUser
	}
	if !model.ValidRole(role) {
		return nil, apperrors.ErrInvalidRole
	}
	user, err := s.newUser(name, email, password, role)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.ErrEmailInUse
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.cache.Delete(ctx, userListCacheKey)
	return user, nil
}

// Login verifies credentials and issues an access token. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *userService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	if email == "" || password == "" {
		return "", nil, apperrors.ErrMissingFields
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, apperrors.ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperrors.ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]model.User, error) {
	var cached []model.User
	if s.cache.GetJSON(ctx, userListCacheKey, &cached) {
		return cached, nil
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, userListCacheKey, users, userListCacheTTL)
	return users, nil
}

func (s *userService) newUser(name, email, password, role string) (*model.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
	}, nil
}
