package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskflow/internal/auth"
	apperrors "taskflow/internal/errors"
	"taskflow/internal/model"
)

// MockUserRepository is a mock implementation of repository.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *MockUserRepository) ExistsWithRole(ctx context.Context, role string) (bool, error) {
	args := m.Called(ctx, role)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) CreateIfNoAdmin(ctx context.Context, user *model.User) (bool, error) {
	args := m.Called(ctx, user)
	return args.Bool(0), args.Error(1)
}

func adminCaller() *model.User {
	return &model.User{ID: uuid.New(), Name: "Alice", Email: "alice@x.com", Role: model.RoleAdmin}
}

func userCaller() *model.User {
	return &model.User{ID: uuid.New(), Name: "Bob", Email: "bob@x.com", Role: model.RoleUser}
}

func TestUserService_Register(t *testing.T) {
	tests := []struct {
		name          string
		caller        *model.User
		userName      string
		email         string
		password      string
		role          string
		setupMock     func(*MockUserRepository)
		expectedError error
		expectedRole  string
	}{
		{
			name:     "bootstrap with user role fails validation",
			caller:   nil,
			userName: "Alice",
			email:    "alice@x.com",
			password: "pw1",
			role:     model.RoleUser,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "alice@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(false, nil)
			},
			expectedError: apperrors.ErrFirstUserMustBeAdmin,
		},
		{
			name:     "bootstrap with admin role succeeds without caller",
			caller:   nil,
			userName: "Alice",
			email:    "alice@x.com",
			password: "pw1",
			role:     model.RoleAdmin,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "alice@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(false, nil)
				m.On("CreateIfNoAdmin", mock.Anything, mock.AnythingOfType("*model.User")).Return(true, nil)
			},
			expectedRole: model.RoleAdmin,
		},
		{
			name:     "concurrent bootstrap loser is rejected",
			caller:   nil,
			userName: "Alice",
			email:    "alice@x.com",
			password: "pw1",
			role:     model.RoleAdmin,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "alice@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(false, nil)
				m.On("CreateIfNoAdmin", mock.Anything, mock.AnythingOfType("*model.User")).Return(false, nil)
			},
			expectedError: apperrors.ErrForbidden,
		},
		{
			name:     "post-bootstrap without caller fails",
			caller:   nil,
			userName: "Bob",
			email:    "bob@x.com",
			password: "pw2",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "bob@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(true, nil)
			},
			expectedError: apperrors.ErrForbidden,
		},
		{
			name:     "post-bootstrap with non-admin caller fails",
			caller:   userCaller(),
			userName: "Carol",
			email:    "carol@x.com",
			password: "pw3",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "carol@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(true, nil)
			},
			expectedError: apperrors.ErrForbidden,
		},
		{
			name:     "post-bootstrap with admin caller defaults role to user",
			caller:   adminCaller(),
			userName: "Bob",
			email:    "bob@x.com",
			password: "pw2",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "bob@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(true, nil)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.User")).Return(nil)
			},
			expectedRole: model.RoleUser,
		},
		{
			name:     "duplicate email fails regardless of caller role",
			caller:   adminCaller(),
			userName: "Bob",
			email:    "taken@x.com",
			password: "pw2",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "taken@x.com").Return(&model.User{Email: "taken@x.com"}, nil)
			},
			expectedError: apperrors.ErrEmailInUse,
		},
		{
			name:     "duplicate email fails without any caller",
			caller:   nil,
			userName: "Bob",
			email:    "taken@x.com",
			password: "pw2",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "taken@x.com").Return(&model.User{Email: "taken@x.com"}, nil)
			},
			expectedError: apperrors.ErrEmailInUse,
		},
		{
			name:     "unknown role is rejected",
			caller:   adminCaller(),
			userName: "Bob",
			email:    "bob@x.com",
			password: "pw2",
			role:     "superuser",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "bob@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(true, nil)
			},
			expectedError: apperrors.ErrInvalidRole,
		},
		{
			name:     "unique index race maps to email in use",
			caller:   adminCaller(),
			userName: "Bob",
			email:    "raced@x.com",
			password: "pw2",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "raced@x.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("ExistsWithRole", mock.Anything, model.RoleAdmin).Return(true, nil)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.User")).Return(gorm.ErrDuplicatedKey)
			},
			expectedError: apperrors.ErrEmailInUse,
		},
		{
			name:          "missing fields fail validation",
			caller:        adminCaller(),
			userName:      "",
			email:         "x@x.com",
			password:      "pw",
			setupMock:     func(m *MockUserRepository) {},
			expectedError: apperrors.ErrMissingFields,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)

			svc := NewUserService(mockRepo, auth.NewTokenService("test-secret"), nil)
			user, err := svc.Register(context.Background(), tt.caller, tt.userName, tt.email, tt.password, tt.role)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, user)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, user)
				assert.Equal(t, tt.email, user.Email)
				assert.Equal(t, tt.expectedRole, user.Role)
				assert.NotEmpty(t, user.PasswordHash)
				assert.NotEqual(t, tt.password, user.PasswordHash)
			}

			mockRepo.AssertExpectations(t)
		})
	}
}

func TestUserService_Login(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), 10)
	stored := &model.User{
		ID:           uuid.New(),
		Name:         "Alice",
		Email:        "alice@x.com",
		PasswordHash: string(hashed),
		Role:         model.RoleAdmin,
	}

	tests := []struct {
		name          string
		email         string
		password      string
		setupMock     func(*MockUserRepository)
		expectedError error
	}{
		{
			name:     "successful login",
			email:    "alice@x.com",
			password: "password123",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "alice@x.com").Return(stored, nil)
			},
		},
		{
			name:     "unknown email",
			email:    "ghost@x.com",
			password: "password123",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "ghost@x.com").Return(nil, gorm.ErrRecordNotFound)
			},
			expectedError: apperrors.ErrInvalidCredentials,
		},
		{
			name:     "wrong password",
			email:    "alice@x.com",
			password: "wrong",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "alice@x.com").Return(stored, nil)
			},
			expectedError: apperrors.ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)

			tokenService := auth.NewTokenService("test-secret")
			svc := NewUserService(mockRepo, tokenService, nil)

			token, user, err := svc.Login(context.Background(), tt.email, tt.password)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Empty(t, token)
				assert.Nil(t, user)
			} else {
				assert.NoError(t, err)
				assert.NotEmpty(t, token)
				assert.Equal(t, tt.email, user.Email)

				// The issued token must resolve back to the same user id.
				claims, err := tokenService.Validate(token)
				assert.NoError(t, err)
				assert.Equal(t, stored.ID, claims.UserID)
			}

			mockRepo.AssertExpectations(t)
		})
	}
}

func TestUserService_Login_StoreFailure(t *testing.T) {
	mockRepo := new(MockUserRepository)
	mockRepo.On("FindByEmail", mock.Anything, "alice@x.com").
		Return(nil, errors.New("dial tcp 127.0.0.1:3306: connect: connection refused"))

	svc := NewUserService(mockRepo, auth.NewTokenService("test-secret"), nil)
	_, _, err := svc.Login(context.Background(), "alice@x.com", "password123")

	// A store outage is not a credentials problem: it must surface as a 500,
	// never as INVALID_CREDENTIALS.
	assert.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)
	he := apperrors.MapErrorToHTTP(err)
	assert.Equal(t, http.StatusInternalServerError, he.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", he.Code)
}

func TestUserService_Login_GenericErrorShape(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), 10)

	mockRepo := new(MockUserRepository)
	mockRepo.On("FindByEmail", mock.Anything, "ghost@x.com").Return(nil, gorm.ErrRecordNotFound)
	mockRepo.On("FindByEmail", mock.Anything, "alice@x.com").Return(&model.User{
		ID: uuid.New(), Email: "alice@x.com", PasswordHash: string(hashed),
	}, nil)

	svc := NewUserService(mockRepo, auth.NewTokenService("test-secret"), nil)

	_, _, errUnknown := svc.Login(context.Background(), "ghost@x.com", "password123")
	_, _, errWrongPw := svc.Login(context.Background(), "alice@x.com", "nope")

	// Email enumeration must not be possible through the error.
	assert.Equal(t, errUnknown, errWrongPw)
}

func TestUserService_ListUsers(t *testing.T) {
	mockRepo := new(MockUserRepository)
	mockRepo.On("List", mock.Anything).Return([]model.User{
		{Name: "Alice", Role: model.RoleAdmin},
		{Name: "Bob", Role: model.RoleUser},
	}, nil)

	svc := NewUserService(mockRepo, auth.NewTokenService("test-secret"), nil)
	users, err := svc.ListUsers(context.Background())

	assert.NoError(t, err)
	assert.Len(t, users, 2)
	mockRepo.AssertExpectations(t)
}
