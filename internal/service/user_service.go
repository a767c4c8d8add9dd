package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials is returned for any login or refresh failure so callers
// cannot tell which part was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// DTOs for Request validation
type CreateUserRequest struct {
	Username     string `json:"username" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	Role         string `json:"role" binding:"required"`
	DepartmentID string `json:"department_id" binding:"required"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	DepartmentID   uuid.UUID `json:"department_id"`
	DepartmentName string    `json:"department_name"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

// TokenConfig controls how session tokens are signed and how long they live.
type TokenConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// UserService defines the interface for business logic related to User
type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
}

type userService struct {
	repo        repository.UserRepository
	departments repository.DepartmentRepository
	directory   Directory
	tokens      TokenConfig
	now         func() time.Time
	logger      *zap.Logger
}

// NewUserService returns a new instance of UserService. New users clear the
// directory's cached lookups for their department.
func NewUserService(repo repository.UserRepository, departments repository.DepartmentRepository, directory Directory, tokens TokenConfig, logger *zap.Logger) UserService {
	if tokens.AccessTTL <= 0 {
		tokens.AccessTTL = 24 * time.Hour
	}
	if tokens.RefreshTTL <= 0 {
		tokens.RefreshTTL = 7 * 24 * time.Hour
	}
	return &userService{repo: repo, departments: departments, directory: directory, tokens: tokens, now: time.Now, logger: logger}
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	resp := &UserResponse{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Role:         user.Role,
		DepartmentID: user.DepartmentID,
		CreatedAt:    user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    user.UpdatedAt.Format(time.RFC3339),
	}
	if user.Department != nil {
		resp.DepartmentName = user.Department.Name
	}
	return resp
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	role := strings.ToUpper(req.Role)
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, req.Role)
	}
	deptID, err := parseID("department id", req.DepartmentID)
	if err != nil {
		return nil, err
	}
	dept, err := s.departments.FindByID(ctx, deptID)
	if err != nil {
		return nil, notFoundOr(err, "department")
	}

	// Double check username/email uniqueness via repo directly
	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("%w: username already exists", ErrConflict)
	}
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("%w: email already exists", ErrConflict)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		Password:     string(hashedPassword),
		Role:         role,
		DepartmentID: dept.ID,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Department = dept

	// A stale directory would leave the new user out of approval fan-out until the TTL expires.
	if err := s.directory.Invalidate(ctx, dept.ID); err != nil {
		s.logger.Error("Failed to clear directory cache", zap.String("department_id", dept.ID.String()), zap.Error(err))
	}

	return mapToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("User logged in", zap.String("user_id", user.ID.String()), zap.String("role", user.Role))
	return s.issueTokens(ctx, user)
}

// RefreshToken rotates a refresh token: the presented one is consumed and a new pair issued.
func (s *userService) RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error) {
	stored, err := s.repo.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	deleted, err := s.repo.DeleteRefreshToken(ctx, stored.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	// Another refresh consumed the token between the read and the delete.
	if deleted == 0 {
		return nil, ErrInvalidCredentials
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return s.issueTokens(ctx, user)
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	_, err := s.repo.DeleteRefreshToken(ctx, refreshToken)
	return err
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	uid, err := parseID("user id", id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		return nil, notFoundOr(err, "user")
	}
	return mapToResponse(user), nil
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.tokens.AccessTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"dept": user.DepartmentID.String(),
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.tokens.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refresh := &model.RefreshToken{
		UserID:    user.ID,
		Token:     hex.EncodeToString(raw),
		ExpiresAt: now.Add(s.tokens.RefreshTTL),
	}
	if err := s.repo.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenResponse{Token: tokenString, RefreshToken: refresh.Token, ExpiresAt: expiresAt}, nil
}
