package repository

import (
	"context"
	"time"

	"kanbanflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository defines the interface for data access of User entities
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	ListByDepartmentRoles(ctx context.Context, departmentID uuid.UUID, roles []string) ([]model.User, error)

	SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error)
	// DeleteRefreshToken reports how many rows were removed so callers can
	// tell a consumed token from a live one.
	DeleteRefreshToken(ctx context.Context, token string) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new instance of UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return GetDB(ctx, r.db).Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).Preload("Department").First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListByDepartmentRoles returns the users of a department holding any of roles.
func (r *userRepository) ListByDepartmentRoles(ctx context.Context, departmentID uuid.UUID, roles []string) ([]model.User, error) {
	var users []model.User
	if len(roles) == 0 {
		return users, nil
	}
	if err := GetDB(ctx, r.db).
		Where("department_id = ? AND role IN ?", departmentID, roles).
		Order("username ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	return GetDB(ctx, r.db).Create(token).Error
}

func (r *userRepository) GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	if err := GetDB(ctx, r.db).First(&rt, "token = ?", token).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *userRepository) DeleteRefreshToken(ctx context.Context, token string) (int64, error) {
	result := GetDB(ctx, r.db).Where("token = ?", token).Delete(&model.RefreshToken{})
	return result.RowsAffected, result.Error
}

func (r *userRepository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result := GetDB(ctx, r.db).Where("expires_at < ?", now).Delete(&model.RefreshToken{})
	return result.RowsAffected, result.Error
}
