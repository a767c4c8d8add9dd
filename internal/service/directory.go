package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Directory answers "who holds these roles in that department".
type Directory interface {
	UsersByRoles(ctx context.Context, departmentID uuid.UUID, roles ...string) ([]model.User, error)
	// Invalidate drops every cached lookup for the department. Call it after
	// the department's membership changes.
	Invalidate(ctx context.Context, departmentID uuid.UUID) error
}

type directory struct {
	users  repository.UserRepository
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectory returns a Directory backed by the user table. When cache is non-nil
// lookups are cached in Redis for ttl.
func NewDirectory(users repository.UserRepository, cache *redis.Client, ttl time.Duration, logger *zap.Logger) Directory {
	return &directory{users: users, cache: cache, ttl: ttl, logger: logger}
}

type cachedUser struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	DepartmentID uuid.UUID `json:"department_id"`
}

func directoryKey(departmentID uuid.UUID, roles []string) string {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return fmt.Sprintf("directory:%s:%s", departmentID, strings.Join(sorted, ","))
}

func departmentKeyPattern(departmentID uuid.UUID) string {
	return fmt.Sprintf("directory:%s:*", departmentID)
}

func (d *directory) Invalidate(ctx context.Context, departmentID uuid.UUID) error {
	if d.cache == nil {
		return nil
	}

	var keys []string
	iter := d.cache.Scan(ctx, 0, departmentKeyPattern(departmentID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan directory cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := d.cache.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear directory cache: %w", err)
	}
	d.logger.Debug("Directory cache cleared", zap.String("department_id", departmentID.String()), zap.Int("keys", len(keys)))
	return nil
}

func (d *directory) UsersByRoles(ctx context.Context, departmentID uuid.UUID, roles ...string) ([]model.User, error) {
	key := directoryKey(departmentID, roles)

	if d.cache != nil {
		raw, err := d.cache.Get(ctx, key).Bytes()
		if err == nil {
			var cached []cachedUser
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				users := make([]model.User, 0, len(cached))
				for _, c := range cached {
					users = append(users, model.User{ID: c.ID, Username: c.Username, Email: c.Email, Role: c.Role, DepartmentID: c.DepartmentID})
				}
				return users, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			d.logger.Warn("Directory cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	users, err := d.users.ListByDepartmentRoles(ctx, departmentID, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}

	if d.cache != nil {
		cached := make([]cachedUser, 0, len(users))
		for _, u := range users {
			cached = append(cached, cachedUser{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role, DepartmentID: u.DepartmentID})
		}
		if payload, jsonErr := json.Marshal(cached); jsonErr == nil {
			if setErr := d.cache.Set(ctx, key, payload, d.ttl).Err(); setErr != nil {
				d.logger.Warn("Directory cache write failed", zap.String("key", key), zap.Error(setErr))
			}
		}
	}

	return users, nil
}

// userIDs extracts ids in input order.
func userIDs(users []model.User) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
