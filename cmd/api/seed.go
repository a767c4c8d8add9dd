package main

import (
	"context"
	"errors"
	"fmt"

	"kanbanflow/internal/database"
	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"
	"kanbanflow/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSeedCmd() *cobra.Command {
	var (
		adminEmail    string
		adminPassword string
		departments   []string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the closure department, extra departments and an admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := database.Migrate(db); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			deptRepo := repository.NewDepartmentRepository(db)
			names := append([]string{cfg.Workflow.ClosureDepartment}, departments...)
			var pc *model.Department
			for _, name := range names {
				dept, err := ensureDepartment(ctx, deptRepo, name)
				if err != nil {
					return err
				}
				if pc == nil {
					pc = dept
				}
				log.Info("Department ready", zap.String("name", dept.Name), zap.String("id", dept.ID.String()))
			}

			userRepo := repository.NewUserRepository(db)
			if _, err := userRepo.GetByEmail(ctx, adminEmail); err == nil {
				log.Info("Admin user already exists", zap.String("email", adminEmail))
				return nil
			}

			// Seeding only adds an ADMIN, which no approval lookup asks for, so the directory runs uncached.
			directory := service.NewDirectory(userRepo, nil, 0, log)
			users := service.NewUserService(userRepo, deptRepo, directory, service.TokenConfig{Secret: []byte(cfg.Auth.JWTSecret)}, log)
			admin, err := users.CreateUser(ctx, service.CreateUserRequest{
				Username:     "admin",
				Email:        adminEmail,
				Password:     adminPassword,
				Role:         model.RoleAdmin,
				DepartmentID: pc.ID.String(),
			})
			if err != nil {
				return fmt.Errorf("failed to create admin user: %w", err)
			}
			log.Info("Admin user created", zap.String("id", admin.ID.String()), zap.String("email", admin.Email))
			return nil
		},
	}

	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@example.com", "admin login email")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "admin123", "admin login password")
	cmd.Flags().StringSliceVar(&departments, "department", nil, "additional department names to create")
	return cmd
}

func ensureDepartment(ctx context.Context, repo repository.DepartmentRepository, name string) (*model.Department, error) {
	dept, err := repo.FindByName(ctx, name)
	if err == nil {
		return dept, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up department %q: %w", name, err)
	}

	dept = &model.Department{Name: name}
	if err := repo.Create(ctx, dept); err != nil {
		return nil, fmt.Errorf("failed to create department %q: %w", name, err)
	}
	return dept, nil
}
