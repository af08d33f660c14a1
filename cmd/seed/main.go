package main

import (
	"context"
	"log"

	"golang.org/x/crypto/bcrypt"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/model"
	"taskflow/internal/repository"
)

// Seeds the bootstrap admin from SEED_ADMIN_* environment variables. Safe to
// run repeatedly: it does nothing once an admin exists.
func main() {
	log.Println("Starting seed script...")

	cfg := config.Load()
	if cfg.SeedAdminPassword == "" {
		log.Fatal("SEED_ADMIN_PASSWORD must be set")
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")

	if err := gormDB.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedAdminPassword), 10)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	admin := &model.User{
		Name:         cfg.SeedAdminName,
		Email:        cfg.SeedAdminEmail,
		PasswordHash: string(hashed),
		Role:         model.RoleAdmin,
	}

	userRepo := repository.NewUserRepository(gormDB)
	created, err := userRepo.CreateIfNoAdmin(context.Background(), admin)
	if err != nil {
		log.Fatalf("Failed to seed admin: %v", err)
	}

	if created {
		log.Printf("Bootstrap admin created: %s (%s)", admin.Name, admin.Email)
	} else {
		log.Println("An admin already exists, nothing to do")
	}
}
