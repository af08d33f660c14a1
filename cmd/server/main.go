package main

import (
	"log"
	"net/http"
	"strings"

	_ "taskflow/docs" // swagger docs

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"taskflow/internal/auth"
	"taskflow/internal/cache"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/handler"
	"taskflow/internal/model"
	"taskflow/internal/repository"
	"taskflow/internal/router"
	"taskflow/internal/service"
)

// @title Taskflow API
// @version 1.0
// @description Role-based task management API with JWT authentication. The first registered user becomes the bootstrap admin.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()

	e := echo.New()
	e.Use(middleware.RequestID())

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database init: %v", err)
	}

	if err := gormDB.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	userRepo := repository.NewUserRepository(gormDB)
	taskRepo := repository.NewTaskRepository(gormDB)

	tokenService := auth.NewTokenService(cfg.JWTSecret)
	gate := auth.NewGate(tokenService, userRepo)

	userService := service.NewUserService(userRepo, tokenService, cacheClient)
	taskService := service.NewTaskService(taskRepo, cacheClient)

	userHandler := handler.NewUserHandler(userService)
	taskHandler := handler.NewTaskHandler(taskService)

	router.Register(e, gate, userHandler, taskHandler)

	if cfg.SwaggerHost != "" {
		host := cfg.SwaggerHost
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "http://" + host
		}
		log.Printf("Swagger documentation available at: %s/swagger/index.html", host)
	} else {
		log.Printf("Swagger documentation available at: http://localhost:%s/swagger/index.html", cfg.ServerPort)
	}

	addr := ":" + cfg.ServerPort
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server start: %v", err)
	}
}
