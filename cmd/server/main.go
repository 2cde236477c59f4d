package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chesshub/internal/handlers"
	"chesshub/internal/matchmaking"
	"chesshub/internal/metrics"
	"chesshub/internal/models"
	"chesshub/internal/pipeline"
	"chesshub/internal/presence"
	"chesshub/internal/realtime"
	"chesshub/internal/registry"
	"chesshub/internal/repositories"
	mongorepo "chesshub/internal/repositories/mongo"
	"chesshub/internal/routers"
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// initUserDB connects to PostgreSQL and migrates the user directory.
func initUserDB() (*gorm.DB, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	user := getEnv("POSTGRES_USER", "postgres")
	password := getEnv("POSTGRES_PASSWORD", "postgres")
	dbname := getEnv("POSTGRES_DB", "chesshub")
	port := getEnv("POSTGRES_PORT", "5432")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslmode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	jwtSecret := getEnv("JWT_SECRET", "dev")

	userDB, err := initUserDB()
	if err != nil {
		logger.Fatal("Failed to initialize user database", zap.Error(err))
	}
	userRepo := &repositories.UserRepository{DB: userDB}

	mongoClient, err := mongorepo.NewClient(context.Background())
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Close(context.Background())
	gameRepo, err := mongorepo.NewGameRepo(mongoClient)
	if err != nil {
		logger.Fatal("Failed to open game collection", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	reg := registry.New(gameRepo, userRepo, logger)
	queue := matchmaking.NewQueue()
	pipe := pipeline.New(reg, gameRepo, userRepo, rdb, logger)
	tracker := presence.New(rdb, userRepo, logger)
	hub := realtime.NewHub()

	rt := realtime.NewHandlers(logger, hub, queue, reg, pipe, tracker, userRepo, gameRepo, jwtSecret)
	authHandler := handlers.NewAuthHandler(userRepo, jwtSecret)
	gameHandler := handlers.NewGameHandler(pipe, userRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.StartEvictionLoop(ctx)
	tracker.StartSweepLoop(ctx, func([]string) { rt.BroadcastLobbyPlayers() })

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{getEnv("CORS_ORIGIN", "http://localhost:5173")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(60*time.Second))
	router.Use(metrics.Middleware)

	routers.AuthRoutes(router, authHandler)
	routers.GameRoutes(router, gameHandler)
	routers.RealtimeRoutes(router, rt)

	addr := ":" + getEnv("PORT", "8080")
	logger.Info("chesshub listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, router); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
