package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bandmate/bandmate/backend/auth-service/handlers"
	"github.com/bandmate/bandmate/backend/auth-service/internal/config"
	"github.com/bandmate/bandmate/backend/auth-service/internal/database"
	"github.com/bandmate/bandmate/backend/auth-service/internal/password"
	"github.com/bandmate/bandmate/backend/auth-service/internal/sessions"
	"github.com/bandmate/bandmate/backend/auth-service/internal/tokens"
	"github.com/bandmate/bandmate/backend/auth-service/internal/users"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/logger"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/metrics"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/middleware"
)

var startTime = time.Now()

// purgeInterval is how often the expired-credential sweeper runs. The sweeper
// only removes rows past their expiry and never touches live sessions.
const purgeInterval = time.Hour

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v env=%s", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Server.Environment)

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	// (Keep this intentionally simple; production should use a stricter policy.)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	// Global middlewares: logging + recovery
	r.Use(gin.Logger(), gin.Recovery())

	// Connect to Redis early so the rate-limiter and session store can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Optional global rate limiter (per-user when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// shared runtime vars used by handlers/readiness
	var userSvc *users.Service
	var sessionsSvc *sessions.Service

	// Basic health endpoint
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness endpoint: return 200 only when critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["users"] = userSvc != nil
		deps["sessions"] = sessionsSvc != nil
		if userSvc == nil || sessionsSvc == nil {
			ready = false
		}

		// Redis readiness only matters when it backs a feature
		if cfg.Redis.Host != "" && cfg.RateLimit.UseRedis {
			deps["redis"] = redisClient != nil
			if redisClient == nil {
				ready = false
			}
		} else {
			deps["redis"] = true
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": time.Since(startTime).String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()})
	})

	ctx := context.Background()

	// MongoDB is the system of record for users; retry/backoff tolerates
	// startup races against the database container
	const maxAttempts = 5
	backoff := time.Second
	var client *mongo.Client
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c, errConn := database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if errConn == nil {
			client = c
			break
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if client == nil {
		logger.Fatalf("could not connect to MongoDB after %d attempts", maxAttempts)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	db := client.Database(cfg.MongoDB.Database)

	// session store: Redis when available (fast, TTL-evicted), Mongo otherwise
	var sessionsRepo sessions.Repository
	if redisClient != nil {
		sessionsRepo = sessions.NewRedisRepository(redisClient, "session:")
		logger.Infof("using Redis for refresh-credential storage")
	} else {
		mrepo := sessions.NewMongoRepository(db.Collection(database.SessionsCollection))
		if err := mrepo.EnsureIndexes(ctx); err != nil {
			logger.Fatalf("failed to ensure session indexes: %v", err)
		}
		sessionsRepo = mrepo
		logger.Infof("using MongoDB for refresh-credential storage")
	}

	usersRepo := users.NewMongoUserRepository(db.Collection(database.UsersCollection))
	if err := usersRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("failed to ensure user indexes: %v", err)
	}
	userSvc = users.NewService(usersRepo, sessionsRepo)

	codec := tokens.NewCodec(cfg.JWT)
	sessionsSvc = sessions.NewService(sessionsRepo, codec, userSvc, password.Verify)

	// seed admin account when configured
	if err := userSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.Name); err != nil {
		logger.Warnf("failed to seed admin account: %v", err)
	}

	// expired-credential sweeper; safe to run concurrently with everything else
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := sessionsSvc.PurgeExpired(context.Background())
			if err != nil {
				logger.Warnf("session purge failed: %v", err)
				continue
			}
			if n > 0 {
				metrics.SessionsPurged.Add(float64(n))
				logger.Infof("purged %d expired refresh credentials", n)
			}
		}
	}()

	// Register handlers
	authHandler := handlers.NewAuthHandler(cfg, userSvc, sessionsSvc)
	authHandler.Register(r.Group("/"))
	usersHandler := handlers.NewUsersHandler(userSvc, sessionsSvc)
	usersHandler.Register(r.Group("/api/v1"))
	handlers.RegisterSwagger(r)

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting auth service on %s (access TTL %s, refresh TTL %s)", addr, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
