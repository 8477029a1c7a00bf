package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	httpHandler "collab-codespace/internal/handler/http"
	wsHandler "collab-codespace/internal/handler/websocket"
	"collab-codespace/internal/hub"
	"collab-codespace/internal/infra/setup"
	"collab-codespace/internal/infra/state/failover"
	memorystate "collab-codespace/internal/infra/state/memory"
	redisstate "collab-codespace/internal/infra/state/redis"
	"collab-codespace/internal/middleware"
	"collab-codespace/internal/registry"
	"collab-codespace/internal/service"
	"collab-codespace/internal/tasks"
	"collab-codespace/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	ServerPort        string
	LogLevel          string
	AppEnv            string // 应用环境 (development/production)
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	KeyPrefix         string // Redis Key 前缀
	RoomCapacity      int
	SnapshotTTL       time.Duration
	HealthInterval    time.Duration
	HealthMaxFailures int
	ExecutionURL      string
	ExecutionTimeout  time.Duration
	RateLimitMax      int
	RateLimitWindow   time.Duration
	CORSOrigin        string
	EnforceRunAuth    bool
	PruneSchedule     string
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AppEnv:        getEnv("APP_ENV", "development"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:     getEnv("REDIS_KEY_PREFIX", "cs:"),
		ExecutionURL:  os.Getenv("EXECUTION_SERVICE_URL"),
		CORSOrigin:    getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		PruneSchedule: getEnv("INDEX_PRUNE_SCHEDULE", "@every 30m"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RoomCapacity, err = getEnvInt("ROOM_CAPACITY", registry.DefaultCapacity); err != nil {
		return nil, err
	}
	if cfg.HealthMaxFailures, err = getEnvInt("HEALTH_MAX_FAILURES", 3); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = getEnvInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = getEnvDuration("SNAPSHOT_TTL", service.DefaultSnapshotTTL); err != nil {
		return nil, err
	}
	if cfg.HealthInterval, err = getEnvDuration("HEALTH_CHECK_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ExecutionTimeout, err = getEnvDuration("EXECUTION_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getEnvDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if v := os.Getenv("ENFORCE_RUN_AUTHORITY"); v != "" {
		if cfg.EnforceRunAuth, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid ENFORCE_RUN_AUTHORITY %q: %w", v, err)
		}
	}

	if cfg.RoomCapacity <= 0 {
		return nil, fmt.Errorf("ROOM_CAPACITY must be positive, got %d", cfg.RoomCapacity)
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	RedisClient    *redis.Client
	Store          *failover.Store
	Hub            *hub.Hub
	AsynqServer    *worker.WorkerServer
	Scheduler      *asynq.Scheduler
	HttpServer     *http.Server
	Router         *gin.Engine
	redisClientOpt asynq.RedisClientOpt

	cancelHealth context.CancelFunc
}

// NewLogger 按配置创建 logger，并设置为 logrus 的全局 logger 配置。
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施。Redis 不可达时不阻止启动，由故障转移存储接管。
	log.Info("Initializing infrastructure...")
	redisClient, err := setup.InitRedis(setup.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if redisClient == nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	if err != nil {
		log.WithError(err).Warn("Redis unreachable at startup, serving from in-memory fallback")
	}
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	store := failover.NewStore(
		redisstate.NewRedisStore(redisClient, cfg.KeyPrefix),
		memorystate.NewMemoryStore(),
		failover.Options{Interval: cfg.HealthInterval, MaxFailures: cfg.HealthMaxFailures},
	)
	log.Info("Persistence gateway initialized")

	// 4. 初始化 Services
	codespaceService := service.NewCodespaceService(store, cfg.SnapshotTTL)
	executionService := service.NewExecutionService(cfg.ExecutionURL, nil, cfg.ExecutionTimeout)
	if cfg.ExecutionURL == "" {
		log.Warn("EXECUTION_SERVICE_URL not set, /run-code will reject requests")
	}
	log.WithField("snapshot_ttl", codespaceService.TTL()).Info("Services initialized")

	// 5. 初始化 Hub
	conns := registry.NewConnections()
	directory := registry.NewDirectory(conns, cfg.RoomCapacity)
	hubInstance := hub.NewHub(conns, directory, codespaceService, hub.Options{
		EnforceRunAuthority: cfg.EnforceRunAuth,
	})
	log.WithField("room_capacity", cfg.RoomCapacity).Info("Hub initialized")

	// 6. 初始化 Worker Server 和 Scheduler
	workerServer := worker.NewWorkerServer(redisClientOpt, store, log)
	scheduler := asynq.NewScheduler(redisClientOpt, &asynq.SchedulerOpts{Logger: log.WithField("component", "scheduler")})

	// 7. 初始化 Gin Engine 和路由
	router := NewRouter(cfg, log, redisClient, hubInstance, store, executionService)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		RedisClient:    redisClient,
		Store:          store,
		Hub:            hubInstance,
		AsynqServer:    workerServer,
		Scheduler:      scheduler,
		HttpServer:     httpServer,
		Router:         router,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// NewRouter 组装中间件与路由。
func NewRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, h *hub.Hub, store httpHandler.StoreStatus, executor httpHandler.Executor) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSOrigin))

	executionHandler := httpHandler.NewExecutionHandler(executor)
	socketHandler := wsHandler.NewWebSocketHandler(h, cfg.CORSOrigin)
	healthHandler := httpHandler.NewHealthHandler(h, store)

	router.POST("/run-code", middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow), executionHandler.RunCode)
	router.GET("/ws", socketHandler.HandleConnection)
	router.GET("/ping", healthHandler.Ping)
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")

	healthCtx, cancel := context.WithCancel(context.Background())
	a.cancelHealth = cancel
	go a.Store.Start(healthCtx)
	a.Log.Info("Persistence health monitor started")

	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	task, err := tasks.NewIndexPruneTask(time.Now())
	if err != nil {
		a.Log.Errorf("Failed to create index prune task: %v", err)
		return
	}
	entryID, err := a.Scheduler.Register(a.Config.PruneSchedule, task, asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("Could not register periodic index prune task: %v", err)
		return
	}
	a.Log.Infof("Periodic index prune task registered with schedule '%s' (EntryID: %s)", a.Config.PruneSchedule, entryID)

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.Scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		}
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新的连接和请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止 Hub，等待未完成的持久化操作
	if a.Hub != nil {
		a.Hub.Shutdown()
		a.Log.Info("Hub stopped.")
	}

	// 3. 停止后台任务
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 停止健康检查并关闭 Redis 连接
	if a.cancelHealth != nil {
		a.cancelHealth()
	}
	if a.Store != nil {
		a.Store.Stop()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 设置跨域响应头并直接应答预检请求。
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
