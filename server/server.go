package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChunkFM/cache"
	"ChunkFM/config"
	"ChunkFM/core/delivery"
	"ChunkFM/core/selector"
	"ChunkFM/core/upload"
	"ChunkFM/db"
	"ChunkFM/logger"
	"ChunkFM/model"
	"ChunkFM/repository"
	"ChunkFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/chunkfm.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	})

	// 设置服务器超时
	// WriteTimeout stays 0: the continuous stream endpoint writes for the
	// whole connection lifetime and must not be cut by a deadline.
	server := &http.Server{
		Addr:        cfg.ServerAddr,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseDB()

	// GORM 仅用于表结构迁移
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database with GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.Track{}); err != nil {
		logger.Fatal("Failed to migrate database schema", logger.ErrorField(err))
	}

	// Connect to Redis
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()
	logger.Info("Successfully connected to Redis")

	// Chunk storage backend
	var store storage.ChunkStore
	switch cfg.StorageBackend {
	case config.StorageMinio:
		minioStore, err := storage.NewMinioChunkStore(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
		}
		store = minioStore
	default:
		localStore, err := storage.NewLocalChunkStore(cfg.ChunkDir, cfg.ChunkMode, cfg.ChunkSize)
		if err != nil {
			logger.Fatal("Failed to initialize chunk storage", logger.ErrorField(err))
		}
		store = localStore
	}

	avail := storage.NewAvailabilityCache(store, cfg.ChunkMode)
	defer avail.Close()
	if localStore, ok := store.(*storage.LocalChunkStore); ok {
		if err := avail.Watch(localStore.BaseDir()); err != nil {
			logger.Warn("availability watcher disabled", logger.ErrorField(err))
		}
	}

	trackRepo := repository.NewMySQLTrackRepository()
	nowPlaying := cache.NewNowPlayingCache(db.RedisClient, 0)
	picker := selector.New(trackRepo, avail)
	engine := delivery.NewEngine(trackRepo, store, picker, nowPlaying, cfg.ChunkMode, delivery.Options{
		StreamFormat:         cfg.StreamFormat,
		PollEveryChunks:      cfg.PollEveryChunks,
		LivenessPollInterval: cfg.LivenessPollInterval,
		FaultPause:           cfg.FaultPause,
		HoldAfterTrack:       cfg.HoldAfterTrack,
	})
	uploader := upload.NewCoordinator(trackRepo, store, avail, cfg.MaxChunkBytes)

	radioHandler := NewRadioHandler(trackRepo, picker, engine, uploader, nowPlaying, cfg)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
	router.Use(SessionMiddleware)

	// API Endpoints
	router.HandleFunc("/", radioHandler.IndexHandler).Methods(http.MethodGet)
	router.HandleFunc("/get", radioHandler.GetNextHandler).Methods(http.MethodGet)
	router.HandleFunc("/play", radioHandler.PlayHandler).Methods(http.MethodGet)
	router.HandleFunc("/metadata", radioHandler.MetadataHandler).Methods(http.MethodGet)
	router.HandleFunc("/skip", radioHandler.SkipHandler).Methods(http.MethodPost)
	router.HandleFunc("/upload", radioHandler.UploadHandler).Methods(http.MethodPost)
	router.HandleFunc("/remove", radioHandler.RemoveHandler).Methods(http.MethodDelete)
	router.HandleFunc("/toggle", radioHandler.ToggleHandler).Methods(http.MethodPost)
	router.HandleFunc("/stream/ws", radioHandler.WebSocketStreamHandler).Methods(http.MethodGet)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ServerAddr))
		logger.Info("Pick tracks via GET /get, fetch chunks via GET /play?current_track=&current_chunk=")
		logger.Info("Continuous radio via GET /play, skip via POST /skip")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}
