package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/aiserve/modelrouter/internal/api"
	"github.com/aiserve/modelrouter/internal/auth"
	"github.com/aiserve/modelrouter/internal/cache"
	"github.com/aiserve/modelrouter/internal/config"
	"github.com/aiserve/modelrouter/internal/database"
	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/engine"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/loader/formats"
	"github.com/aiserve/modelrouter/internal/logging"
	"github.com/aiserve/modelrouter/internal/metrics"
	"github.com/aiserve/modelrouter/internal/middleware"
	"github.com/aiserve/modelrouter/internal/pipeline"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/router"
	"github.com/aiserve/modelrouter/internal/transportgrpc"
)

var (
	developerMode bool
	debugMode     bool
)

func main() {
	setupRuntimeOptimizations()

	flag.BoolVar(&developerMode, "dv", false, "Enable developer mode")
	flag.BoolVar(&developerMode, "developer-mode", false, "Enable developer mode")
	flag.BoolVar(&debugMode, "dm", false, "Enable debug mode")
	flag.BoolVar(&debugMode, "debug-mode", false, "Enable debug mode")
	flag.Parse()

	if debugMode {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Debug mode enabled")
	}
	if developerMode {
		log.Println("Developer mode enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logging.SyslogConfig{
		Enabled:  cfg.Logging.SyslogEnabled,
		Network:  cfg.Logging.SyslogNetwork,
		Address:  cfg.Logging.SyslogAddress,
		Tag:      cfg.Logging.SyslogTag,
		Facility: cfg.Logging.SyslogFacility,
		FilePath: cfg.Logging.LogFile,
	}
	if err := logging.Initialize(logCfg); err != nil {
		log.Printf("Warning: failed to initialize logging: %v", err)
	}
	defer func() {
		if logger := logging.GetLogger(); logger != nil {
			logger.Close()
		}
	}()

	logLevel := logging.INFO
	if debugMode {
		logLevel = logging.DEBUG
	}
	logging.InitStructuredLogger("modelrouter", logLevel)

	if debugMode {
		log.Printf("Configuration loaded: %+v", cfg.Server)
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
	}

	multiCache, err := cache.NewMultiLayerCache(redisClient, cache.Config{
		LocalEnabled:  cfg.Cache.LocalEnabled,
		LocalSizeMB:   cfg.Cache.LocalSizeMB,
		LocalTTL:      cfg.Cache.LocalTTL,
		LocalEviction: cfg.Cache.LocalEviction,
		RedisEnabled:  cfg.Cache.RedisEnabled,
		RedisTTL:      cfg.Cache.LocalTTL,
		KeyPrefix:     cfg.Cache.KeyPrefix,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer multiCache.Close()

	journal := registry.NewJournal(cfg.Registry.JournalPath)
	reg := registry.New(cfg.Registry.Capacity, journal)
	if err := reg.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load registry journal: %v", err)
	}

	authSecrets := make(map[string]string)
	if cat, err := config.LoadCatalog(cfg.Catalog.Path); err != nil {
		log.Printf("Warning: failed to load model catalog %q: %v", cfg.Catalog.Path, err)
	} else {
		descs, err := cat.Descriptors()
		if err != nil {
			log.Fatalf("Failed to translate catalog into descriptors: %v", err)
		}
		for i, d := range descs {
			if _, err := reg.Get(d.ID); err == nil {
				continue // already restored from the journal
			}
			if _, err := reg.Register(context.Background(), d); err != nil {
				log.Printf("Warning: failed to register catalog model %q: %v", d.ID, err)
				continue
			}
			if m := cat.Models[i]; m.Provider != "" {
				if secret := cat.ProviderAPIKey(m.Provider); secret != "" {
					authSecrets[d.ID] = secret
				}
			}
		}
		log.Printf("Loaded %d model(s) from catalog %s", len(descs), cfg.Catalog.Path)
	}

	if available := engine.NewSelector().Available(); len(available) > 0 {
		log.Printf("Execution substrates available on this host: %v", available)
	} else {
		log.Printf("No execution substrates detected; native/worker-backed loads will fail until one is available")
	}

	dispatcher := loader.NewDispatcher(
		formats.NewAPILoader(func(d descriptor.Descriptor) string { return authSecrets[d.ID] }),
		&formats.GraphLoader{},
		&formats.ChildProcessLoader{
			PythonPath: "python3",
			WorkerScriptFor: func(format descriptor.Format) string {
				return fmt.Sprintf("./workers/%s_worker.py", format)
			},
		},
		formats.NativeLoader{},
		formats.MockLoader{},
	)

	authService := auth.NewService(db, &cfg.Auth)
	healthTracker := router.NewHealthTracker()
	rtr := router.New(reg, healthTracker, router.StrategyName(cfg.Router.DefaultStrategy))

	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	go healthTracker.Monitor(healthCtx, cfg.Router.HealthCheckInterval)

	executor := &pipeline.Executor{
		Registry:     reg,
		Router:       rtr,
		Cache:        multiCache,
		Health:       healthTracker,
		MaxFallbacks: cfg.Router.MaxFallbacks,
		Authorize: func(pc *pipeline.Context) (bool, error) {
			return pc.APIKey != "", nil
		},
	}

	m := metrics.GetMetrics()
	m.StartCollection(context.Background())

	authMiddleware := middleware.NewAuthMiddleware(authService, cfg.Auth.JWTSecret)
	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient)
	}

	authHandler := api.NewAuthHandler(authService)
	modelHandler := api.NewModelHandler(executor, reg, dispatcher, authService)
	wsHandler := api.NewWebSocketHandler(executor)
	observabilityHandler := api.NewObservabilityHandler(reg, healthTracker, multiCache)

	muxRouter := mux.NewRouter()
	muxRouter.Use(middleware.Recovery)
	muxRouter.Use(middleware.RequestID)
	muxRouter.Use(middleware.Logger)
	muxRouter.Use(middleware.CORS)

	muxRouter.HandleFunc("/health", observabilityHandler.HandleHealth).Methods("GET")
	muxRouter.HandleFunc("/metrics", observabilityHandler.HandleMetrics).Methods("GET")
	muxRouter.HandleFunc("/stats", observabilityHandler.HandleStats).Methods("GET")

	apiRouter := muxRouter.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	apiRouter.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	protected := apiRouter.PathPrefix("").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	if rateLimiter != nil {
		protected.Use(rateLimiter.Limit(100))
	}

	admin := protected.PathPrefix("").Subrouter()
	admin.Use(authMiddleware.RequireAdmin)
	admin.HandleFunc("/auth/apikey", authHandler.CreateAPIKey).Methods("POST")

	protected.HandleFunc("/models", modelHandler.ListModels).Methods("GET")
	protected.HandleFunc("/models", modelHandler.Register).Methods("POST")
	protected.HandleFunc("/models/{id}/load", modelHandler.Load).Methods("POST")
	protected.HandleFunc("/models/{id}", modelHandler.Unload).Methods("DELETE")
	protected.HandleFunc("/generate", modelHandler.Generate).Methods("POST")

	wsRouter := muxRouter.PathPrefix("/ws").Subrouter()
	wsRouter.Use(authMiddleware.RequireAuth)
	wsRouter.HandleFunc("/generate", wsHandler.HandleConnection)

	grpcSrv := transportgrpc.NewServer(authService, executor, reg, dispatcher)
	grpcHost := cfg.Server.Host
	if strings.Contains(grpcHost, ":") {
		grpcHost = "[" + grpcHost + "]"
	}
	grpcAddr := fmt.Sprintf("%s:%d", grpcHost, cfg.Server.GRPCPort)
	go func() {
		log.Printf("Starting gRPC server on %s", grpcAddr)
		if err := grpcSrv.Start(grpcAddr, cfg.Server.GRPCTLSCert, cfg.Server.GRPCTLSKey); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
	}()

	httpHost := cfg.Server.Host
	if strings.Contains(httpHost, ":") {
		httpHost = "[" + httpHost + "]"
	}
	addr := fmt.Sprintf("%s:%d", httpHost, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           muxRouter,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down servers...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grpcSrv.Stop()
	log.Println("gRPC server stopped")

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server forced to shutdown: %v", err)
	}
	log.Println("Servers exited gracefully")
}

func setupRuntimeOptimizations() {
	numCPU := runtime.NumCPU()
	if cpuLimit := os.Getenv("CPU_LIMIT"); cpuLimit != "" {
		if limit, err := strconv.Atoi(cpuLimit); err == nil && limit > 0 {
			numCPU = limit
		}
	}
	runtime.GOMAXPROCS(numCPU)
	log.Printf("GOMAXPROCS set to %d", numCPU)

	debug.SetGCPercent(200)

	if memLimit := os.Getenv("GOMEMLIMIT"); memLimit != "" {
		if limit := parseMemoryLimit(memLimit); limit > 0 {
			debug.SetMemoryLimit(limit)
			log.Printf("Go memory limit set to %s", memLimit)
		}
	}
	log.Println("Runtime optimizations applied")
}

func parseMemoryLimit(limit string) int64 {
	var value int64
	var unit string
	if n, err := fmt.Sscanf(limit, "%d%s", &value, &unit); n != 2 || err != nil {
		return 0
	}
	switch strings.ToUpper(unit) {
	case "GB", "G":
		return value * 1024 * 1024 * 1024
	case "MB", "M":
		return value * 1024 * 1024
	case "KB", "K":
		return value * 1024
	default:
		return value
	}
}
