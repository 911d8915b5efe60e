package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/data"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/sse"
)

type App struct {
	Log      *logger.Logger
	Cfg      config.Config
	DB       *gorm.DB
	Router   *gin.Engine
	Repos    Repos
	Clients  Clients
	Services Services
	Hub      *sse.Hub
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	sqlite, err := data.NewSQLiteService(log, cfg.DBPath)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := sqlite.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, err
	}
	theDB := sqlite.DB()

	hub := sse.NewHub(log)
	reposet := wireRepos(theDB, log)

	clientset, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(log, cfg, reposet, clientset, hub)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, reposet, serviceset, hub)
	router := wireRouter(log, handlerset)

	return &App{
		Log:      log,
		Cfg:      cfg,
		DB:       theDB,
		Router:   router,
		Repos:    reposet,
		Clients:  clientset,
		Services: serviceset,
		Hub:      hub,
	}, nil
}

// Start spins up the pipeline workers and, when configured, the redis
// bus forwarder that mirrors other instances' dashboard events into the
// local hub.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Services.Orchestrator.Start(ctx)

	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			a.Log.Warn("Bus forwarder failed to start", "error", err)
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Orchestrator != nil {
		a.Services.Orchestrator.Stop()
	}
	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.Close(); err != nil {
			a.Log.Warn("Bus close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
