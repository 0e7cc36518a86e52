// Package app assembles the control plane and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawpen/clawpen/internal/clawpen/auth"
	"github.com/clawpen/clawpen/internal/clawpen/httpapi"
	"github.com/clawpen/clawpen/internal/clawpen/lifecycle"
	"github.com/clawpen/clawpen/internal/clawpen/router"
	"github.com/clawpen/clawpen/internal/clawpen/runtime"
	"github.com/clawpen/clawpen/internal/clawpen/runtime/docker"
	"github.com/clawpen/clawpen/internal/clawpen/store"
	"github.com/clawpen/clawpen/internal/clawpen/team"
	"github.com/clawpen/clawpen/internal/clawpen/templates"
)

// Config holds application configuration.
type Config struct {
	// DatabasePath is the SQLite database location.
	DatabasePath string

	// HTTPAddr is the TCP listen address for the API server (e.g. ":8420").
	HTTPAddr string

	// DockerNetwork overrides the agent bridge network name.
	DockerNetwork string

	// AllowedMountBases bounds agent volume mount sources.
	AllowedMountBases []string

	// ReconcileInterval is how often drift repair runs. Defaults to 30s.
	ReconcileInterval time.Duration

	// TemplatesFS is an optional filesystem rooted at the templates
	// directory. Pass os.DirFS(path); nil disables templates.
	TemplatesFS fs.FS

	// TeamsFS is an optional filesystem rooted at the teams directory.
	// Pass os.DirFS(path); nil disables team routing.
	TeamsFS fs.FS

	// RegistrationEnabled opts the /auth/register endpoint in.
	RegistrationEnabled bool

	// LLM configures the team classification model. An empty APIKey leaves
	// llm and hybrid teams degrading to keywords and defaults.
	LLM router.Config
}

// App is the assembled control plane.
type App struct {
	config     *Config
	store      *store.Store
	auth       *auth.Service
	manager    *lifecycle.Manager
	reconciler *lifecycle.Reconciler
	server     *http.Server
}

// New wires the application. Corruption of the signing secret or the stored
// password hash surfaces here and must halt startup.
func New(ctx context.Context, config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	authService, err := auth.NewService(ctx, st, config.RegistrationEnabled, slog.Default())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	networkName := config.DockerNetwork
	if networkName == "" {
		networkName = runtime.DefaultNetwork
	}
	adapter, err := docker.NewWithNetwork(networkName, config.AllowedMountBases)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize container runtime: %w", err)
	}
	if err := adapter.EnsureNetwork(ctx); err != nil {
		slog.Warn("could not ensure agent network; starting agents may fail",
			"network", networkName, "error", err)
	}

	var templateRegistry *templates.Registry
	if config.TemplatesFS != nil {
		templateRegistry = templates.NewRegistry(config.TemplatesFS)
		slog.Info("template catalog ready")
	}

	manager := lifecycle.NewManager(st, adapter, templateRegistry, lifecycle.Options{
		AllowedMountBases: config.AllowedMountBases,
	})

	reconciler := lifecycle.NewReconciler(manager, lifecycle.ReconcilerConfig{
		Interval: config.ReconcileInterval,
	})

	var teamRegistry *team.Registry
	if config.TeamsFS != nil {
		teamRegistry, err = team.NewRegistry(config.TeamsFS)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to load team catalog: %w", err)
		}
		slog.Info("team catalog ready", "teams", teamRegistry.List())
	} else {
		teamRegistry, _ = team.NewRegistry(emptyFS{})
	}

	var provider router.Provider
	if config.LLM.APIKey != "" {
		provider = router.NewProvider(config.LLM)
		slog.Info("classification model ready", "model", config.LLM.Model)
	} else {
		slog.Info("no classification model configured; llm teams degrade to keywords")
	}
	teamRouter := router.New(teamRegistry, provider, st, slog.Default())

	apiServer := httpapi.NewServer(authService, manager, teamRouter, teamRegistry, slog.Default())
	server := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		config:     config,
		store:      st,
		auth:       authService,
		manager:    manager,
		reconciler: reconciler,
		server:     server,
	}, nil
}

// SetPassword hashes and stores the admin password. Used by the CLI path;
// always overwrites.
func (a *App) SetPassword(ctx context.Context, password string) error {
	return a.auth.SetPassword(ctx, password)
}

// Run performs the startup reconciliation pass, then serves until a signal
// arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Heal any records left inconsistent by a crash before serving.
	if err := a.reconciler.Reconcile(ctx); err != nil {
		slog.Warn("startup reconciliation incomplete", "error", err)
	}
	go a.reconciler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-sigCh:
		slog.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	return nil
}

// Stop releases resources.
func (a *App) Stop() {
	slog.Info("closing database")
	a.store.Close()
}

// emptyFS is the team catalog when none is configured.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (emptyFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == "." {
		return nil, nil
	}
	return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
}
