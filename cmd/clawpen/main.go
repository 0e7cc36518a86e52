package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/clawpen/clawpen/common/environment"
	"github.com/clawpen/clawpen/common/version"
	"github.com/clawpen/clawpen/internal/clawpen/app"
	"github.com/clawpen/clawpen/internal/clawpen/auth"
	"github.com/clawpen/clawpen/internal/clawpen/router"
	"github.com/clawpen/clawpen/internal/clawpen/store"
)

func main() {
	setPassword := pflag.String("set-password", "", "set the admin password and exit")
	pflag.Parse()

	fmt.Printf("Clawpen Control Plane\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config := loadConfig()

	if *setPassword != "" {
		if err := runSetPassword(config.DatabasePath, *setPassword); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Admin password updated.")
		return
	}

	clawpen, err := app.New(context.Background(), config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Clawpen: %v\n", err)
		os.Exit(1)
	}
	defer clawpen.Stop()

	if err := clawpen.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Clawpen: %v\n", err)
		os.Exit(1)
	}
}

// runSetPassword rotates the admin credential without bringing up the
// container runtime or the API server.
func runSetPassword(dbPath, password string) error {
	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	service, err := auth.NewService(context.Background(), st, false, slog.Default())
	if err != nil {
		return err
	}
	return service.SetPassword(context.Background(), password)
}

// loadConfig loads configuration from environment variables.
func loadConfig() *app.Config {
	config := &app.Config{
		DatabasePath:        environment.StringOr("CLAWPEN_DB_PATH", "./clawpen.db"),
		HTTPAddr:            environment.StringOr("CLAWPEN_LISTEN_ADDR", ":8420"),
		DockerNetwork:       environment.StringOr("CLAWPEN_DOCKER_NETWORK", ""),
		AllowedMountBases:   environment.StringSliceOr("CLAWPEN_ALLOWED_MOUNT_BASES", nil),
		ReconcileInterval:   environment.DurationOr("CLAWPEN_RECONCILE_INTERVAL", 30*time.Second),
		RegistrationEnabled: environment.BoolOr("CLAWPEN_ENABLE_REGISTRATION", false),
		LLM: router.Config{
			APIKey:  environment.StringOr("CLAWPEN_LLM_API_KEY", ""),
			BaseURL: environment.StringOr("CLAWPEN_LLM_BASE_URL", ""),
			Model:   environment.StringOr("CLAWPEN_LLM_MODEL", ""),
			Timeout: environment.DurationOr("CLAWPEN_LLM_TIMEOUT", 0),
		},
	}

	if dir := environment.StringOr("CLAWPEN_TEMPLATES_DIR", ""); dir != "" {
		config.TemplatesFS = os.DirFS(dir)
	}
	if dir := environment.StringOr("CLAWPEN_TEAMS_DIR", ""); dir != "" {
		config.TeamsFS = os.DirFS(dir)
	}
	return config
}
