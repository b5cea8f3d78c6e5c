package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hubflo/hubflo/internal/config"
	"github.com/hubflo/hubflo/internal/database"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/repository"
	"github.com/hubflo/hubflo/internal/seed"
	"github.com/hubflo/hubflo/internal/services"
	"github.com/spf13/cobra"

	_ "time/tzdata"
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a site directory into the hubflo database",
	Long:  `Reads contacts, project manager routing and optional starter tasks from a YAML file and writes them to the database configured in the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runSeed(cmd.Context(), path, dryRun)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringP("file", "f", "directory.yaml", "Seed file to load")
	rootCmd.Flags().Bool("dry-run", false, "Validate and count without writing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeed(ctx context.Context, path string, dryRun bool) error {
	cfg := config.Load()
	logger := logging.New(cfg.GinMode)
	ctx = logging.WithLogger(ctx, logger)

	file, err := seed.Load(path)
	if err != nil {
		return err
	}

	if err := database.Connect(cfg); err != nil {
		return err
	}
	if err := database.Migrate(); err != nil {
		return err
	}
	db := database.GetDB()

	directory := services.NewDirectoryService(repository.NewContactRepository(db), cfg.DefaultTimezone)
	tasks := services.NewTaskService(repository.NewTaskRepository(db), repository.NewAuditRepository(db))

	report, err := seed.Apply(ctx, file, directory, tasks, time.Now(), dryRun)
	if err != nil {
		return err
	}

	verb := "Seeded"
	if dryRun {
		verb = "Would seed"
	}
	fmt.Printf("%s %d contacts, %d project routes, %d tasks from %s\n", verb, report.Contacts, report.Routes, report.Tasks, path)
	return nil
}
