package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/repository/postgres"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/config"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/services"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/logging"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to reach database", zap.Error(err))
	}

	reconciler := services.NewReconciler(
		postgres.NewTallyRepository(db),
		postgres.NewAggregateRepository(db),
		logger,
		services.ReconcilerConfig{Workers: cfg.ReconcileWorkers, Retry: services.DefaultRetryConfig()},
	)

	// Use a timeout for the job execution to prevent it from hanging indefinitely
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	logger.Info("starting reconcile sweep", zap.Int("workers", cfg.ReconcileWorkers))

	report, err := reconciler.ReconcileAll(ctx)
	if err != nil {
		logger.Fatal("reconcile sweep failed", zap.Error(err))
	}

	color.Cyan("\nReconcile sweep: %d keys visited, %d reconciled", report.KeysVisited, report.KeysReconciled)
	if len(report.Failures) == 0 {
		color.Green("All aggregates match their tallies.")
		return
	}

	color.Red("%d keys failed", len(report.Failures))
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"District", "Sub-district", "Election type", "Date", "Error"})
	for _, f := range report.Failures {
		table.Append([]string{
			fmt.Sprintf("%d", f.Key.DistrictID),
			fmt.Sprintf("%d", f.Key.SubDistrictID),
			fmt.Sprintf("%d", f.Key.ElectionTypeID),
			f.Key.Date.Format("2006-01-02"),
			f.Error,
		})
	}
	table.Render()
	os.Exit(1)
}
