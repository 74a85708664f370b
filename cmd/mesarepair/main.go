package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	redislock "github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/lock/redis"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/repository/postgres"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/config"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/services"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/logging"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// -dry-run is ours; everything else is passed through to config.
	args := os.Args[1:]
	dryRun := false
	for i, a := range args {
		if a == "-dry-run" || a == "--dry-run" {
			dryRun = true
			args = append(args[:i:i], args[i+1:]...)
			break
		}
	}

	cfg, err := config.Load(os.Args[0], args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "  -dry-run\n    \tPrint the plan without writing")
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

	var locker ports.Locker
	if cfg.LockBackend == config.LockBackendRedis {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		locker = redislock.NewLocker(rdb, cfg.RepairLockTTL)
	} else {
		locker = postgres.NewAdvisoryLocker(db)
	}

	tallyRepo := postgres.NewTallyRepository(db)
	reconciler := services.NewReconciler(tallyRepo, postgres.NewAggregateRepository(db), logger,
		services.ReconcilerConfig{Workers: cfg.ReconcileWorkers, Retry: services.DefaultRetryConfig()})
	repairService := services.NewRepairService(postgres.NewTableRepository(db), reconciler, locker, logger,
		services.RepairConfig{MaxTablesCreated: cfg.MaxTablesCreated})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	run := repairService.Repair
	if dryRun {
		run = repairService.Preview
	}

	report, err := run(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRepairInProgress) {
			color.Yellow("Another repair is running; nothing done.")
			os.Exit(2)
		}
		logger.Fatal("table numbering repair failed", zap.Error(err))
	}

	printReport(report, dryRun)

	if len(report.Failed()) > 0 {
		os.Exit(1)
	}
}

func printReport(report domain.RepairReport, dryRun bool) {
	if dryRun {
		color.Cyan("\n=== Table numbering repair (dry run) ===")
	} else {
		color.Cyan("\n=== Table numbering repair ===")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"School", "Quota", "Before", "Numbers", "Renumbered", "Created", "Deleted", "Tallies deleted", "Status"})
	for _, s := range report.Schools {
		numbers := "-"
		if s.LastNumber >= s.FirstNumber && s.FirstNumber > 0 {
			numbers = fmt.Sprintf("%d-%d", s.FirstNumber, s.LastNumber)
		}
		status := string(s.Status)
		if s.Error != "" {
			status += ": " + s.Error
		}
		table.Append([]string{
			fmt.Sprintf("%d", s.SchoolID),
			fmt.Sprintf("%d", s.Quota),
			fmt.Sprintf("%d", s.TablesBefore),
			numbers,
			fmt.Sprintf("%d", s.Renumbered),
			fmt.Sprintf("%d", s.Created),
			fmt.Sprintf("%d", s.Deleted),
			fmt.Sprintf("%d", s.TalliesDeleted),
			status,
		})
	}
	table.Render()

	fmt.Printf("Schools: %d  Renumbered: %d  Created: %d  Deleted: %d  Tallies deleted: %d  Aggregates reconciled: %d\n",
		report.SchoolsProcessed, report.TablesRenumbered, report.TablesCreated, report.TablesDeleted,
		report.TalliesDeleted, report.AggregatesReconciled)

	under, failed := report.UnderQuota(), report.Failed()
	if len(under) > 0 {
		color.Yellow("%d schools remain under quota (creation limit reached)", len(under))
	}
	if len(failed) > 0 {
		color.Red("%d schools failed and were left unchanged; run the repair again", len(failed))
	}
	if len(under) == 0 && len(failed) == 0 {
		color.Green("Numbering is contiguous and every school has its quota.")
	}
}
