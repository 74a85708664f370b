package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/repository/postgres"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/config"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Usage: migrations [db flags] <name>, e.g. `migrations init_schema.up`.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if len(cfg.Args) < 1 {
		logger.Fatal("a migration name is required")
	}
	migrationName := cfg.Args[0]

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	basePath := filepath.Join(".", "internal", "adapters", "repository", "postgres", "migrations")
	fileName, err := migrationFilePath(basePath, migrationName)
	if err != nil {
		logger.Fatal("migration lookup failed", zap.String("name", migrationName), zap.Error(err))
	}

	fileContent, err := os.ReadFile(filepath.Join(basePath, fileName))
	if err != nil {
		logger.Fatal("failed to read migration", zap.String("file", fileName), zap.Error(err))
	}

	if _, err := db.Exec(string(fileContent)); err != nil {
		logger.Fatal("failed to execute migration", zap.String("file", fileName), zap.Error(err))
	}

	logger.Info("migration executed", zap.String("file", fileName))
}

func migrationFilePath(basePath string, migrationName string) (string, error) {
	regex, err := regexp.Compile(fmt.Sprintf(`^.*%s\.sql$`, regexp.QuoteMeta(migrationName)))
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	files, err := os.ReadDir(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to read migrations directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if regex.MatchString(f.Name()) {
			return f.Name(), nil
		}
	}

	return "", fmt.Errorf("migration file not found")
}
