package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/joho/godotenv"

	"github.com/ragsql/ragsql/internal/config"
	"github.com/ragsql/ragsql/internal/demo/warehouse"
	"github.com/ragsql/ragsql/internal/observability"
	s3store "github.com/ragsql/ragsql/internal/storage/s3"
)

func main() {
	dir := flag.String("dir", "./demo-data", "output directory for parquet files and the schema document")
	users := flag.Int("users", 200, "number of users to generate")
	orders := flag.Int("orders", 1000, "number of orders to generate")
	seed := flag.Int64("seed", time.Now().UTC().UnixNano(), "random seed")
	upload := flag.Bool("upload", false, "upload the schema document to the configured object store")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadFromEnv("ragsql-demo")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	manifest, err := warehouse.Write(warehouse.Options{Dir: *dir, Users: *users, Orders: *orders, Seed: *seed})
	if err != nil {
		logger.Error("failed to write demo warehouse", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo warehouse written",
		slog.String("dir", *dir),
		slog.Int("users", manifest.Users),
		slog.Int("orders", manifest.Orders),
		slog.String("schema", manifest.SchemaPath),
	)

	if *upload {
		if !cfg.ObjectStore.Enabled {
			logger.Error("object store is not enabled; set RAGSQL_OBJECTSTORE_ENABLED=true")
			os.Exit(1)
		}
		key, err := uploadSchema(cfg, manifest.SchemaPath)
		if err != nil {
			logger.Error("failed to upload schema document", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema document uploaded", slog.String("key", key))
	}

	fmt.Printf("RAGSQL_TARGET_DRIVER=duckdb\nRAGSQL_TARGET_PARQUET_TABLES=%s\n", manifest.ParquetTables())
}

func uploadSchema(cfg config.Config, schemaPath string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := s3store.Open(ctx, cfg.ObjectStore, s3store.VerifyBucket())
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return "", err
	}
	key := path.Join("demo", warehouse.SchemaFileName)
	if _, err := store.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
