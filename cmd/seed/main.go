// Command seed loads records from a JSON file into the DynamoDB records
// table, for local development against dynamodb-local.
//
//	DYNAMODB_RECORDS_TABLE=records AWS_ENDPOINT=http://localhost:8000 \
//	  go run ./cmd/seed testdata/records.json
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/lensfeed/lensfeed/config"
	"github.com/lensfeed/lensfeed/internal/logging"
	"github.com/lensfeed/lensfeed/internal/models"
	"github.com/lensfeed/lensfeed/internal/sources"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	config.LoadEnv(env)
	logging.InitLogger()

	if len(os.Args) < 2 {
		slog.Error("[Seed] Usage: seed <records.json>")
		os.Exit(1)
	}

	payload, err := os.ReadFile(os.Args[1])
	if err != nil {
		slog.Error("[Seed] Failed to read records file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var records []models.RawRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		slog.Error("[Seed] Failed to parse records file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	table := os.Getenv("DYNAMODB_RECORDS_TABLE")
	if table == "" {
		slog.Error("[Seed] DYNAMODB_RECORDS_TABLE is required")
		os.Exit(1)
	}

	src, err := sources.NewDynamoSource(sources.DynamoConfig{
		Table:    table,
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("AWS_ENDPOINT"),
	})
	if err != nil {
		slog.Error("[Seed] Failed to build dynamo source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute*2)
	defer cancel()

	if err := src.Connect(ctx); err != nil {
		slog.Error("[Seed] Failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := src.PutRecords(ctx, records); err != nil {
		slog.Error("[Seed] Failed to write records", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("[Seed] Records written",
		slog.Int("count", len(records)),
		slog.String("table", table))
}
