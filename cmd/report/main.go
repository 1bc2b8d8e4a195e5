package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	chclient "barometer/internal/adapters/clickhouse"
	"barometer/internal/adapters/config"
	pgclient "barometer/internal/adapters/postgres"
	"barometer/internal/domain/analytics"
	chrepo "barometer/internal/repository/clickhouse"
	pgrepo "barometer/internal/repository/postgres"
	"barometer/internal/services/report"
	"barometer/internal/services/snapshot"
	"barometer/pkg/logger"
)

func main() {
	// Parse flags
	output := flag.String("output", "", "Write the report to this file instead of stdout")
	format := flag.String("format", "md", "Report format: md, json")
	exportDir := flag.String("export", "", "Also export every snapshot dataset (CSV+JSON) into this directory")
	asOf := flag.String("as-of", "", "Compute the snapshot as of this instant (RFC3339 or YYYY-MM-DD); default is the latest observation")
	movers := flag.Int("movers", 5, "Gainers and losers per board")
	flag.Parse()

	if *format != "md" && *format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format %q (want md or json)\n", *format)
		os.Exit(2)
	}

	cut, err := parseAsOf(*asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -as-of value %q: %v\n", *asOf, err)
		os.Exit(2)
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()

	// Connect to the warehouse and the dimension store. The report tool
	// recomputes from source, so Redis and Kafka stay out of the picture.
	ch, err := chclient.NewClient(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer ch.Close()

	pg, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	builder := snapshot.NewBuilder(
		chrepo.NewMetricStore(ch.Conn()),
		pgrepo.NewCurrencyRepository(pg.DB()),
		snapshot.Config{
			TopN:              cfg.Analytics.TopN,
			CorrelationWindow: days(cfg.Analytics.CorrelationWindowDays),
			AnomalyLookback:   days(cfg.Analytics.AnomalyLookbackDays),
		},
		log,
	)

	ctx := context.Background()

	snap, err := buildSnapshot(ctx, builder, cut)
	if err != nil {
		log.Fatalf("Failed to build snapshot: %v", err)
	}

	log.Infow("Snapshot computed",
		"observed_from", snap.ObservedFrom,
		"observed_to", snap.ObservedTo,
		"rows", snap.TotalRows(),
	)

	svc := report.NewService(log)
	rep := svc.Build(snap, *movers)

	if err := writeReport(svc, rep, *format, *output); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	if *exportDir != "" {
		files, err := svc.Export(*exportDir, snap)
		if err != nil {
			log.Fatalf("Failed to export datasets: %v", err)
		}
		log.Infow("✅ Datasets exported", "dir", *exportDir, "files", len(files))
	}
}

func buildSnapshot(ctx context.Context, builder *snapshot.Builder, cut time.Time) (*analytics.Snapshot, error) {
	if cut.IsZero() {
		return builder.Build(ctx)
	}
	return builder.BuildAt(ctx, cut)
}

func writeReport(svc *report.Service, rep *report.Report, format, output string) error {
	var payload []byte
	switch format {
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		payload = append(data, '\n')
	default:
		payload = []byte(svc.RenderMarkdown(rep))
	}

	if output == "" {
		_, err := os.Stdout.Write(payload)
		return err
	}
	return os.WriteFile(output, payload, 0o644)
}

// parseAsOf accepts a full RFC3339 instant or a bare day
func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
