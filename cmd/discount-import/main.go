// Command discount-import bulk-loads discount definitions from gzipped JSONL
// files into the database. Files are parsed concurrently; each line is one
// definition. Codes are imported first-occurrence-wins across all files.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
	"github.com/Nareshj7/userdiscounts/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
)

// discountJSON is the wire shape of one definition line.
type discountJSON struct {
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Type              string          `json:"type"`
	Value             decimal.Decimal `json:"value"`
	MinOrderValue     decimal.Decimal `json:"minOrderValue"`
	MaxDiscountAmount decimal.Decimal `json:"maxDiscountAmount"`
	StartsAt          *time.Time      `json:"startsAt"`
	ExpiresAt         *time.Time      `json:"expiresAt"`
	IsActive          *bool           `json:"isActive"`
	MaxUsesPerUser    int             `json:"maxUsesPerUser"`
	Priority          int             `json:"priority"`
	IsStackable       bool            `json:"isStackable"`
}

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no input files: pass one or more .jsonl.gz paths")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files); err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.NewStore(pool, 0)

	parsed := make(chan *discount.Discount, 1024)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeDiscounts(ctx, store, parsed)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(parseFile(gctx, f, parsed))
	}
	err = g.Wait()
	close(parsed)
	if werr := <-writeErr; err == nil {
		err = werr
	}
	return err
}

// parseFile streams one gzipped JSONL file and sends valid definitions on out.
func parseFile(ctx context.Context, path string, out chan<- *discount.Discount) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		var line int
		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}

			var row discountJSON
			if err := json.Unmarshal([]byte(text), &row); err != nil {
				return errors.Wrapf(err, "parse %s line %d", path, line)
			}
			d, err := toDomain(row)
			if err != nil {
				return errors.Wrapf(err, "validate %s line %d", path, line)
			}

			select {
			case out <- d:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("file parsed", slog.String("file", path), slog.Int("lines", line))
		return nil
	}
}

func toDomain(row discountJSON) (*discount.Discount, error) {
	if row.Code == "" {
		return nil, errors.New("code is required")
	}
	t := discount.Type(row.Type)
	if !t.Valid() {
		return nil, errors.Errorf("unsupported discount type %q", row.Type)
	}
	if row.Value.IsNegative() {
		return nil, errors.Errorf("value must not be negative, got %s", row.Value)
	}

	active := true
	if row.IsActive != nil {
		active = *row.IsActive
	}

	return &discount.Discount{
		ID:                uuid.New().String(),
		Code:              row.Code,
		Name:              row.Name,
		Description:       row.Description,
		Type:              t,
		Value:             row.Value,
		MinOrderValue:     row.MinOrderValue,
		MaxDiscountAmount: row.MaxDiscountAmount,
		StartsAt:          row.StartsAt,
		ExpiresAt:         row.ExpiresAt,
		IsActive:          active,
		MaxUsesPerUser:    row.MaxUsesPerUser,
		Priority:          row.Priority,
		IsStackable:       row.IsStackable,
	}, nil
}

// writeDiscounts upserts definitions, skipping codes already seen so the
// first occurrence across all files wins.
func writeDiscounts(ctx context.Context, store *postgres.Store, in <-chan *discount.Discount) error {
	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	var written, skipped int

	for d := range in {
		if seen.TestString(d.Code) {
			skipped++
			continue
		}
		seen.AddString(d.Code)

		if err := store.UpsertDiscount(ctx, d); err != nil {
			// Drain so blocked parsers can finish and the caller sees
			// this error rather than a stuck pipeline.
			for range in {
				skipped++
			}
			return errors.Wrapf(err, "upsert discount %s", d.Code)
		}
		written++
		if written%progressEvery == 0 {
			slog.Info("write progress", slog.Int("written", written), slog.Int("skipped", skipped))
		}
	}

	slog.Info("write complete", slog.Int("written", written), slog.Int("skipped", skipped))
	return nil
}
