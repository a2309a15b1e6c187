package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/pricing"
	"github.com/noah-isme/toko-pricing-matrix/internal/repo"
)

type options struct {
	path      string
	tier      string
	productID int64
	fieldID   int64
	siteID    int64
	width     int
	height    int
	apply     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.path, "file", "", "csv or xlsx matrix to check")
	flag.StringVar(&opts.tier, "tier", "standard", "tier the matrix belongs to (standard or promotional)")
	flag.Int64Var(&opts.productID, "product", 1, "product id used to scope the records")
	flag.Int64Var(&opts.fieldID, "field", 1, "field id used to scope the records")
	flag.Int64Var(&opts.siteID, "site", 1, "site id used to scope the records")
	flag.IntVar(&opts.width, "width", 0, "resolve a price for this width")
	flag.IntVar(&opts.height, "height", 0, "resolve a price for this height")
	flag.BoolVar(&opts.apply, "apply", false, "replace the scope in DATABASE_URL with the parsed records")
	flag.Parse()

	if opts.path == "" {
		log.Fatal("-file is required")
	}
	contents, err := os.ReadFile(opts.path)
	if err != nil {
		log.Fatalf("read matrix: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	records, err := check(ctx, os.Stdout, opts, contents)
	if err != nil {
		log.Fatal(err)
	}
	if !opts.apply {
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DatabaseURL: dbURL, ApplicationName: "matrixcheck"})
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	scope := matrix.Scope{ProductID: opts.productID, FieldID: opts.fieldID, SiteID: opts.siteID}
	if err := repo.NewMatrixStore(pool).ReplaceScope(ctx, scope, records); err != nil {
		log.Fatalf("replace scope: %v", err)
	}
	log.Printf("Replaced %s with %d records", scope, len(records))
}

// check parses contents, reports the grid and optionally resolves one lookup against it.
func check(ctx context.Context, out io.Writer, opts options, contents []byte) ([]matrix.Record, error) {
	tier, err := matrix.ParseTier(opts.tier)
	if err != nil {
		return nil, err
	}
	scope := matrix.Scope{ProductID: opts.productID, FieldID: opts.fieldID, SiteID: opts.siteID}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(opts.path))
	grid, err := matrix.ParseSource(contentType, filepath.Base(opts.path), contents)
	if err != nil {
		return nil, err
	}
	records, err := matrix.BuildRecords(scope, tier, grid)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "widths=%d heights=%d records=%d\n", len(grid.Widths), len(grid.Rows), len(records))

	store := matrix.NewMemoryStore()
	if err := store.ReplaceScope(ctx, scope, records); err != nil {
		return nil, err
	}
	resolver := pricing.NewResolver(store, nil)
	lowest, err := resolver.MinDimensions(ctx, scope, tier)
	if err != nil {
		return nil, err
	}
	highest, err := resolver.MaxDimensions(ctx, scope, tier)
	if err != nil {
		return nil, err
	}
	if lowest != nil && highest != nil {
		fmt.Fprintf(out, "min=%dx%d max=%dx%d\n", lowest.Width, lowest.Height, highest.Width, highest.Height)
	}

	if opts.width > 0 && opts.height > 0 {
		rec, err := resolver.Resolve(ctx, scope, tier, &opts.width, &opts.height)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			fmt.Fprintf(out, "%dx%d: no price\n", opts.width, opts.height)
		} else {
			fmt.Fprintf(out, "%dx%d: %s (%dx%d)\n", opts.width, opts.height, rec.Price.StringFixed(matrix.PricePlaces), rec.Width, rec.Height)
		}
	}
	return records, nil
}
