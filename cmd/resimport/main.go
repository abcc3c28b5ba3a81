// resimport copies a resource file tree into the Postgres resources table.
//
// Usage:
//
//	go run ./cmd/resimport [-root resources] [-batch 64] [-dry]
//
// Files are expected at <root>/{files,images,music}/<hash>.<ext>; anything
// else is skipped. The database comes from the [database] section of the
// config named by SIMCORE_CONFIG (default config/simcore.toml).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/simcore/engine/internal/config"
	"github.com/simcore/engine/internal/persist"
	"github.com/simcore/engine/internal/resource"
	"go.uber.org/zap"
)

func main() {
	root := flag.String("root", "", "resource root (default: [resources] root from config)")
	batchSize := flag.Int("batch", 64, "rows per transaction")
	dry := flag.Bool("dry", false, "scan only, do not write")
	flag.Parse()

	if err := run(*root, *batchSize, *dry); err != nil {
		fmt.Fprintf(os.Stderr, "resimport: %v\n", err)
		os.Exit(1)
	}
}

func run(root string, batchSize int, dry bool) error {
	cfgPath := "config/simcore.toml"
	if p := os.Getenv("SIMCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if root == "" {
		root = cfg.Resources.Root
	}

	rows, skipped, err := scan(root)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %s: %d resources, %d skipped\n", root, len(rows), skipped)
	if dry || len(rows) == 0 {
		return nil
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	repo := persist.NewResourceRepo(db)
	if batchSize < 1 {
		batchSize = 1
	}
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		if err := repo.SaveBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}

	counts, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	for _, t := range resource.Types() {
		fmt.Printf("  %-6s %d\n", t, counts[t])
	}
	return nil
}

// scan reads every well-named payload under root.
func scan(root string) ([]persist.ResourceRow, int, error) {
	var rows []persist.ResourceRow
	skipped := 0
	for _, t := range resource.Types() {
		dir := filepath.Join(root, t.Dir())
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		for _, e := range entries {
			hash, ok := parseName(e.Name(), t)
			if e.IsDir() || !ok {
				skipped++
				continue
			}
			payload, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, 0, err
			}
			rows = append(rows, persist.ResourceRow{Hash: hash, Type: t, Payload: payload})
		}
	}
	return rows, skipped, nil
}

// parseName extracts the hash from "<hash><ext>".
func parseName(name string, t resource.Type) (uint64, bool) {
	base, ok := strings.CutSuffix(name, t.Ext())
	if !ok {
		return 0, false
	}
	hash, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return hash, true
}
