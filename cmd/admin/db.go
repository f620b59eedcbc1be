package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/persistence/indexdb"
	persistlog "github.com/CoreyShupe/BentoBox/internal/persistence/log"
)

func indexPath(dataDir, dbPath string) string {
	if p := strings.TrimSpace(dbPath); p != "" {
		return p
	}
	return filepath.Join(dataDir, "index", "islands.sqlite")
}

// dbCmd queries the allocation event index.
//
//	admin db events   [-requester id] [-world w] [-phase p] [-limit n]
//	admin db counts   [-world w]
//	admin db failures
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	requester := fs.String("requester", "", "requester uuid filter")
	world := fs.String("world", "", "world id filter")
	phase := fs.String("phase", "", "phase filter (reserved, registered, pasted, completed, failed, aborted)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "events"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	r, err := indexdb.OpenReader(indexPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()
	ctx := context.Background()

	switch q {
	case "events":
		evs, err := r.Events(ctx, indexdb.Filter{
			Requester: strings.TrimSpace(*requester),
			World:     strings.TrimSpace(*world),
			Phase:     alloc.Phase(strings.TrimSpace(*phase)),
			Limit:     *limit,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, ev := range evs {
			printJSON(ev)
		}
	case "counts":
		counts, err := r.PhaseCounts(ctx, strings.TrimSpace(*world))
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(counts)
	case "failures":
		keys, err := r.FailureKeys(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(keys)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}

// reindexCmd rebuilds an index from the JSONL event logs.
func reindexCmd(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	out := fs.String("out", "", "output sqlite path (default: <data>/index/islands.rebuilt.sqlite)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*out)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "islands.rebuilt.sqlite")
	}
	n, err := reindex(*dataDir, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reindex:", err)
		os.Exit(1)
	}
	fmt.Printf("reindex ok: events=%d out=%s\n", n, path)
}

func reindex(dataDir, out string) (int, error) {
	files, err := eventFiles(dataDir)
	if err != nil {
		return 0, err
	}
	idx, err := indexdb.OpenSQLite(out)
	if err != nil {
		return 0, err
	}
	defer idx.Close()

	ctx := context.Background()
	n := 0
	for _, path := range files {
		evs, err := persistlog.ReadEvents(path)
		if err != nil {
			return n, err
		}
		if err := idx.Import(ctx, evs); err != nil {
			return n, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		n += len(evs)
	}
	return n, nil
}
