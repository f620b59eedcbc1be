package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "github.com/CoreyShupe/BentoBox/internal/persistence/log"
	"github.com/CoreyShupe/BentoBox/internal/terrain"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "reindex":
			reindexCmd(os.Args[2:])
			return
		case "terrain":
			terrainCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	logCmd(os.Args[1:])
}

// logCmd prints events from the compressed JSONL logs, oldest first.
func logCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	requester := fs.String("requester", "", "requester uuid filter (optional)")
	world := fs.String("world", "", "world id filter (optional)")
	_ = fs.Parse(args)

	files, err := eventFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, path := range files {
		evs, err := persistlog.ReadEvents(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, ev := range evs {
			if *requester != "" && ev.Requester.String() != *requester {
				continue
			}
			if *world != "" && ev.World != *world {
				continue
			}
			printJSON(ev)
		}
	}
}

// terrainCmd describes the newest terrain snapshot, or the one given by -snapshot.
func terrainCmd(args []string) {
	fs := flag.NewFlagSet("terrain", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	full := fs.Bool("full", false, "decode the whole snapshot and count chunks per world")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(filepath.Join(*dataDir, "terrain"))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	h, err := terrain.ReadHeader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read header:", err)
		os.Exit(1)
	}
	out := struct {
		Path    string         `json:"path"`
		Version int            `json:"version"`
		Chunks  int            `json:"chunks"`
		Worlds  map[string]int `json:"worlds,omitempty"`
	}{Path: path, Version: h.Version, Chunks: h.Chunks}

	if *full {
		snap, err := terrain.ReadSnapshot(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		out.Worlds = chunksPerWorld(snap)
	}
	printJSON(out)
}

func chunksPerWorld(snap terrain.SnapshotV1) map[string]int {
	out := map[string]int{}
	for _, ch := range snap.Chunks {
		out[ch.World]++
	}
	return out
}

func eventFiles(dataDir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dataDir, "events", "allocations-*.jsonl.zst"))
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestAt int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		at, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || at > bestAt {
			bestAt = at
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
