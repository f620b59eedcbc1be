package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "github.com/CoreyShupe/BentoBox/internal/persistence/log"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		eventsDir = flag.String("events", "", "dir containing allocations-*.jsonl.zst (default: <data>/events)")
		quiet     = flag.Bool("quiet", false, "print only the summary")
	)
	flag.Parse()

	dir := strings.TrimSpace(*eventsDir)
	if dir == "" {
		dir = filepath.Join(*dataDir, "events")
	}
	files, err := listEventFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", dir)
		os.Exit(1)
	}

	v := newVerifier()
	for _, path := range files {
		evs, err := persistlog.ReadEvents(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		v.file(filepath.Base(path))
		for _, ev := range evs {
			v.apply(ev)
		}
	}
	rep := v.finish()

	if !*quiet {
		for _, p := range rep.Violations {
			fmt.Println("violation:", p)
		}
		for _, p := range rep.Dangling {
			fmt.Println("dangling:", p)
		}
	}
	fmt.Printf("replay: files=%d events=%d islands=%d violations=%d dangling=%d\n",
		len(files), rep.Events, rep.Islands, len(rep.Violations), len(rep.Dangling))
	if len(rep.Violations) > 0 {
		os.Exit(1)
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "allocations-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
