package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/persistence/indexdb"
)

// runtimeIndex is a queryable copy of the allocation event stream.
type runtimeIndex interface {
	alloc.Listener
	Close() error
}

// indexStats is implemented by backends that expose queue metrics.
type indexStats interface {
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir, serverID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BB_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "islands.sqlite"))
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("BB_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("BB_INDEX_BACKEND=remote but BB_INDEX_INGEST_URL is empty")
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("BB_INDEX_TOKEN")),
			ServerID:      serverID,
			BatchSize:     envInt("BB_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("BB_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported BB_INDEX_BACKEND: %s", backend)
	}
}
