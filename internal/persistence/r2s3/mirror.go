package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

// Artifact kinds, taken from the first directory under the data dir.
const (
	KindEvents  = "events"
	KindTerrain = "terrain"
	KindOther   = "other"
)

var kinds = []string{KindEvents, KindTerrain, KindOther}

func kindOf(rel string) string {
	top, _, _ := strings.Cut(rel, "/")
	switch top {
	case KindEvents, KindTerrain:
		return top
	default:
		return KindOther
	}
}

// KindStats counts upload outcomes for one artifact kind.
type KindStats struct {
	Uploaded uint64
	Failed   uint64
	Skipped  uint64
}

type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	DroppedTotal    uint64
	LastSuccessUnix int64
	LastErrorUnix   int64
	ByKind          map[string]KindStats
}

// UploadSuccessTotal sums successful uploads over all kinds.
func (s Stats) UploadSuccessTotal() uint64 {
	var n uint64
	for _, k := range s.ByKind {
		n += k.Uploaded
	}
	return n
}

// UploadFailTotal sums failed uploads over all kinds.
func (s Stats) UploadFailTotal() uint64 {
	var n uint64
	for _, k := range s.ByKind {
		n += k.Failed
	}
	return n
}

type kindCounters struct {
	uploaded atomic.Uint64
	failed   atomic.Uint64
	skipped  atomic.Uint64
}

type upload struct {
	local string
	key   string
	kind  string
}

// Mirror copies finished artifacts from the data dir (rotated allocation
// event logs, terrain snapshots) into object storage. Object keys keep the
// path relative to the data dir, under an optional prefix.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	queue       chan upload
	enqueueWait time.Duration
	backoff     time.Duration
	attempts    int
	wg          sync.WaitGroup
	closeOnce   sync.Once

	counters        map[string]*kindCounters
	dropped         atomic.Uint64
	lastSuccessUnix atomic.Int64
	lastErrorUnix   atomic.Int64
}

func NewMirror(up Uploader, dataDir, prefix string, workers, queueCapacity int, enqueueWait time.Duration, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 2048
	}
	if enqueueWait <= 0 {
		enqueueWait = 25 * time.Millisecond
	}
	m := &Mirror{
		up:          up,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		queue:       make(chan upload, queueCapacity),
		enqueueWait: enqueueWait,
		backoff:     200 * time.Millisecond,
		attempts:    4,
		counters:    map[string]*kindCounters{},
	}
	for _, k := range kinds {
		m.counters[k] = &kindCounters{}
	}
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

// Enqueue schedules a finished file for upload. Files outside the data dir
// are skipped; when the queue stays full for enqueueWait the file is dropped.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	job, err := m.resolve(localPath)
	if err != nil {
		m.counters[KindOther].skipped.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}

	select {
	case m.queue <- job:
		return
	default:
	}
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.queue <- job:
	case <-timer.C:
		n := m.dropped.Add(1)
		m.printf("mirror drop kind=%s local=%s queue_full wait_ms=%d dropped_total=%d", job.kind, localPath, m.enqueueWait.Milliseconds(), n)
	}
}

// Close stops accepting work and waits until queued uploads finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.queue)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	st := Stats{
		QueueDepth:      len(m.queue),
		QueueCapacity:   cap(m.queue),
		DroppedTotal:    m.dropped.Load(),
		LastSuccessUnix: m.lastSuccessUnix.Load(),
		LastErrorUnix:   m.lastErrorUnix.Load(),
		ByKind:          make(map[string]KindStats, len(m.counters)),
	}
	for k, c := range m.counters {
		st.ByKind[k] = KindStats{Uploaded: c.uploaded.Load(), Failed: c.failed.Load(), Skipped: c.skipped.Load()}
	}
	return st
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for job := range m.queue {
		c := m.counters[job.kind]
		// The file may have been pruned while queued.
		if _, err := os.Stat(job.local); err != nil {
			c.skipped.Add(1)
			m.printf("mirror skip kind=%s local=%s err=%v", job.kind, job.local, err)
			continue
		}
		if err := m.put(job); err != nil {
			c.failed.Add(1)
			m.lastErrorUnix.Store(time.Now().UTC().Unix())
			m.printf("mirror upload failed kind=%s key=%s err=%v", job.kind, job.key, err)
			continue
		}
		c.uploaded.Add(1)
		m.lastSuccessUnix.Store(time.Now().UTC().Unix())
		m.printf("mirror uploaded kind=%s key=%s", job.kind, job.key)
	}
}

// put tries the upload a few times, sleeping attempt^2 * backoff in between.
func (m *Mirror) put(job upload) error {
	var err error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, job.key, job.local)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < m.attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return err
}

func (m *Mirror) resolve(localPath string) (upload, error) {
	if strings.TrimSpace(localPath) == "" {
		return upload{}, fmt.Errorf("empty local path")
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return upload{}, err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return upload{}, err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return upload{}, err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return upload{}, fmt.Errorf("outside data dir %s", base)
	}
	key := rel
	if m.prefix != "" {
		key = path.Join(m.prefix, rel)
	}
	return upload{local: abs, key: key, kind: kindOf(rel)}, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
