package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/persistence/r2s3"
	"github.com/CoreyShupe/BentoBox/internal/protocol"
	"github.com/CoreyShupe/BentoBox/internal/registry"
	"github.com/CoreyShupe/BentoBox/internal/terrain"
	"github.com/CoreyShupe/BentoBox/internal/transport/observer"
	"github.com/CoreyShupe/BentoBox/internal/transport/ws"
)

// app holds the HTTP surface of a running server.
type app struct {
	cfg      config.Config
	alloc    *alloc.Allocator
	reg      *registry.Memory
	store    *terrain.Store
	sessions *ws.Sessions
	obs      *observer.Server
	idx      runtimeIndex
	mirror   *r2s3.Mirror
	snapDir  string
	log      *log.Logger

	snapMu sync.Mutex
}

func (a *app) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/v1/worlds", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSONResponse(rw, http.StatusOK, map[string]any{"default_world_id": a.cfg.DefaultWorldID, "worlds": a.worlds()})
	})
	mux.HandleFunc("/v1/islands", func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			a.handleGetIsland(rw, r)
		case http.MethodPost:
			a.handleAllocate(rw, r)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// adminRoutes registers local-only endpoints.
func (a *app) adminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		type worldState struct {
			WorldID string          `json:"world_id"`
			Plots   []registry.Plot `json:"plots"`
		}
		resp := struct {
			Islands  int          `json:"islands"`
			Claims   int          `json:"claims"`
			Sessions int          `json:"sessions"`
			Worlds   []worldState `json:"worlds"`
		}{
			Islands:  a.reg.Len(),
			Claims:   a.alloc.Table().Len(),
			Sessions: a.sessions.Len(),
		}
		for _, id := range a.cfg.WorldIDs() {
			resp.Worlds = append(resp.Worlds, worldState{WorldID: id, Plots: a.reg.Plots(id)})
		}
		writeJSONResponse(rw, http.StatusOK, resp)
	}))
	mux.HandleFunc("/admin/v1/snapshot", a.loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		path, err := a.writeSnapshot()
		if err != nil {
			writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "path": filepath.Base(path)})
	}))
	mux.HandleFunc("/admin/v1/reserve", a.loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var cmd protocol.ReserveCommand
		dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cmd); err != nil {
			a.writeResult(rw, http.StatusBadRequest, protocol.IslandResultMsg{Stage: protocol.StageFailed, Code: protocol.ErrProtoBadRequest, Message: "bad json"})
			return
		}
		status, res := a.reserve(r.Context(), cmd)
		a.writeResult(rw, status, res)
	}))
	mux.HandleFunc("/admin/v1/observer/bootstrap", a.obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", a.obs.WSHandler())
}

func (a *app) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *app) worlds() []protocol.WorldRef {
	out := make([]protocol.WorldRef, 0, len(a.cfg.Worlds))
	for _, id := range a.cfg.WorldIDs() {
		w, _ := a.cfg.WorldByID(id)
		out = append(out, protocol.WorldRef{WorldID: w.ID, Distance: w.Distance, Height: w.Height})
	}
	return out
}

func (a *app) handleGetIsland(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, res := a.island(q.Get("requester"), q.Get("world"))
	a.writeResult(rw, status, res)
}

func (a *app) handleAllocate(rw http.ResponseWriter, r *http.Request) {
	var cmd protocol.IslandCommand
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		a.writeResult(rw, http.StatusBadRequest, protocol.IslandResultMsg{Stage: protocol.StageFailed, Code: protocol.ErrProtoBadRequest, Message: "bad json"})
		return
	}
	status, res := a.allocate(r.Context(), cmd)
	if status == 0 {
		// client went away while waiting
		return
	}
	a.writeResult(rw, status, res)
}

// island looks up the plot a requester owns in a world.
func (a *app) island(requesterStr, worldStr string) (int, protocol.IslandResultMsg) {
	requester, err := uuid.Parse(strings.TrimSpace(requesterStr))
	if err != nil {
		return http.StatusBadRequest, protocol.IslandResultMsg{Stage: protocol.StageFailed, Code: protocol.ErrProtoBadRequest, Message: "bad requester"}
	}
	world := a.worldOrDefault(worldStr)
	plot, ok := a.reg.PlotFor(world, requester)
	if !ok {
		return http.StatusNotFound, protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: protocol.ErrNoIsland, MessageKey: protocol.KeyNoIsland}
	}
	return http.StatusOK, resultFor("", protocol.StageReady, plot)
}

// allocate runs a create or reset and returns the HTTP status with the
// result to report. A zero status means ctx ended while waiting for READY.
func (a *app) allocate(ctx context.Context, cmd protocol.IslandCommand) (int, protocol.IslandResultMsg) {
	requester, err := uuid.Parse(strings.TrimSpace(cmd.Requester))
	if err != nil || requester == uuid.Nil {
		return http.StatusBadRequest, protocol.IslandResultMsg{Stage: protocol.StageFailed, Code: protocol.ErrProtoBadRequest, Message: "bad requester"}
	}
	world := a.worldOrDefault(cmd.World)

	req := alloc.Request{
		Requester: requester,
		World:     world,
		Reason:    alloc.ReasonCreate,
		Bundle:    cmd.Bundle,
		NoPaste:   cmd.NoPaste,
	}
	existing, has := a.reg.PlotFor(world, requester)
	switch alloc.Reason(strings.ToLower(strings.TrimSpace(cmd.Reason))) {
	case "", alloc.ReasonCreate:
		if has {
			return http.StatusConflict, protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: protocol.ErrHasIsland, MessageKey: protocol.KeyHasIsland}
		}
	case alloc.ReasonReset:
		if !has {
			return http.StatusNotFound, protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: protocol.ErrNoIsland, MessageKey: protocol.KeyNoIsland}
		}
		req.Reason = alloc.ReasonReset
		req.OldPlot = &existing
	default:
		return http.StatusBadRequest, protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: protocol.ErrProtoBadRequest, Message: "bad reason"}
	}

	var done chan alloc.Result
	if cmd.Wait {
		done = make(chan alloc.Result, 1)
		req.Done = func(p registry.Plot, err error) { done <- alloc.Result{Plot: p, Err: err} }
	}

	plot, err := a.alloc.Allocate(ctx, req)
	if err != nil {
		code := protocol.CodeFor(err)
		return statusFor(code), protocol.IslandResultMsg{
			Stage:      protocol.StageFailed,
			World:      world,
			Code:       code,
			MessageKey: alloc.MessageKey(err),
		}
	}
	if done == nil {
		return http.StatusAccepted, resultFor("", protocol.StageRegistered, plot)
	}

	select {
	case res := <-done:
		if res.Err != nil {
			return http.StatusInternalServerError, protocol.IslandResultMsg{
				Stage:      protocol.StageFailed,
				World:      world,
				PlotID:     plot.ID.String(),
				Code:       protocol.ErrInternal,
				MessageKey: alloc.KeyCannotCreate,
			}
		}
		return http.StatusOK, resultFor("", protocol.StageReady, res.Plot)
	case <-ctx.Done():
		return 0, protocol.IslandResultMsg{}
	}
}

// reserve holds a plot for a requester's next create or reset.
func (a *app) reserve(ctx context.Context, cmd protocol.ReserveCommand) (int, protocol.IslandResultMsg) {
	requester, err := uuid.Parse(strings.TrimSpace(cmd.Requester))
	if err != nil || requester == uuid.Nil {
		return http.StatusBadRequest, protocol.IslandResultMsg{Stage: protocol.StageFailed, Code: protocol.ErrProtoBadRequest, Message: "bad requester"}
	}
	world := a.worldOrDefault(cmd.World)
	if _, has := a.reg.PlotFor(world, requester); has {
		return http.StatusConflict, protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: protocol.ErrHasIsland, MessageKey: protocol.KeyHasIsland}
	}
	var at *grid.Cell
	if cmd.At != nil {
		w, ok := a.cfg.WorldByID(world)
		if !ok {
			return http.StatusNotFound, protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: protocol.ErrWorldNotFound}
		}
		at = &grid.Cell{World: world, X: cmd.At[0], Y: w.Height, Z: cmd.At[1]}
	}
	plot, err := a.alloc.Reserve(ctx, world, requester, at)
	if err != nil {
		code := protocol.CodeFor(err)
		return statusFor(code), protocol.IslandResultMsg{Stage: protocol.StageFailed, World: world, Code: code, Message: err.Error()}
	}
	return http.StatusOK, resultFor("", protocol.StageReserved, plot)
}

func (a *app) worldOrDefault(world string) string {
	world = strings.TrimSpace(world)
	if world == "" {
		return a.cfg.DefaultWorldID
	}
	return world
}

func (a *app) writeResult(rw http.ResponseWriter, status int, m protocol.IslandResultMsg) {
	m.Type = protocol.TypeIslandResult
	m.ProtocolVersion = protocol.Version
	writeJSONResponse(rw, status, m)
}

func resultFor(reqID, stage string, plot registry.Plot) protocol.IslandResultMsg {
	c := plot.Center
	return protocol.IslandResultMsg{
		ReqID:  reqID,
		Stage:  stage,
		World:  plot.World,
		PlotID: plot.ID.String(),
		Center: &[3]int{c.X, c.Y, c.Z},
	}
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrWorldNotFound:
		return http.StatusNotFound
	case protocol.ErrBusy, protocol.ErrConflict, protocol.ErrAborted:
		return http.StatusConflict
	case protocol.ErrBlocked:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// writeSnapshot persists the terrain store under snapDir and hands the file
// to the mirror.
func (a *app) writeSnapshot() (string, error) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()

	snap := a.store.Export()
	path := filepath.Join(a.snapDir, fmt.Sprintf("%d.snap.zst", time.Now().UTC().UnixNano()))
	if err := terrain.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	if a.mirror != nil {
		a.mirror.Enqueue(path)
	}
	return path, nil
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(rw, "# HELP bentobox_islands Registered plots, including obstruction markers.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_islands gauge\n")
	for _, id := range a.cfg.WorldIDs() {
		fmt.Fprintf(rw, "bentobox_islands{world=%q} %d\n", id, len(a.reg.Plots(id)))
	}

	fmt.Fprintf(rw, "# HELP bentobox_claims Cells currently claimed by in-progress searches.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_claims gauge\n")
	fmt.Fprintf(rw, "bentobox_claims %d\n", a.alloc.Table().Len())

	fmt.Fprintf(rw, "# HELP bentobox_sessions Connected game clients.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_sessions gauge\n")
	fmt.Fprintf(rw, "bentobox_sessions %d\n", a.sessions.Len())

	fmt.Fprintf(rw, "# HELP bentobox_observer_subscribers Connected observer streams.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_observer_subscribers gauge\n")
	fmt.Fprintf(rw, "bentobox_observer_subscribers %d\n", a.obs.Subscribers())

	fmt.Fprintf(rw, "# HELP bentobox_observer_dropped_total Events dropped for slow observers.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "bentobox_observer_dropped_total %d\n", a.obs.Dropped())

	if s, ok := a.idx.(indexStats); ok {
		st := s.Stats()
		fmt.Fprintf(rw, "# HELP bentobox_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE bentobox_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "bentobox_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "# HELP bentobox_index_dropped_total Events the index writer dropped.\n")
		fmt.Fprintf(rw, "# TYPE bentobox_index_dropped_total counter\n")
		fmt.Fprintf(rw, "bentobox_index_dropped_total %d\n", st.DropTotal)
	}

	writeMirrorMetrics(rw, a.mirror)
}

func writeMirrorMetrics(rw http.ResponseWriter, mirror *r2s3.Mirror) {
	if mirror == nil {
		return
	}
	s := mirror.Stats()
	fmt.Fprintf(rw, "# HELP bentobox_r2_mirror_queue_depth Current mirror queue depth.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_r2_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "bentobox_r2_mirror_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP bentobox_r2_mirror_dropped_total Files dropped because the queue stayed saturated.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_r2_mirror_dropped_total counter\n")
	fmt.Fprintf(rw, "bentobox_r2_mirror_dropped_total %d\n", s.DroppedTotal)

	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Fprintf(rw, "# HELP bentobox_r2_mirror_uploads_total Mirror upload outcomes by artifact kind.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_r2_mirror_uploads_total counter\n")
	for _, k := range kinds {
		ks := s.ByKind[k]
		fmt.Fprintf(rw, "bentobox_r2_mirror_uploads_total{kind=%q,result=\"ok\"} %d\n", k, ks.Uploaded)
		fmt.Fprintf(rw, "bentobox_r2_mirror_uploads_total{kind=%q,result=\"failed\"} %d\n", k, ks.Failed)
		fmt.Fprintf(rw, "bentobox_r2_mirror_uploads_total{kind=%q,result=\"skipped\"} %d\n", k, ks.Skipped)
	}

	fmt.Fprintf(rw, "# HELP bentobox_r2_mirror_last_success_unix Unix time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE bentobox_r2_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "bentobox_r2_mirror_last_success_unix %d\n", s.LastSuccessUnix)
}
