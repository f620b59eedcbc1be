package terrain

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
)

type SnapshotHeaderV1 struct {
	Version int `json:"version"`
	Chunks  int `json:"chunks"`
}

type SnapshotV1 struct {
	Header SnapshotHeaderV1
	Chunks []ChunkV1
}

type ChunkV1 struct {
	World  string
	CX     int
	CZ     int
	Blocks []BlockV1
}

type BlockV1 struct {
	LX, Y, LZ int
	Material  Material
}

// Export copies every materialized chunk into snapshot form.
func (s *Store) Export() SnapshotV1 {
	keys := s.LoadedChunkKeys()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChunkV1, 0, len(keys))
	for _, k := range keys {
		ch := s.chunks[k]
		if ch == nil {
			continue
		}
		blocks := make([]BlockV1, 0, len(ch.blocks))
		for p, m := range ch.blocks {
			blocks = append(blocks, BlockV1{LX: p.X, Y: p.Y, LZ: p.Z, Material: m})
		}
		sort.Slice(blocks, func(i, j int) bool {
			a, b := blocks[i], blocks[j]
			if a.Y != b.Y {
				return a.Y < b.Y
			}
			if a.LZ != b.LZ {
				return a.LZ < b.LZ
			}
			return a.LX < b.LX
		})
		out = append(out, ChunkV1{World: k.World, CX: k.CX, CZ: k.CZ, Blocks: blocks})
	}
	return SnapshotV1{Header: SnapshotHeaderV1{Version: 1, Chunks: len(out)}, Chunks: out}
}

// Import rebuilds a store from a snapshot.
func Import(snap SnapshotV1) (*Store, error) {
	if snap.Header.Version != 1 {
		return nil, fmt.Errorf("unsupported terrain snapshot version %d", snap.Header.Version)
	}
	s := NewStore()
	for _, c := range snap.Chunks {
		k := ChunkKey{World: c.World, CX: c.CX, CZ: c.CZ}
		if _, dup := s.chunks[k]; dup {
			return nil, fmt.Errorf("duplicate chunk %s/%d,%d", k.World, k.CX, k.CZ)
		}
		ch := newChunk(k)
		for _, b := range c.Blocks {
			if b.LX < 0 || b.LX >= ChunkSize || b.LZ < 0 || b.LZ >= ChunkSize {
				return nil, fmt.Errorf("chunk %s/%d,%d: block %d,%d out of range", k.World, k.CX, k.CZ, b.LX, b.LZ)
			}
			ch.set(b.LX, b.Y, b.LZ, b.Material)
		}
		s.chunks[k] = ch
	}
	return s, nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader returns only the JSON header line of a snapshot.
func ReadHeader(path string) (SnapshotHeaderV1, error) {
	var h SnapshotHeaderV1
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}
