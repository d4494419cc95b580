package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore/flat"
)

const (
	VectorsFile = "vectors.idx"
	ChunksFile  = "chunks.json"
	// CurrentFile names the published build directory.
	CurrentFile = "CURRENT"
)

// EmbedderInfo records which embedder produced the vectors and, for stateful
// embedders, the state needed to embed queries the same way.
type EmbedderInfo struct {
	Name  string          `json:"name"`
	State json.RawMessage `json:"state,omitempty"`
}

// Artifact pairs the vector index with its chunk list: vector i belongs to chunk i.
type Artifact struct {
	BuildID  uuid.UUID
	Index    *flat.Index
	Chunks   []domain.Chunk
	Embedder EmbedderInfo
}

type chunksFile struct {
	BuildID  uuid.UUID      `json:"build_id"`
	Embedder EmbedderInfo   `json:"embedder"`
	Chunks   []domain.Chunk `json:"chunks"`
}

// Save publishes the artifact pair into dir. Both files are written into a
// fresh build directory, then CurrentFile is renamed into place to point at
// it, so a reader sees either the old pair or the new one. The previous build
// is kept for readers that resolved the pointer just before the swap; older
// ones are removed.
func Save(dir string, a *Artifact) error {
	if a.Index.Len() != len(a.Chunks) {
		return fmt.Errorf("indexer: save: %d vectors for %d chunks", a.Index.Len(), len(a.Chunks))
	}
	prev, _ := readCurrent(dir)
	buildDir := filepath.Join(dir, a.BuildID.String())
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("indexer: save: %w", err)
	}
	err := writeAtomic(filepath.Join(buildDir, VectorsFile), func(f *os.File) error {
		return flat.Encode(f, a.Index, a.BuildID)
	})
	if err != nil {
		return fmt.Errorf("indexer: save vectors: %w", err)
	}
	err = writeAtomic(filepath.Join(buildDir, ChunksFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		return enc.Encode(chunksFile{BuildID: a.BuildID, Embedder: a.Embedder, Chunks: a.Chunks})
	})
	if err != nil {
		return fmt.Errorf("indexer: save chunks: %w", err)
	}
	err = writeAtomic(filepath.Join(dir, CurrentFile), func(f *os.File) error {
		_, err := f.WriteString(a.BuildID.String() + "\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("indexer: publish: %w", err)
	}
	return prune(dir, a.BuildID.String(), prev)
}

// CurrentDir returns the build directory CurrentFile points at.
func CurrentDir(dir string) (string, error) {
	id, err := readCurrent(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, id), nil
}

func readCurrent(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, CurrentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("indexer: load %s: %w", dir, domain.ErrArtifactMissing)
	}
	if err != nil {
		return "", corrupt("read %s: %v", CurrentFile, err)
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return "", corrupt("%s: %v", CurrentFile, err)
	}
	return id.String(), nil
}

// prune removes build directories other than the current and previous ones.
func prune(dir string, keep ...string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("indexer: prune: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || slices.Contains(keep, e.Name()) {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("indexer: prune: %w", err)
		}
	}
	return nil
}

// Load reads the published artifact pair from dir.
// No published build yields domain.ErrArtifactMissing; anything else that
// keeps the pair from loading consistently yields domain.ErrArtifactCorrupt.
func Load(dir string) (*Artifact, error) {
	buildDir, err := CurrentDir(dir)
	if err != nil {
		return nil, err
	}
	vecPath := filepath.Join(buildDir, VectorsFile)
	chunkPath := filepath.Join(buildDir, ChunksFile)
	vecOK, err := exists(vecPath)
	if err != nil {
		return nil, corrupt("stat %s: %v", vecPath, err)
	}
	chunkOK, err := exists(chunkPath)
	if err != nil {
		return nil, corrupt("stat %s: %v", chunkPath, err)
	}
	switch {
	case !vecOK && !chunkOK:
		return nil, corrupt("%s points at %s, which holds no artifacts", CurrentFile, filepath.Base(buildDir))
	case !vecOK:
		return nil, corrupt("%s present without %s", ChunksFile, VectorsFile)
	case !chunkOK:
		return nil, corrupt("%s present without %s", VectorsFile, ChunksFile)
	}

	f, err := os.Open(vecPath)
	if err != nil {
		return nil, corrupt("open %s: %v", vecPath, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, corrupt("stat %s: %v", vecPath, err)
	}
	idx, vecBuild, err := flat.DecodeSized(f, fi.Size())
	f.Close()
	if err != nil {
		return nil, corrupt("%s: %v", vecPath, err)
	}

	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, corrupt("read %s: %v", chunkPath, err)
	}
	var cf chunksFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, corrupt("%s: %v", chunkPath, err)
	}
	if [16]byte(cf.BuildID) != vecBuild {
		return nil, corrupt("build id mismatch: vectors %s, chunks %s", uuid.UUID(vecBuild), cf.BuildID)
	}
	if cf.BuildID.String() != filepath.Base(buildDir) {
		return nil, corrupt("%s points at %s, chunks belong to %s", CurrentFile, filepath.Base(buildDir), cf.BuildID)
	}
	if idx.Len() != len(cf.Chunks) {
		return nil, corrupt("%d vectors for %d chunks", idx.Len(), len(cf.Chunks))
	}
	return &Artifact{BuildID: cf.BuildID, Index: idx, Chunks: cf.Chunks, Embedder: cf.Embedder}, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("indexer: load: %w: %s", domain.ErrArtifactCorrupt, fmt.Sprintf(format, args...))
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func writeAtomic(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
