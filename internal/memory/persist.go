package memory

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/memoir/internal/fsutil"
)

// Companion file names inside the vector directory.
const (
	VectorFile   = "index.bin"
	MetadataFile = "metadata.json"
)

const (
	formatVersion = 1
	headerSize    = 16
)

var vectorMagic = [4]byte{'M', 'V', 'I', 'X'}

// LoadResult reports how an index was opened.
type LoadResult struct {
	// Bootstrapped is true when no vector file existed and an empty index
	// was created instead.
	Bootstrapped bool
	// StaleMetadata is true when a metadata file was found without vectors.
	StaleMetadata bool
	Chunks        int
}

// IndexConfig configures OpenVectorIndex.
type IndexConfig struct {
	Dir        string
	Dimensions int
	Logger     *slog.Logger
}

type metadataFile struct {
	Version    int             `json:"version"`
	Dimensions int             `json:"dimensions"`
	Chunks     []chunkMetadata `json:"chunks"`
}

type chunkMetadata struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// OpenVectorIndex loads the index stored in cfg.Dir. A missing vector file is
// the first-run case and yields an empty index; any other inconsistency
// between the two companion files is an error.
func OpenVectorIndex(cfg IndexConfig) (*VectorIndex, LoadResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimensions <= 0 {
		return nil, LoadResult{}, fmt.Errorf("memory: dimensions must be positive, got %d", cfg.Dimensions)
	}

	vectors, meta, res, err := readIndexFiles(cfg.Dir, cfg.Dimensions)
	if err != nil {
		return nil, res, err
	}
	switch {
	case res.StaleMetadata:
		logger.Warn("memory: vector file missing, ignoring stale metadata and starting empty", "dir", cfg.Dir)
	case res.Bootstrapped:
		logger.Info("memory: no index on disk, starting empty", "dir", cfg.Dir)
	}

	return &VectorIndex{
		dim:     cfg.Dimensions,
		vectors: vectors,
		meta:    meta,
		dir:     cfg.Dir,
		logger:  logger,
	}, res, nil
}

// Inspect checks that the files in dir would load, without keeping them.
func Inspect(dir string, dim int) (LoadResult, error) {
	_, _, res, err := readIndexFiles(dir, dim)
	return res, err
}

func readIndexFiles(dir string, dim int) ([]float32, []Chunk, LoadResult, error) {
	vecPath := filepath.Join(dir, VectorFile)
	metaPath := filepath.Join(dir, MetadataFile)

	vecData, vecErr := os.ReadFile(vecPath)
	metaData, metaErr := os.ReadFile(metaPath)
	vecMissing := errors.Is(vecErr, fs.ErrNotExist)
	metaMissing := errors.Is(metaErr, fs.ErrNotExist)

	switch {
	case vecMissing:
		return nil, nil, LoadResult{Bootstrapped: true, StaleMetadata: !metaMissing}, nil
	case vecErr != nil:
		return nil, nil, LoadResult{}, fmt.Errorf("memory: reading %s: %w", vecPath, vecErr)
	case metaMissing:
		return nil, nil, LoadResult{}, fmt.Errorf("%w: %s exists without %s", ErrIndexIncomplete, VectorFile, MetadataFile)
	case metaErr != nil:
		return nil, nil, LoadResult{}, fmt.Errorf("memory: reading %s: %w", metaPath, metaErr)
	}

	fileDim, vectors, err := decodeVectors(vecData)
	if err != nil {
		return nil, nil, LoadResult{}, err
	}
	if fileDim != dim {
		return nil, nil, LoadResult{}, fmt.Errorf("%w: index has %d, configured %d", ErrDimensionMismatch, fileDim, dim)
	}

	var mf metadataFile
	if err := json.Unmarshal(metaData, &mf); err != nil {
		return nil, nil, LoadResult{}, fmt.Errorf("%w: decoding metadata: %w", ErrIndexCorrupt, err)
	}
	if len(mf.Chunks)*dim != len(vectors) {
		return nil, nil, LoadResult{}, fmt.Errorf("%w: %d vectors but %d metadata entries",
			ErrIndexCorrupt, len(vectors)/dim, len(mf.Chunks))
	}

	meta := make([]Chunk, len(mf.Chunks))
	for i, c := range mf.Chunks {
		meta[i] = Chunk{Text: c.Text, Source: c.Source, Timestamp: c.Timestamp}
	}
	return vectors, meta, LoadResult{Chunks: len(meta)}, nil
}

// Save writes both companion files. The pair is taken from one consistent
// snapshot and concurrent saves are serialized.
func (x *VectorIndex) Save() error {
	if x.dir == "" {
		return ErrNotPersistent
	}

	// Snapshot under saveMu so the last writer holds the newest state.
	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	x.mu.RLock()
	vecData := encodeVectors(x.dim, x.vectors)
	mf := metadataFile{Version: formatVersion, Dimensions: x.dim, Chunks: make([]chunkMetadata, len(x.meta))}
	for i, c := range x.meta {
		mf.Chunks[i] = chunkMetadata{Text: c.Text, Source: c.Source, Timestamp: c.Timestamp}
	}
	x.mu.RUnlock()

	metaData, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("memory: encoding metadata: %w", err)
	}

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("memory: creating index dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(x.dir, MetadataFile), metaData, 0o644); err != nil {
		return fmt.Errorf("memory: writing metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(x.dir, VectorFile), vecData, 0o644); err != nil {
		return fmt.Errorf("memory: writing vectors: %w", err)
	}
	return nil
}

func encodeVectors(dim int, vectors []float32) []byte {
	count := 0
	if dim > 0 {
		count = len(vectors) / dim
	}
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+4*len(vectors)))
	buf.Write(vectorMagic[:])
	_ = binary.Write(buf, binary.LittleEndian, [3]uint32{formatVersion, uint32(dim), uint32(count)})
	var scratch [4]byte
	for _, v := range vectors {
		binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
		buf.Write(scratch[:])
	}
	return buf.Bytes()
}

func decodeVectors(data []byte) (int, []float32, error) {
	if len(data) < headerSize || !bytes.Equal(data[:4], vectorMagic[:]) {
		return 0, nil, fmt.Errorf("%w: bad vector file header", ErrIndexCorrupt)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	if version != formatVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupt, version)
	}
	body := data[headerSize:]
	if dim <= 0 || len(body) != 4*dim*count {
		return 0, nil, fmt.Errorf("%w: expected %d vectors of %d dims, got %d bytes", ErrIndexCorrupt, count, dim, len(body))
	}

	vectors := make([]float32, dim*count)
	for i := range vectors {
		v := math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return 0, nil, fmt.Errorf("%w: non-finite value at %d", ErrIndexCorrupt, i)
		}
		vectors[i] = v
	}
	return dim, vectors, nil
}
