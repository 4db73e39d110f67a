package block

import (
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"

	"github.com/quartzdb/quartz/internal/qerr"
)

// trailerSize is the per-block overhead: one compression-flag byte plus an
// 8-byte xxHash64 checksum over the (possibly compressed) payload.
const trailerSize = 1 + 8

const (
	flagRaw byte = 0
	flagS2  byte = 1
)

// Store delivers fixed-size blocks identified by 32-bit block numbers,
// verifying a per-block checksum on every read.
type Store interface {
	// PayloadSize is the number of usable bytes per block, i.e. BlockSize
	// minus the trailer.
	PayloadSize() int
	ReadBlock(n uint32) ([]byte, error)
	WriteBlock(n uint32, payload []byte) error
	Sync() error
	Close() error
}

// Stats accumulates block I/O counters and latency histograms. It is
// supplied through quartzdb.Options.Stats and is separate from
// quartzdb.Metrics.
type Stats struct {
	mu         sync.Mutex
	ReadLat    *hdrhistogram.Histogram
	WriteLat   *hdrhistogram.Histogram
	ReadBytes  uint64
	WriteBytes uint64
}

// NewStats constructs a Stats tracking latencies from 1us to 10s.
func NewStats() *Stats {
	return &Stats{
		ReadLat:  hdrhistogram.New(1, 10_000_000, 3),
		WriteLat: hdrhistogram.New(1, 10_000_000, 3),
	}
}

func (s *Stats) recordRead(n int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadBytes += uint64(n)
	_ = s.ReadLat.RecordValue(d.Microseconds())
}

func (s *Stats) recordWrite(n int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteBytes += uint64(n)
	_ = s.WriteLat.RecordValue(d.Microseconds())
}

// FileStore is a Store backed by a single os.File, with blocks laid out at
// fixed offset n*blockSize.
type FileStore struct {
	f           *os.File
	blockSize   int
	compress    bool
	stats       *Stats
}

// OpenFileStore opens (creating if needed) the data file at path for blocks
// of the given size, which must be large enough to hold the trailer plus at
// least a minimal page.
func OpenFileStore(path string, blockSize int, compress bool, stats *Stats) (*FileStore, error) {
	if blockSize <= trailerSize+16 {
		return nil, qerr.Rangef("block: block size %d too small", blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, qerr.OpenFailedf("block: open %s: %v", path, err)
	}
	if stats == nil {
		stats = NewStats()
	}
	return &FileStore{f: f, blockSize: blockSize, compress: compress, stats: stats}, nil
}

// PayloadSize implements Store.
func (s *FileStore) PayloadSize() int { return s.blockSize - trailerSize }

// ReadBlock implements Store. A missing or short block is fatal corruption.
func (s *FileStore) ReadBlock(n uint32) ([]byte, error) {
	start := time.Now()
	raw := make([]byte, s.blockSize)
	off := int64(n) * int64(s.blockSize)
	read, err := s.f.ReadAt(raw, off)
	if err != nil || read < s.blockSize {
		return nil, qerr.Corruptf("block: short read of block %v (%d/%d bytes): %v",
			qerr.Safe(n), read, s.blockSize, err)
	}
	s.stats.recordRead(s.blockSize, time.Since(start))

	flag := raw[s.blockSize-trailerSize]
	wantSum := decodeChecksum(raw[s.blockSize-8:])
	body := raw[:s.blockSize-trailerSize]
	gotSum := xxhash.Sum64(body)
	if gotSum != wantSum {
		return nil, qerr.Corruptf("block: checksum mismatch on block %v", qerr.Safe(n))
	}

	switch flag {
	case flagRaw:
		return body, nil
	case flagS2:
		// s2's block format carries its own uncompressed-length header and
		// stops once that many bytes are produced, so the zero padding
		// WriteBlock appends after a short compressed body is harmless.
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return nil, qerr.Corruptf("block: s2 decode of block %v: %v", qerr.Safe(n), err)
		}
		return decoded, nil
	default:
		return nil, qerr.Corruptf("block: unknown compression flag %d on block %v", flag, qerr.Safe(n))
	}
}

// WriteBlock implements Store.
func (s *FileStore) WriteBlock(n uint32, payload []byte) error {
	start := time.Now()
	payloadCap := s.blockSize - trailerSize
	if len(payload) > payloadCap {
		return qerr.Rangef("block: payload %d exceeds block capacity %d", len(payload), payloadCap)
	}

	flag := flagRaw
	body := payload
	if s.compress {
		compressed := s2.Encode(nil, payload)
		if len(compressed) < len(payload) {
			flag = flagS2
			body = compressed
		}
	}

	raw := make([]byte, s.blockSize)
	copy(raw, body)
	raw[s.blockSize-trailerSize] = flag
	sum := xxhash.Sum64(raw[:s.blockSize-trailerSize])
	encodeChecksum(raw[s.blockSize-8:], sum)

	off := int64(n) * int64(s.blockSize)
	if _, err := s.f.WriteAt(raw, off); err != nil {
		return qerr.OpenFailedf("block: write block %v: %v", qerr.Safe(n), err)
	}
	s.stats.recordWrite(s.blockSize, time.Since(start))
	return nil
}

// Sync fsyncs the underlying file.
func (s *FileStore) Sync() error {
	if err := s.f.Sync(); err != nil {
		return qerr.OpenFailedf("block: fsync: %v", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	return s.f.Close()
}

func encodeChecksum(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

func decodeChecksum(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v
}
