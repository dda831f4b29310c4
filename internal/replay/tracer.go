// Package replay is an optional offline debugging aid: it captures decoded
// snapshot events and periodic entity frames to disk, adapted from the
// teacher's internal/replay/writer.go (same snappy/zstd split, same
// length-prefixed binary frame format) but scoped to the client's own
// decoded state instead of server-authoritative world snapshots.
package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var tracerNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Tracer streams decoded-snapshot debugging artefacts to disk: a
// snappy-compressed JSONL event log and a zstd-compressed binary frame log.
type Tracer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
}

// NewTracer prepares the trace directory and opens the compressed sinks.
func NewTracer(root, sessionID string, clock func() time.Time) (*Tracer, error) {
	if root == "" {
		return nil, fmt.Errorf("replay: trace root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := tracerNameCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	folder := fmt.Sprintf("%s-%s", cleaned, clock().UTC().Format("20060102T150405Z"))
	path := filepath.Join(root, folder)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	eventFile, err := os.Create(filepath.Join(path, "events.jsonl.sz"))
	if err != nil {
		return nil, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, "frames.bin.zst"))
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, err
	}

	return &Tracer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, nil
}

// Directory returns the path backing this trace bundle.
func (t *Tracer) Directory() string {
	if t == nil {
		return ""
	}
	return t.dir
}

// TraceEvent appends one discrete protocol event (spawn, despawn, map
// reset, handshake) to the compressed event log.
func (t *Tracer) TraceEvent(serverTime int32, kind string, payload []byte) error {
	if t == nil {
		return fmt.Errorf("replay: tracer not initialised")
	}
	captured := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()

	//1.- Encode with metadata so downstream JSONL tooling can stream it.
	record := struct {
		ServerTime int32  `json:"server_time"`
		CapturedAt string `json:"captured_at"`
		Kind       string `json:"kind"`
		PayloadB64 string `json:"payload_b64"`
	}{
		ServerTime: serverTime,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Kind:       kind,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := t.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := t.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return t.eventStream.Flush()
}

// TraceFrame appends one decoded entity image (the per-entity lastUpdate
// buffer) to the binary frame log, length-prefixed for fast seeking.
func (t *Tracer) TraceFrame(serverTime int32, entityID int, image []byte) error {
	if t == nil {
		return fmt.Errorf("replay: tracer not initialised")
	}
	captured := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()

	header := make([]byte, 4+8+4+4)
	binary.LittleEndian.PutUint32(header[0:4], uint32(serverTime))
	binary.LittleEndian.PutUint64(header[4:12], uint64(captured.UnixNano()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(entityID))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(image)))
	if _, err := t.frameStream.Write(header); err != nil {
		return err
	}
	if _, err := t.frameStream.Write(image); err != nil {
		return err
	}
	return nil
}

// Close flushes and releases every sink.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	if err := t.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
