package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestTracerWritesEventLog(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr, err := NewTracer(root, "session one!", fixedClock(at))
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	if err := tr.TraceEvent(100, "spawn", []byte(`{"id":5}`)); err != nil {
		t.Fatalf("TraceEvent: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(tr.Directory(), "events.jsonl.sz"))
	if err != nil {
		t.Fatalf("read events file: %v", err)
	}
	reader := snappy.NewReader(bytes.NewReader(raw))
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		t.Fatalf("expected at least one event line: %v", scanner.Err())
	}
	line := scanner.Text()
	if !bytes.Contains([]byte(line), []byte(`"kind":"spawn"`)) {
		t.Fatalf("expected kind=spawn in line, got %q", line)
	}
	if !bytes.Contains([]byte(line), []byte(`"server_time":100`)) {
		t.Fatalf("expected server_time=100 in line, got %q", line)
	}
}

func TestTracerWritesFrameLog(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTracer(root, "frames", fixedClock(time.Now()))
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	image := []byte{1, 2, 3, 4}
	if err := tr.TraceFrame(42, 7, image); err != nil {
		t.Fatalf("TraceFrame: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(tr.Directory(), "frames.bin.zst"))
	if err != nil {
		t.Fatalf("read frames file: %v", err)
	}
	decoder, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer decoder.Close()

	header := make([]byte, 4+8+4+4)
	if _, err := io.ReadFull(decoder, header); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	serverTime := int32(binary.LittleEndian.Uint32(header[0:4]))
	entityID := binary.LittleEndian.Uint32(header[12:16])
	payloadLen := binary.LittleEndian.Uint32(header[16:20])
	if serverTime != 42 {
		t.Fatalf("expected serverTime 42, got %d", serverTime)
	}
	if entityID != 7 {
		t.Fatalf("expected entityId 7, got %d", entityID)
	}
	if payloadLen != uint32(len(image)) {
		t.Fatalf("expected payload length %d, got %d", len(image), payloadLen)
	}
	got := make([]byte, payloadLen)
	if _, err := io.ReadFull(decoder, got); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("expected payload %v, got %v", image, got)
	}
}

func TestNewTracerRequiresRoot(t *testing.T) {
	if _, err := NewTracer("", "session", nil); err == nil {
		t.Fatal("expected error for empty root")
	}
}
