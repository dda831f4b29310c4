package client

import (
	"encoding/binary"

	"driftpursuit/client/internal/replay"
	"driftpursuit/client/internal/snapshot"
)

// SetTracer attaches an optional offline debugging capture sink (§6): once
// set, every decoded spawn, despawn, and entity update delivered through
// ProcessSnapshot is also written to the tracer's compressed event/frame
// logs, alongside delivery to SnapshotConsumer. Passing nil disables
// tracing again.
func (c *Client) SetTracer(t *replay.Tracer) {
	c.tracer = t
}

// tracingConsumer decorates the application's snapshot.Consumer with calls
// into the attached Tracer, so enabling a trace capture never requires the
// application to instrument its own consumer.
type tracingConsumer struct {
	inner  snapshot.Consumer
	tracer *replay.Tracer
}

func (t *tracingConsumer) ProcessEntitySpawn(serverTime int32, id int, typeID uint16) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(id))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(typeID))
	_ = t.tracer.TraceEvent(serverTime, "spawn", payload)
	if t.inner != nil {
		t.inner.ProcessEntitySpawn(serverTime, id, typeID)
	}
}

func (t *tracingConsumer) ProcessEntityUpdate(serverTime int32, id int, reader snapshot.FieldReader) {
	_ = t.tracer.TraceFrame(serverTime, id, reader.Image)
	if t.inner != nil {
		t.inner.ProcessEntityUpdate(serverTime, id, reader)
	}
}

func (t *tracingConsumer) ProcessEntityDespawn(serverTime int32, id int) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(id))
	_ = t.tracer.TraceEvent(serverTime, "despawn", payload)
	if t.inner != nil {
		t.inner.ProcessEntityDespawn(serverTime, id)
	}
}

func (t *tracingConsumer) ProcessSnapshot(serverTime int32) {
	if t.inner != nil {
		t.inner.ProcessSnapshot(serverTime)
	}
}
