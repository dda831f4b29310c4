package client

import (
	"testing"
	"time"

	"driftpursuit/client/internal/bitio"
	"driftpursuit/client/internal/config"
	"driftpursuit/client/internal/framing"
	"driftpursuit/client/internal/logging"
	"driftpursuit/client/internal/schema"
	"driftpursuit/client/internal/session"
	"driftpursuit/client/internal/transport"
)

// fakeTransport is a test double for transport.Transport: Connect/Disconnect
// are no-ops, events are whatever the test pushes onto the queue, and every
// Send is recorded verbatim for inspection.
type fakeTransport struct {
	nextID int
	queue  []transport.Event
	sent   [][]byte
}

func (f *fakeTransport) Connect(host string, port int) (int, error) {
	f.nextID++
	return f.nextID, nil
}
func (f *fakeTransport) Disconnect(connectionID int) {}
func (f *fakeTransport) Update()                     {}
func (f *fakeTransport) NextEvent() (transport.Event, bool) {
	if len(f.queue) == 0 {
		return transport.Event{}, false
	}
	evt := f.queue[0]
	f.queue = f.queue[1:]
	return evt, true
}
func (f *fakeTransport) Send(connectionID int, payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}
func (f *fakeTransport) push(data []byte) {
	f.queue = append(f.queue, transport.Event{Type: transport.EventData, ConnectionID: f.nextID, Data: data})
}

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:               "localhost:7777",
		ProtocolVersion:          "build.42.a",
		VerifyProtocol:           true,
		StreamType:               config.StreamRaw,
		SnapshotCacheSize:        8,
		MaxEntityDataSize:        256,
		UploadRateBytesPerSecond: config.DefaultCommandUploadRateBytesPerSecond,
	}
}

func testCommandSchema() schema.Schema {
	return schema.Schema{Fields: []schema.FieldDescriptor{
		{BitWidth: 8, DeltaContext: "cmdValue", Signed: false, MaskBit: 0},
	}}
}

func buildPackage(t *testing.T, base int32, header framing.Header, body func(stream bitio.Stream)) []byte {
	t.Helper()
	stream := bitio.New(bitio.VariantRaw)
	if err := stream.Initialize(nil, nil, 0); err != nil {
		t.Fatalf("initialize writer: %v", err)
	}
	if err := framing.WriteHeader(stream, header, base); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if body != nil {
		body(stream)
	}
	if _, err := stream.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return stream.Bytes()
}

func TestSendGatedUntilFirstInboundAccepted(t *testing.T) {
	tr := &fakeTransport{}
	c := New(testConfig(), tr, testCommandSchema(), nil, logging.NewTestLogger())

	c.QueueCommand(10, []byte{1})
	if err := c.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("expected no outbound packages before first inbound accept, got %d", len(tr.sent))
	}

	pkg := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0)}, nil)
	tr.push(pkg)
	c.Update()

	if err := c.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one outbound package once inbound was accepted, got %d", len(tr.sent))
	}
}

func TestSendSkippedWhenNothingToSay(t *testing.T) {
	tr := &fakeTransport{}
	c := New(testConfig(), tr, testCommandSchema(), nil, logging.NewTestLogger())

	pkg := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0)}, nil)
	tr.push(pkg)
	c.Update()

	if err := c.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatal("expected no outbound package when nothing new to say")
	}
}

func TestClientInfoHandshakeTransitionsToConnected(t *testing.T) {
	tr := &fakeTransport{}
	c := New(testConfig(), tr, testCommandSchema(), nil, logging.NewTestLogger())

	pkg := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0).Add(framing.KindClientInfo)}, func(s bitio.Stream) {
		protocolID := []byte("build.42.a")
		model := []byte{1, 2, 3}
		mustNoErr(t, s.WriteRawBits(7, 8))
		mustNoErr(t, s.WriteRawBits(60, 8))
		mustNoErr(t, s.WriteRawBits(uint32(len(protocolID)), 8))
		mustNoErr(t, s.WriteRawBytes(protocolID, 0, len(protocolID)))
		mustNoErr(t, s.WriteRawBits(uint32(len(model)), 16))
		mustNoErr(t, s.WriteRawBytes(model, 0, len(model)))
	})
	tr.push(pkg)
	c.Update()

	if c.Session().State != session.Connected {
		t.Fatalf("expected Connected, got %v", c.Session().State)
	}
	if c.Session().ClientID != 7 {
		t.Fatalf("expected clientId 7, got %d", c.Session().ClientID)
	}
}

func TestClientInfoProtocolMismatchDisconnects(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	c := New(cfg, tr, testCommandSchema(), nil, logging.NewTestLogger())
	c.Session().Connect()

	pkg := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0).Add(framing.KindClientInfo)}, func(s bitio.Stream) {
		protocolID := []byte("build.42.b")
		mustNoErr(t, s.WriteRawBits(7, 8))
		mustNoErr(t, s.WriteRawBits(60, 8))
		mustNoErr(t, s.WriteRawBits(uint32(len(protocolID)), 8))
		mustNoErr(t, s.WriteRawBytes(protocolID, 0, len(protocolID)))
		mustNoErr(t, s.WriteRawBits(0, 16))
	})
	tr.push(pkg)
	c.Update()

	if c.Session().State != session.Disconnected {
		t.Fatalf("expected Disconnected after protocol mismatch, got %v", c.Session().State)
	}
}

func TestMapInfoConsumerInvokedAtMostOncePerTick(t *testing.T) {
	tr := &fakeTransport{}
	c := New(testConfig(), tr, testCommandSchema(), nil, logging.NewTestLogger())
	var calls int
	c.MapConsumer = func(payload []byte) { calls++ }

	writeMapInfo := func(mapSeq uint16, payload []byte) func(bitio.Stream) {
		return func(s bitio.Stream) {
			mustNoErr(t, s.WriteRawBits(uint32(mapSeq), 16))
			mustNoErr(t, s.WriteRawBits(0, 1))
			mustNoErr(t, s.WritePackedUInt(uint32(len(payload)), mapPayloadLenContext))
			mustNoErr(t, s.WriteRawBytes(payload, 0, len(payload)))
		}
	}

	pkg1 := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0).Add(framing.KindMapInfo)}, writeMapInfo(2, []byte("map-a")))
	pkg2 := buildPackage(t, 1, framing.Header{Sequence: 2, Content: framing.ContentMask(0).Add(framing.KindMapInfo)}, writeMapInfo(3, []byte("map-b")))
	tr.push(pkg1)
	tr.push(pkg2)
	c.Update()

	if calls != 1 {
		t.Fatalf("expected MapConsumer invoked exactly once per tick, got %d", calls)
	}
	if c.Session().MapInfo.MapSequence != 3 {
		t.Fatalf("expected mapSequence to advance to 3, got %d", c.Session().MapInfo.MapSequence)
	}
}

func TestBandwidthThrottleRequeuesEvents(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.UploadRateBytesPerSecond = 0.001
	c := New(cfg, tr, testCommandSchema(), nil, logging.NewTestLogger())

	pkg := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0)}, nil)
	tr.push(pkg)
	c.Update()

	c.QueueEvent([]byte("payload"))
	if err := c.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("expected throttled send to not reach the transport, got %d", len(tr.sent))
	}
	if c.Session().Events().Len() != 1 {
		t.Fatal("expected the throttled event to be requeued")
	}
}

func TestQueueEventGrowsAndDrainsOnSend(t *testing.T) {
	tr := &fakeTransport{}
	c := New(testConfig(), tr, testCommandSchema(), nil, logging.NewTestLogger())

	pkg := buildPackage(t, 0, framing.Header{Sequence: 1, Content: framing.ContentMask(0)}, nil)
	tr.push(pkg)
	c.Update()

	c.QueueEvent([]byte("a"))
	if err := c.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one outbound package, got %d", len(tr.sent))
	}
	if c.Session().Events().Len() != 0 {
		t.Fatal("expected event queue drained after a successful send")
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

var _ = time.Second
