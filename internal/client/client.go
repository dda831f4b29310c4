// Package client implements the facade (§4.J) that drives a single game
// session: framing, handshake, snapshot decoding, and command/event upload,
// on the single owner thread's per-tick Update()/Send() calls.
package client

import (
	"fmt"

	"driftpursuit/client/internal/bitio"
	"driftpursuit/client/internal/command"
	"driftpursuit/client/internal/config"
	"driftpursuit/client/internal/entitystate"
	"driftpursuit/client/internal/framing"
	"driftpursuit/client/internal/logging"
	"driftpursuit/client/internal/replay"
	"driftpursuit/client/internal/schema"
	"driftpursuit/client/internal/session"
	"driftpursuit/client/internal/snapshot"
	"driftpursuit/client/internal/transport"
)

// MapConsumer receives the map payload whenever MapInfo adopts a new
// mapSequence (§4.G), invoked at most once per Update() tick.
type MapConsumer func(payload []byte)

// EventConsumer receives one opaque reliable event payload from the server.
type EventConsumer func(payload []byte)

// Client ties together transport, framing, session, snapshot decoding, and
// command/event upload into the single-threaded per-tick facade of §4.J.
// Every exported method must be called from one goroutine; nothing here
// synchronises against concurrent Update()/Send() calls.
type Client struct {
	cfg  *config.Config
	conn transport.Transport
	log  *logging.Logger

	session  *session.Session
	types    *entitystate.TypeRegistry
	table    *entitystate.Table
	decoder  *snapshot.Decoder
	uploader *command.Uploader

	inbound     *framing.InboundTracker
	outstanding *framing.OutstandingTable
	delivery    *framing.DeliveryTracker
	bandwidth   *framing.BandwidthRegulator

	lastWrittenSeq int32
	outSequence    int32
	commandSeqAck  int64
	lastAckedCmdMs int32

	pendingEventData    map[uint64][]byte
	lastDecodedSequence int32

	tracer *replay.Tracer

	connectionID int

	MapConsumer      MapConsumer
	EventConsumer    EventConsumer
	SnapshotConsumer snapshot.Consumer
}

// New constructs a client in the Disconnected state. commandSchema describes
// the fixed layout of one outbound command record (§3); predictor is the
// external prediction collaborator (nil forces prediction off regardless of
// the wire's enableNetworkPrediction bit, §4.H).
func New(cfg *config.Config, conn transport.Transport, commandSchema schema.Schema, predictor snapshot.Predictor, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewTestLogger()
	}
	types := entitystate.NewTypeRegistry()
	table := entitystate.NewTable(cfg.SnapshotCacheSize)
	c := &Client{
		cfg:              cfg,
		conn:             conn,
		log:              log,
		session:          session.New(cfg.ProtocolVersion, cfg.VerifyProtocol),
		types:            types,
		table:            table,
		decoder:          snapshot.NewDecoder(types, table, cfg.SnapshotCacheSize, predictor, log),
		uploader:         command.NewUploader(commandSchema),
		inbound:          framing.NewInboundTracker(),
		outstanding:      framing.NewOutstandingTable(framing.AckWindowSize),
		bandwidth:        framing.NewBandwidthRegulator(cfg.UploadRateBytesPerSecond, nil),
		pendingEventData: make(map[uint64][]byte),
	}
	c.delivery = &framing.DeliveryTracker{
		ReleaseEvents: func(ids []uint64) {
			for _, id := range ids {
				delete(c.pendingEventData, id)
			}
		},
		RequeueEvents: func(ids []uint64) {
			var events []session.ReliableEvent
			for _, id := range ids {
				if data, ok := c.pendingEventData[id]; ok {
					events = append(events, session.ReliableEvent{ID: id, Data: data})
				}
			}
			c.session.Events().Requeue(events)
		},
		OnCommandAcked: func(seq int32, t int32) {
			if int64(seq) > c.commandSeqAck {
				c.commandSeqAck = int64(seq)
				c.lastAckedCmdMs = t
			}
		},
		OnClientConfigLost: func() {
			c.session.SendClientConfig = true
		},
	}
	return c
}

func (c *Client) variant() bitio.Variant {
	switch c.cfg.StreamType {
	case config.StreamHuffman:
		return bitio.VariantHuffman
	case config.StreamRans:
		return bitio.VariantRans
	default:
		return bitio.VariantRaw
	}
}

// Connect transitions the session to Connecting and dials the transport.
func (c *Client) Connect() error {
	c.session.Connect()
	host, port, err := transport.ResolveHostPort(c.cfg.ServerAddr, 0)
	if err != nil {
		return fmt.Errorf("client: resolve server address: %w", err)
	}
	id, err := c.conn.Connect(host, port)
	if err != nil || id < 0 {
		c.session.Disconnect()
		return fmt.Errorf("client: connect: %w", err)
	}
	c.connectionID = id
	return nil
}

// Disconnect is synchronous and idempotent (§5): the transport is asked to
// close and session state drops immediately, regardless of its prior state.
func (c *Client) Disconnect() {
	c.conn.Disconnect(c.connectionID)
	c.session.Disconnect()
}

// Session exposes read access to session state for callers (UI, metrics).
func (c *Client) Session() *session.Session { return c.session }

// QueueCommand enqueues a new per-tick input command for upload.
func (c *Client) QueueCommand(serverTime int32, data []byte) int64 {
	return c.uploader.QueueCommand(serverTime, data)
}

// QueueEvent enqueues a new reliable event for upload.
func (c *Client) QueueEvent(data []byte) uint64 {
	id := c.session.Events().Enqueue(data)
	c.pendingEventData[id] = data
	return id
}

// ProcessSnapshot replays the decoder's pending spawn/update/despawn lists to
// SnapshotConsumer (§4.J step 3). Per §3 invariant 2, a decoded snapshot
// whose package sequence predates the current map's ackSequence is drained
// without being delivered to the consumer.
func (c *Client) ProcessSnapshot() {
	if c.lastDecodedSequence < c.session.MapInfo.AckSequence {
		c.decoder.ProcessSnapshot(nil)
		return
	}
	consumer := c.SnapshotConsumer
	if c.tracer != nil {
		consumer = &tracingConsumer{inner: consumer, tracer: c.tracer}
	}
	c.decoder.ProcessSnapshot(consumer)
}

// Update drains one tick's worth of transport events, applies §4.F framing
// to every Data event, and invokes MapConsumer at most once even if several
// packages this tick carried a MapInfo reset.
func (c *Client) Update() {
	c.conn.Update()
	mapDelivered := false
	for {
		evt, ok := c.conn.NextEvent()
		if !ok {
			return
		}
		switch evt.Type {
		case transport.EventConnect:
			c.log.Info("transport connected", logging.Int("connection_id", evt.ConnectionID))
		case transport.EventDisconnect:
			c.log.Info("transport disconnected", logging.Int("connection_id", evt.ConnectionID))
			c.session.Disconnect()
		case transport.EventData:
			if c.cfg.BlockInbound {
				continue
			}
			if err := c.handlePackageSafely(evt.Data, &mapDelivered); err != nil {
				c.log.Warn("failed to process inbound package", logging.Error(err))
			}
		}
	}
}

// handlePackageSafely wraps handlePackage with the debug-gated recovery
// boundary of §7: a fatal assertion (entity-count mismatch, duplicate
// despawn, unknown type, repeat ClientInfo with a new clientId, ...) raised
// while decoding untrusted server input is recovered here and surfaced as
// an ordinary error, rather than crashing the whole process, unless
// client.debug is set — in which case the panic is left to propagate so a
// developer sees the full stack at the point it was raised.
func (c *Client) handlePackageSafely(data []byte, mapDelivered *bool) (err error) {
	if c.cfg.Debug {
		return c.handlePackage(data, mapDelivered)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client: recovered from panic decoding package: %v", r)
		}
	}()
	return c.handlePackage(data, mapDelivered)
}

func (c *Client) handlePackage(data []byte, mapDelivered *bool) error {
	stream := bitio.New(c.variant())
	if err := stream.Initialize(c.session.CompressionModel, data, 0); err != nil {
		return fmt.Errorf("client: initialise read stream: %w", err)
	}
	header, err := framing.ReadHeader(stream, c.inbound.AckSequence())
	if err != nil {
		return fmt.Errorf("client: read header: %w", err)
	}
	if !c.inbound.Accept(header.Sequence) {
		//1.- Duplicate or outside the ack window: silently dropped (§4.F).
		return nil
	}

	if header.Content.Has(framing.KindClientInfo) {
		if err := c.readClientInfo(stream); err != nil {
			return err
		}
	}
	if header.Content.Has(framing.KindMapInfo) {
		if err := c.readMapInfo(stream, header.Sequence, mapDelivered); err != nil {
			return err
		}
	}
	if header.Content.Has(framing.KindEvents) {
		if err := c.readEvents(stream); err != nil {
			return err
		}
	}
	if header.Content.Has(framing.KindSnapshot) {
		if err := c.decoder.DecodeSnapshot(stream, header.Sequence); err != nil {
			return fmt.Errorf("client: decode snapshot: %w", err)
		}
		c.lastDecodedSequence = header.Sequence
	}

	return framing.ProcessAck(c.outstanding, header.AckSequence, header.AckBitfield, c.delivery)
}

func (c *Client) readClientInfo(stream bitio.Stream) error {
	clientID, err := stream.ReadRawBits(8)
	if err != nil {
		return fmt.Errorf("client: read clientId: %w", err)
	}
	tickRate, err := stream.ReadRawBits(8)
	if err != nil {
		return fmt.Errorf("client: read serverTickRate: %w", err)
	}
	protoLen, err := stream.ReadRawBits(8)
	if err != nil {
		return fmt.Errorf("client: read protocolIdLen: %w", err)
	}
	protoBuf := make([]byte, protoLen)
	if err := stream.ReadRawBytes(protoBuf, 0, int(protoLen)); err != nil {
		return fmt.Errorf("client: read protocolId: %w", err)
	}
	modelSize, err := stream.ReadRawBits(16)
	if err != nil {
		return fmt.Errorf("client: read modelSize: %w", err)
	}
	modelBuf := make([]byte, modelSize)
	if err := stream.ReadRawBytes(modelBuf, 0, int(modelSize)); err != nil {
		return fmt.Errorf("client: read modelData: %w", err)
	}
	return c.session.HandleClientInfo(uint8(clientID), uint8(tickRate), string(protoBuf), modelBuf)
}

// mapPayloadLenContext is the entropy context for the packed length prefix
// this client adds in front of mapPayload: the spec names the field but not
// its framing, and a bit-packed stream needs an explicit length to know
// where mapPayload ends (resolved ambiguity, see DESIGN.md).
const mapPayloadLenContext = "mapPayloadLenContext"

func (c *Client) readMapInfo(stream bitio.Stream, inSequence int32, mapDelivered *bool) error {
	mapSeq, err := stream.ReadRawBits(16)
	if err != nil {
		return fmt.Errorf("client: read mapSequence: %w", err)
	}
	schemaIncluded, err := stream.ReadRawBits(1)
	if err != nil {
		return fmt.Errorf("client: read schemaIncluded: %w", err)
	}
	if schemaIncluded == 1 {
		if _, err := schema.Read(stream); err != nil {
			return fmt.Errorf("client: read mapInfo schema: %w", err)
		}
	}
	payloadLen, err := stream.ReadPackedUInt(mapPayloadLenContext)
	if err != nil {
		return fmt.Errorf("client: read mapPayload length: %w", err)
	}
	payload := make([]byte, payloadLen)
	if err := stream.ReadRawBytes(payload, 0, int(payloadLen)); err != nil {
		return fmt.Errorf("client: read mapPayload: %w", err)
	}

	adopted := c.session.HandleMapInfo(uint16(mapSeq), inSequence, payload, func() {
		c.table = entitystate.NewTable(c.cfg.SnapshotCacheSize)
		c.decoder = snapshot.NewDecoder(c.types, c.table, c.cfg.SnapshotCacheSize, c.decoder.Predictor, c.log)
		c.lastDecodedSequence = 0
	})
	if adopted && !*mapDelivered && c.MapConsumer != nil {
		c.MapConsumer(payload)
		*mapDelivered = true
		c.session.MapInfo.Processed = true
	}
	return nil
}

const (
	eventCountContext = "eventCountContext"
	eventLenContext   = "eventLenContext"
)

func (c *Client) readEvents(stream bitio.Stream) error {
	count, err := stream.ReadPackedUInt(eventCountContext)
	if err != nil {
		return fmt.Errorf("client: read event count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		length, err := stream.ReadPackedUInt(eventLenContext)
		if err != nil {
			return fmt.Errorf("client: read event length: %w", err)
		}
		buf := make([]byte, length)
		if err := stream.ReadRawBytes(buf, 0, int(length)); err != nil {
			return fmt.Errorf("client: read event payload: %w", err)
		}
		if c.EventConsumer != nil {
			c.EventConsumer(buf)
		}
	}
	return nil
}

// Send builds and transmits one outbound package, applying the gating rules
// of §4.J: nothing is sent before the first inbound package is accepted, and
// a package with nothing new to say is skipped entirely. The bandwidth
// regulator then throttles whatever remains.
func (c *Client) Send() error {
	if c.inbound.AckSequence() <= 0 {
		return nil
	}
	if c.cfg.BlockOutbound {
		return nil
	}

	includeConfig := c.session.SendClientConfig
	newCommands := c.uploader.CommandSequence() > c.commandSeqAck
	events := c.session.Events().Len() > 0
	if !includeConfig && !newCommands && !events {
		return nil
	}

	content := framing.ContentMask(0)
	if includeConfig {
		content = content.Add(framing.KindClientConfig)
	}
	if newCommands {
		content = content.Add(framing.KindCommands)
	}
	if events {
		content = content.Add(framing.KindEvents)
	}

	stream := bitio.New(c.variant())
	if err := stream.Initialize(c.session.CompressionModel, nil, 0); err != nil {
		return fmt.Errorf("client: initialise write stream: %w", err)
	}

	seq := c.outSequence + 1
	header := framing.Header{
		Sequence:    seq,
		AckSequence: c.inbound.AckSequence(),
		AckBitfield: c.inbound.AckBitfield(),
		Content:     content,
	}
	if err := framing.WriteHeader(stream, header, c.lastWrittenSeq); err != nil {
		return fmt.Errorf("client: write header: %w", err)
	}

	var commandSeq int64
	var commandTime int32
	var sentEventIDs []uint64

	if includeConfig {
		if err := stream.WriteRawBits(c.session.ClientConfig.ServerUpdateRate, 32); err != nil {
			return fmt.Errorf("client: write ClientConfig: %w", err)
		}
		if err := stream.WriteRawBits(uint32(c.session.ClientConfig.ServerUpdateSendRate), 16); err != nil {
			return fmt.Errorf("client: write ClientConfig: %w", err)
		}
	}
	if newCommands {
		var err error
		commandSeq, commandTime, err = c.uploader.Write(stream, c.commandSeqAck)
		if err != nil {
			return fmt.Errorf("client: write commands: %w", err)
		}
	}
	if events {
		drained := c.session.Events().Drain()
		if err := stream.WritePackedUInt(uint32(len(drained)), eventCountContext); err != nil {
			return fmt.Errorf("client: write event count: %w", err)
		}
		for _, e := range drained {
			if err := stream.WritePackedUInt(uint32(len(e.Data)), eventLenContext); err != nil {
				return fmt.Errorf("client: write event length: %w", err)
			}
			if err := stream.WriteRawBytes(e.Data, 0, len(e.Data)); err != nil {
				return fmt.Errorf("client: write event payload: %w", err)
			}
			sentEventIDs = append(sentEventIDs, e.ID)
		}
	}

	if _, err := stream.Flush(); err != nil {
		return fmt.Errorf("client: flush outbound stream: %w", err)
	}
	payload := stream.Bytes()

	if !c.bandwidth.Allow(len(payload)) {
		//1.- Throttled: requeue events so nothing is lost, leave
		// sendClientConfig untouched so it retries next tick, and treat this
		// attempt's sequence number as simply lost in transit.
		if len(sentEventIDs) > 0 {
			c.delivery.RequeueEvents(sentEventIDs)
		}
		c.outSequence = seq
		c.lastWrittenSeq = seq
		return nil
	}

	c.outstanding.Allocate(seq, framing.OutstandingPackage{
		Content:         content,
		CommandSequence: int32(commandSeq),
		CommandTime:     commandTime,
		Events:          sentEventIDs,
	})
	if err := c.conn.Send(c.connectionID, payload); err != nil {
		return fmt.Errorf("client: transport send: %w", err)
	}
	if includeConfig {
		c.session.SendClientConfig = false
	}
	c.outSequence = seq
	c.lastWrittenSeq = seq
	return nil
}
