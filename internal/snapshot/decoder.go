// Package snapshot implements the client-side snapshot decoder (§4.H): the
// engine that reads one server snapshot body — baselines, schemas, spawns,
// despawns, and updates — predicts live entities, and commits the result
// into the entity table and per-entity baseline cache.
package snapshot

import (
	"fmt"
	"time"

	"driftpursuit/client/internal/bitio"
	"driftpursuit/client/internal/delta"
	"driftpursuit/client/internal/entitystate"
	"driftpursuit/client/internal/logging"
	"driftpursuit/client/internal/schema"
	"driftpursuit/client/internal/seqbuf"
)

// Info is the per-package snapshot record (§3), keyed by inbound package
// sequence in a fixed-capacity buffer sized to snapshotDeltaCacheSize.
type Info struct {
	ServerTime int32
}

// Decoder owns the entity table and type registry it mutates and the
// rolling window of snapshot records used to resolve baseline server
// times for prediction (§4.H).
type Decoder struct {
	Types     *entitystate.TypeRegistry
	Table     *entitystate.Table
	Predictor Predictor
	Log       *logging.Logger

	snapshots *seqbuf.SequenceBuffer[Info]
	nowMillis func() int64

	ServerTime           int32
	ServerSimTime        float64
	SnapshotReceivedTime int64

	// Spawns, Despawns, Updates are populated by DecodeSnapshot and must be
	// fully drained by the consumer before the next call (§3 invariant 4).
	Spawns   []int
	Despawns []int
	Updates  []int
}

// NewDecoder constructs a decoder whose snapshot record cache holds
// cacheSize entries (snapshotDeltaCacheSize).
func NewDecoder(types *entitystate.TypeRegistry, table *entitystate.Table, cacheSize int, predictor Predictor, log *logging.Logger) *Decoder {
	return &Decoder{
		Types:     types,
		Table:     table,
		Predictor: predictor,
		Log:       log,
		snapshots: seqbuf.NewSequenceBuffer(cacheSize, func() Info { return Info{} }),
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
}

// DecodeSnapshot reads one snapshot body at package sequence from stream,
// following the normative 13-step order in §4.H. It leaves Spawns, Despawns,
// and Updates populated for the caller's single ProcessSnapshot replay.
func (d *Decoder) DecodeSnapshot(stream bitio.Stream, sequence int32) error {
	if len(d.Spawns) > 0 || len(d.Despawns) > 0 || len(d.Updates) > 0 {
		panic("snapshot: consumer left spawns/despawns/updates non-empty before the next decode")
	}

	//1.- Step 1: the delta reference this snapshot was encoded against.
	baseSequence, err := stream.ReadPackedIntDelta(sequence-1, "baseSequenceContext")
	if err != nil {
		return fmt.Errorf("snapshot: read baseSequence: %w", err)
	}

	//2.- Step 2: per-snapshot feature bits.
	predictionBit, err := stream.ReadRawBits(1)
	if err != nil {
		return fmt.Errorf("snapshot: read prediction flag: %w", err)
	}
	hashingBit, err := stream.ReadRawBits(1)
	if err != nil {
		return fmt.Errorf("snapshot: read hashing flag: %w", err)
	}
	enableNetworkPrediction := predictionBit == 1
	enableHashing := hashingBit == 1

	//3.- Step 3: two extra baselines named only for the predictor.
	var baseSequence1, baseSequence2 int32
	if enableNetworkPrediction {
		baseSequence1, err = stream.ReadPackedIntDelta(baseSequence-1, "baseSequenceContext")
		if err != nil {
			return fmt.Errorf("snapshot: read baseSequence1: %w", err)
		}
		baseSequence2, err = stream.ReadPackedIntDelta(baseSequence1-1, "baseSequenceContext")
		if err != nil {
			return fmt.Errorf("snapshot: read baseSequence2: %w", err)
		}
	}

	//4.- Step 4: acquire this snapshot's record and decode its server time
	// as a delta against the baseline's.
	var baseServerTime int32
	if baseSequence != 0 {
		prevInfo, ok := d.snapshots.TryGet(int64(baseSequence))
		if !ok {
			return fmt.Errorf("snapshot: missing snapshot record for baseSequence %d", baseSequence)
		}
		baseServerTime = prevInfo.ServerTime
	}
	serverTime, err := stream.ReadPackedIntDelta(baseServerTime, "serverTimeContext")
	if err != nil {
		return fmt.Errorf("snapshot: read serverTime: %w", err)
	}
	info := d.snapshots.Acquire(int64(sequence))
	info.ServerTime = serverTime

	//5.- Step 5: server simulation duration, in 0.1ms units.
	rawSim, err := stream.ReadRawBits(8)
	if err != nil {
		return fmt.Errorf("snapshot: read serverSimTime: %w", err)
	}
	serverSimTime := float64(rawSim) * 0.1

	//6.- Step 6: advance the clock only if this snapshot is in server-time
	// order; out-of-order snapshots are still fully decoded and cached.
	if serverTime > d.ServerTime {
		d.ServerTime = serverTime
		d.ServerSimTime = serverSimTime
		d.SnapshotReceivedTime = d.nowMillis()
	} else if d.Log != nil {
		d.Log.Warn("received out-of-order snapshot",
			logging.Int("sequence", int(sequence)),
			logging.Int("server_time", int(serverTime)),
			logging.Int("current_server_time", int(d.ServerTime)))
	}

	//7.- Step 7: intern any schemas this snapshot introduces.
	schemaCount, err := stream.ReadPackedUInt("schemaCountContext")
	if err != nil {
		return fmt.Errorf("snapshot: read schemaCount: %w", err)
	}
	for i := uint32(0); i < schemaCount; i++ {
		typeIDRaw, err := stream.ReadRawBits(16)
		if err != nil {
			return fmt.Errorf("snapshot: read schema typeId: %w", err)
		}
		typeID := uint16(typeIDRaw)
		s, err := schema.Read(stream)
		if err != nil {
			return fmt.Errorf("snapshot: read schema: %w", err)
		}
		baseline := make([]byte, s.GetByteSize())
		if err := schema.CopyFieldsToBuffer(s, stream, baseline); err != nil {
			return fmt.Errorf("snapshot: read schema baseline: %w", err)
		}
		if d.Types.Lookup(typeID) == nil {
			d.Types.RegisterWithBaseline(typeID, s, baseline)
		}
		//8.- Duplicate schema announcements are ignored (idempotent intern).
	}

	//9.- Step 8: finalise despawn-pending entities the server has confirmed
	// it will never reference again.
	for id := 0; id < d.Table.Len(); id++ {
		e := d.Table.At(id)
		if e.DespawnPending() && e.DespawnSequence <= int64(baseSequence) {
			e.Reset()
		}
	}

	tempSpawnList := make(map[int]bool)

	//10.- Step 9: spawns, ids delta-coded off a running previousId starting
	// at 1 (the wire-format "magic 1", §9).
	spawnCount, err := stream.ReadPackedUInt("spawnCountContext")
	if err != nil {
		return fmt.Errorf("snapshot: read spawnCount: %w", err)
	}
	previousID := int32(1)
	for i := uint32(0); i < spawnCount; i++ {
		previousID, err = stream.ReadPackedIntDelta(previousID, "entityIdContext")
		if err != nil {
			return fmt.Errorf("snapshot: read spawn id: %w", err)
		}
		id := int(previousID)
		typeIDRaw, err := stream.ReadRawBits(16)
		if err != nil {
			return fmt.Errorf("snapshot: read spawn typeId: %w", err)
		}
		fieldMaskRaw, err := stream.ReadRawBits(8)
		if err != nil {
			return fmt.Errorf("snapshot: read spawn fieldMask: %w", err)
		}
		typ := d.Types.Lookup(uint16(typeIDRaw))
		if typ == nil {
			panic(fmt.Sprintf("snapshot: spawn referenced unknown typeId %d", typeIDRaw))
		}
		d.Table.Grow(id)
		e := d.Table.At(id)
		if !e.Live() {
			d.Table.Spawn(id, typ, uint8(fieldMaskRaw))
			d.Spawns = append(d.Spawns, id)
		}
		tempSpawnList[id] = true
	}

	//11.- Step 10: despawns, sharing the same running previousId chain.
	despawnCount, err := stream.ReadPackedUInt("despawnCountContext")
	if err != nil {
		return fmt.Errorf("snapshot: read despawnCount: %w", err)
	}
	for i := uint32(0); i < despawnCount; i++ {
		previousID, err = stream.ReadPackedIntDelta(previousID, "entityIdContext")
		if err != nil {
			return fmt.Errorf("snapshot: read despawn id: %w", err)
		}
		id := int(previousID)
		if id >= d.Table.Len() {
			continue
		}
		e := d.Table.At(id)
		if !e.Live() || e.DespawnPending() {
			continue
		}
		for _, already := range d.Despawns {
			if already == id {
				panic(fmt.Sprintf("snapshot: duplicate despawn for id %d in one snapshot", id))
			}
		}
		if tempSpawnList[id] {
			//12.- Same-snapshot spawn+despawn: defer finalisation (§3 lifecycle).
			e.DespawnSequence = int64(sequence)
		} else {
			e.Reset()
		}
		d.Despawns = append(d.Despawns, id)
	}

	//13.- Step 11: predict every live entity, not just those receiving an
	// explicit update, because later snapshots may delta against any of
	// them (§4.H design note).
	liveIDs := d.Table.LiveIDs()
	for _, id := range liveIDs {
		e := d.Table.At(id)
		baselines, err := d.collectBaselines(e, id, baseSequence, baseSequence1, baseSequence2, baseServerTime, enableNetworkPrediction, tempSpawnList[id])
		if err != nil {
			return err
		}
		if enableNetworkPrediction && d.Predictor != nil {
			prediction, changed := d.Predictor.PredictSnapshot(e.Type.Schema, baselines, serverTime, e.FieldMask)
			copy(e.Prediction, prediction)
			for i := range e.FieldsChangedPrediction {
				e.FieldsChangedPrediction[i] = 0
			}
			copy(e.FieldsChangedPrediction, changed)
		} else {
			copy(e.Prediction, baselines[0].Image)
			for i := range e.FieldsChangedPrediction {
				e.FieldsChangedPrediction[i] = 0
			}
		}
	}

	//14.- Step 12: updates, delta-coded against the just-computed prediction
	// buffer, with an independent id chain from spawns/despawns.
	updateCount, err := stream.ReadPackedUInt("updateCountContext")
	if err != nil {
		return fmt.Errorf("snapshot: read updateCount: %w", err)
	}
	updateID := int32(1)
	for i := uint32(0); i < updateCount; i++ {
		updateID, err = stream.ReadPackedIntDelta(updateID, "entityIdContext")
		if err != nil {
			return fmt.Errorf("snapshot: read update id: %w", err)
		}
		id := int(updateID)
		if id >= d.Table.Len() {
			return fmt.Errorf("snapshot: update referenced unknown entity %d", id)
		}
		e := d.Table.At(id)
		if !e.Live() {
			return fmt.Errorf("snapshot: update referenced non-live entity %d", id)
		}
		result, derr := delta.Read(stream, e.Type.Schema, e.Prediction, e.FieldMask, enableHashing)
		if derr != nil && result.Image == nil {
			return fmt.Errorf("snapshot: decode update for entity %d: %w", id, derr)
		}
		if derr != nil {
			//15.- A per-entity hash mismatch is logged and not fatal outside
			// debug builds; decoding still uses the computed image (§7).
			if d.Log != nil {
				d.Log.Warn("entity update hash mismatch", logging.Int("entity", id), logging.Error(derr))
			}
		}
		copy(e.Prediction, result.Image)
	}

	//16.- Step 13: commit every live entity's prediction buffer as this
	// snapshot's baseline, updating lastUpdate when this is the newest
	// snapshot seen for the entity.
	var snapshotHash uint32
	var numEnts uint32
	for _, id := range liveIDs {
		e := d.Table.At(id)
		if e.DespawnPending() && e.DespawnSequence != int64(sequence) {
			//17.- Despawn-pending from an earlier snapshot and not finalised
			// here: excluded from commit (§4.H step 13) so a stale id is
			// never re-delivered as a live update after the consumer has
			// already been told it was despawned.
			continue
		}
		slot := e.Baselines.Insert(int64(sequence))
		copy(slot, e.Prediction)
		if int64(sequence) > e.LastUpdateSequence {
			copy(e.LastUpdate, e.Prediction)
			e.LastUpdateSequence = int64(sequence)
			d.Updates = append(d.Updates, id)
		}
		if enableHashing {
			snapshotHash = simpleHash(snapshotHash, e.Prediction)
			numEnts++
		}
	}
	if enableHashing {
		numEntsCheck, err := stream.ReadRawBits(32)
		if err != nil {
			return fmt.Errorf("snapshot: read numEntsCheck: %w", err)
		}
		if numEntsCheck != numEnts {
			panic(fmt.Sprintf("snapshot: entity-count mismatch: decoded %d, transmitted %d", numEnts, numEntsCheck))
		}
		_ = snapshotHash
	}

	d.ServerSimTime = serverSimTime
	return nil
}

// collectBaselines resolves up to three historical baselines for entity id,
// per §4.H step 11: baseline0 from baseSequence (the schema baseline if this
// is a full snapshot or the entity was spawned this snapshot), then up to
// two more from baseSequence1/baseSequence2 when prediction is enabled.
func (d *Decoder) collectBaselines(e *entitystate.Entity, id int, baseSequence, baseSequence1, baseSequence2, baseServerTime int32, enableNetworkPrediction bool, spawnedThisSnapshot bool) ([]Baseline, error) {
	var baseline0 []byte
	if baseSequence == 0 || spawnedThisSnapshot {
		baseline0 = e.Type.Baseline
	} else {
		img, ok := e.Baselines.FindMax(int64(baseSequence))
		if !ok {
			panic(fmt.Sprintf("snapshot: missing baseline for entity %d at sequence %d", id, baseSequence))
		}
		baseline0 = img
	}
	baselines := []Baseline{{Time: baseServerTime, Image: baseline0}}
	if !enableNetworkPrediction {
		return baselines, nil
	}
	if baseSequence1 != 0 {
		if info1, ok := d.snapshots.TryGet(int64(baseSequence1)); ok {
			if img1, ok2 := e.Baselines.FindMax(int64(baseSequence1)); ok2 {
				baselines = append(baselines, Baseline{Time: info1.ServerTime, Image: img1})
			}
		}
	}
	if baseSequence2 != 0 {
		if info2, ok := d.snapshots.TryGet(int64(baseSequence2)); ok {
			if img2, ok2 := e.Baselines.FindMax(int64(baseSequence2)); ok2 {
				baselines = append(baselines, Baseline{Time: info2.ServerTime, Image: img2})
			}
		}
	}
	return baselines, nil
}

// simpleHash folds one entity's committed image into the snapshot-wide
// running hash (§4.H step 13). DecodeSnapshot accumulates it alongside
// numEnts but checks only numEnts against the wire; the hash itself is not
// compared with anything.
func simpleHash(hash uint32, image []byte) uint32 {
	for _, b := range image {
		hash ^= uint32(b)
		hash *= 16777619
		hash = (hash << 7) | (hash >> 25)
	}
	return hash
}

// ProcessSnapshot replays the decoder's accumulated spawn/update/despawn
// lists to consumer exactly once and drains them, satisfying the §3
// invariant that the next DecodeSnapshot call begins with empty lists.
func (d *Decoder) ProcessSnapshot(consumer Consumer) {
	if consumer == nil {
		d.Spawns = nil
		d.Despawns = nil
		d.Updates = nil
		return
	}
	for _, id := range d.Spawns {
		e := d.Table.At(id)
		if e.Live() {
			consumer.ProcessEntitySpawn(d.ServerTime, id, e.Type.TypeID)
		}
	}
	for _, id := range d.Updates {
		e := d.Table.At(id)
		if e.Live() {
			consumer.ProcessEntityUpdate(d.ServerTime, id, FieldReader{Schema: e.Type.Schema, Image: e.LastUpdate})
		}
	}
	for _, id := range d.Despawns {
		consumer.ProcessEntityDespawn(d.ServerTime, id)
	}
	consumer.ProcessSnapshot(d.ServerTime)
	d.Spawns = nil
	d.Despawns = nil
	d.Updates = nil
}
