// Package session implements the client connection state machine (§4.G):
// ClientInfo handshake, MapInfo reset, ClientConfig resend gating, and the
// reliable event queue framing draws on for retransmission.
package session

import (
	"fmt"
	"strings"
)

// ConnectionState is the top-level session lifecycle (§3).
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MapInfo is the most recently adopted map announcement (§4.G).
type MapInfo struct {
	MapSequence uint16
	AckSequence int32
	Processed   bool
	Payload     []byte
}

// ClientConfig is the client → server configuration message, resent until a
// carrying package is acked.
type ClientConfig struct {
	ServerUpdateRate     uint32
	ServerUpdateSendRate uint16
}

// Session holds everything the state machine needs across packages.
type Session struct {
	State                ConnectionState
	ClientID             uint8
	ServerTickRate       uint8
	ProtocolVersion      string
	VerifyProtocol       bool
	ServerTime           int32
	SnapshotReceivedTime int64
	ServerSimTime        float64
	CompressionModel     []byte
	MapInfo              MapInfo
	ClientConfig         ClientConfig
	SendClientConfig     bool

	clientIDAssigned bool
	events           *EventQueue
}

// New constructs a session in the Disconnected state, expecting
// protocolVersion to match the server's ClientInfo protocolId when
// verifyProtocol is true.
func New(protocolVersion string, verifyProtocol bool) *Session {
	return &Session{
		ProtocolVersion: protocolVersion,
		VerifyProtocol:  verifyProtocol,
		State:           Disconnected,
		events:          NewEventQueue(),
	}
}

// Connect transitions the session to Connecting, the precondition for
// accepting a ClientInfo message.
func (s *Session) Connect() {
	if s == nil {
		return
	}
	s.State = Connecting
}

// Disconnect is synchronous and idempotent: the session drops to
// Disconnected immediately, regardless of the current state.
func (s *Session) Disconnect() {
	if s == nil {
		return
	}
	s.State = Disconnected
	s.clientIDAssigned = false
}

// HandleClientInfo applies the server's ClientInfo message (§4.G). A repeat
// ClientInfo naming a different clientId is a fatal programmer-visible
// assertion: the server violated the one-assignment-per-session invariant.
func (s *Session) HandleClientInfo(clientID uint8, serverTickRate uint8, protocolID string, modelData []byte) error {
	if s == nil {
		return fmt.Errorf("session: nil session")
	}
	if s.State == Connected {
		//1.- Already connected: a second ClientInfo is ignored, unless it
		// disagrees with the clientId we were already assigned.
		if s.clientIDAssigned && clientID != s.ClientID {
			panic(fmt.Sprintf("session: server reassigned clientId from %d to %d", s.ClientID, clientID))
		}
		return nil
	}
	if s.VerifyProtocol {
		if lastSegment(protocolID) != lastSegment(s.ProtocolVersion) {
			s.State = Disconnected
			return fmt.Errorf("session: protocol mismatch: server %q, client %q", protocolID, s.ProtocolVersion)
		}
	}
	s.CompressionModel = modelData
	s.ClientID = clientID
	s.clientIDAssigned = true
	s.ServerTickRate = serverTickRate
	s.State = Connected
	return nil
}

func lastSegment(id string) string {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return id
	}
	return id[idx+1:]
}

// MapResetFunc clears the entity table and snapshot bookkeeping (entities,
// spawns, despawns, updates, serverTime) owned outside this package.
type MapResetFunc func()

// HandleMapInfo applies a MapInfo announcement (§4.G). If mapSequence is
// newer than the adopted one, it resets snapshot state via reset and stores
// the new payload; otherwise the payload is ignored entirely.
func (s *Session) HandleMapInfo(mapSequence uint16, inSequence int32, payload []byte, reset MapResetFunc) bool {
	if s == nil {
		return false
	}
	if mapSequence <= s.MapInfo.MapSequence {
		return false
	}
	s.MapInfo = MapInfo{
		MapSequence: mapSequence,
		AckSequence: inSequence,
		Processed:   false,
		Payload:     payload,
	}
	s.ServerTime = 0
	if reset != nil {
		reset()
	}
	return true
}

// Events exposes the reliable event queue for queueing/draining.
func (s *Session) Events() *EventQueue {
	if s == nil {
		return nil
	}
	return s.events
}
