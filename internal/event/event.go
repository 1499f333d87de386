package event

import (
	"time"

	"arbitrage_go/internal/domain"
)

// Type tags an inbox event.
type Type int

const (
	TypeMarketMessage Type = iota + 1
	TypeAccountMessage
	TypeAccountUpdate
	TypeConnection
	TypeOrderAck
	TypeTimer
)

func (t Type) String() string {
	switch t {
	case TypeMarketMessage:
		return "market_message"
	case TypeAccountMessage:
		return "account_message"
	case TypeAccountUpdate:
		return "account_update"
	case TypeConnection:
		return "connection"
	case TypeOrderAck:
		return "order_ack"
	case TypeTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Event is anything the sequencer consumes.
type Event interface {
	GetType() Type
	GetSeq() uint64
	SetSeq(seq uint64)
	GetTs() time.Time
}

// BaseEvent carries the sequence number stamped by the sequencer and the
// time the event was produced.
type BaseEvent struct {
	Seq uint64
	Ts  time.Time
}

func (b *BaseEvent) GetSeq() uint64    { return b.Seq }
func (b *BaseEvent) SetSeq(seq uint64) { b.Seq = seq }
func (b *BaseEvent) GetTs() time.Time   { return b.Ts }

// MarketMessage is a raw market-stream frame.
type MarketMessage struct {
	BaseEvent
	Venue domain.Venue
	Raw   []byte
}

func (*MarketMessage) GetType() Type { return TypeMarketMessage }

// AccountMessage is a raw account-stream frame.
type AccountMessage struct {
	BaseEvent
	Venue domain.Venue
	Raw   []byte
}

func (*AccountMessage) GetType() Type { return TypeAccountMessage }

// AccountUpdate is an already decoded account change (paper exchange, REST refresh).
type AccountUpdate struct {
	BaseEvent
	Venue  domain.Venue
	Update domain.AccountUpdate
}

func (*AccountUpdate) GetType() Type { return TypeAccountUpdate }

// ConnectionChange reports a supervisor state transition.
type ConnectionChange struct {
	BaseEvent
	State domain.ConnectionState
}

func (*ConnectionChange) GetType() Type { return TypeConnection }

// Leg numbers an order within a cycle.
type Leg int

const (
	Leg1 Leg = 1
	Leg2 Leg = 2
)

// OrderAck is the result of an asynchronous order submission.
type OrderAck struct {
	BaseEvent
	Cycle uint64
	Leg   Leg
	Ack   domain.OrderAck
	Err   error
}

func (*OrderAck) GetType() Type { return TypeOrderAck }

// TimerKind names a coordinator timer.
type TimerKind int

const (
	TimerLeg1Timeout TimerKind = iota + 1
	TimerCooldown
)

// TimerFired is posted when a coordinator timer expires.
type TimerFired struct {
	BaseEvent
	Cycle uint64
	Kind  TimerKind
}

func (*TimerFired) GetType() Type { return TypeTimer }
