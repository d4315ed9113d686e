package sched

import (
	"container/heap"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/wire"
)

// InternalEvent is a timer-tick/interrupt-style event delivered to a
// module's HandleEvent, addressed by event port.
type InternalEvent struct {
	ReceiverID addr.EventPort
}

// WireChangeEvent carries a new wire level to a pin.
type WireChangeEvent struct {
	ReceiverID addr.Pin
	State      wire.State
}

type internalItem struct {
	event InternalEvent
	at    clock.Timestamp
}

type internalHeap []internalItem

func (h internalHeap) Len() int            { return len(h) }
func (h internalHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h internalHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *internalHeap) Push(x interface{}) { *h = append(*h, x.(internalItem)) }
func (h *internalHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type wireItem struct {
	event WireChangeEvent
	at    clock.Timestamp
}

type wireHeap []wireItem

func (h wireHeap) Len() int            { return len(h) }
func (h wireHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h wireHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *wireHeap) Push(x interface{}) { *h = append(*h, x.(wireItem)) }
func (h *wireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventQueue is one active module's discrete-event domain: a clock, two
// min-heaps ordered by timestamp (internal events, wire-change events),
// the pin-multiplexing table, and a drain point for cross-domain wire
// changes posted to its mailbox.
type EventQueue struct {
	Clock clock.Clock

	internal internalHeap
	wires    wireHeap

	rootPrefix uint8
	inboxRecv  <-chan postedWireEvent

	mux    *MultiplexingTable
	tables *Tables
}

// NewEventQueue constructs a domain's event queue. ticksPerCycle is the
// Clock's time-per-tick; rootPrefix identifies this module's position
// among the board's top-level active modules so cross-domain mailbox
// routing and address-stripping work; tables is the board-wide shared
// state, passed in rather than held globally.
func NewEventQueue(tables *Tables, ticksPerCycle clock.TimeDiff, rootPrefix uint8) *EventQueue {
	return &EventQueue{
		Clock:      clock.New(ticksPerCycle),
		rootPrefix: rootPrefix,
		inboxRecv:  tables.Inbox.AddListener(rootPrefix),
		mux:        NewMultiplexingTable(),
		tables:     tables,
	}
}

// RootModuleID returns this domain's own module address, as seen from
// the board root.
func (q *EventQueue) RootModuleID() addr.Module {
	return addr.Root().ChildID(q.rootPrefix)
}

// FireEvent schedules event for delivery at time t. The receiver
// address's leading byte must equal this domain's root prefix; it is
// stripped before the event is queued, since dispatch from here on is
// purely local.
func (q *EventQueue) FireEvent(event InternalEvent, t clock.Timestamp) {
	if event.ReceiverID.Module.Current() != q.rootPrefix {
		panic("sched: event receiver does not belong to this domain")
	}
	event.ReceiverID.Module = event.ReceiverID.Module.Advance()
	heap.Push(&q.internal, internalItem{event: event, at: t})
}

// FireEventNow schedules event for immediate delivery.
func (q *EventQueue) FireEventNow(event InternalEvent) {
	q.FireEvent(event, q.Clock.CurrentTime())
}

// FireEventNextTick schedules event for delivery at the start of the
// next tick.
func (q *EventQueue) FireEventNextTick(event InternalEvent) {
	q.FireEvent(event, q.Clock.NextTick())
}

// FireEventAtTicks schedules event for delivery at the given absolute
// tick count.
func (q *EventQueue) FireEventAtTicks(event InternalEvent, ticks clock.TickTimestamp) {
	q.FireEvent(event, q.Clock.TicksToTime(ticks))
}

// SetWire drives writerPin to state, fanning out to every listener the
// multiplexing table and net-list say are attached — locally via the
// wire-event heap, or across domains via the board's mailbox.
func (q *EventQueue) SetWire(writerPin addr.Pin, state wire.State) {
	for _, reader := range q.mux.OutgoingEventListeners(q.tables.Wiring, writerPin) {
		e := WireChangeEvent{ReceiverID: reader, State: state}
		if reader.Module.Current() == q.rootPrefix {
			e.ReceiverID.Module = e.ReceiverID.Module.Advance()
			heap.Push(&q.wires, wireItem{event: e, at: q.Clock.CurrentTime()})
		} else {
			q.tables.Inbox.Send(e, q.Clock.CurrentTime())
		}
	}
}

// Update drains the cross-domain mailbox into the local wire-event
// heap, then dispatches every internal and wire event whose time has
// arrived, in timestamp order, against root.
func (q *EventQueue) Update(root Module) {
	for {
		select {
		case posted := <-q.inboxRecv:
			for _, reader := range q.mux.IncomingEventListeners(posted.event.ReceiverID) {
				reader.Module = reader.Module.Advance()
				heap.Push(&q.wires, wireItem{
					event: WireChangeEvent{ReceiverID: reader, State: posted.event.State},
					at:    posted.at,
				})
			}
			continue
		default:
		}
		break
	}

	for {
		if len(q.internal) > 0 && q.internal[0].at <= q.Clock.CurrentTime() {
			item := heap.Pop(&q.internal).(internalItem)
			m := root.FindMut(item.event.ReceiverID.Module)
			if m == nil {
				panic("sched: module not found for internal event")
			}
			m.HandleEvent(item.event, q, item.at)
			continue
		}
		if len(q.wires) > 0 && q.wires[0].at <= q.Clock.CurrentTime() {
			item := heap.Pop(&q.wires).(wireItem)
			m := root.FindMut(item.event.ReceiverID.Module)
			if m == nil {
				panic("sched: module not found for wire event")
			}
			w := m.ToWireable()
			if w == nil {
				panic("sched: module not wireable for wire event")
			}
			w.SetPin(q, PinID(item.event.ReceiverID.PinID), item.event.State)
			continue
		}
		break
	}
}

// RegisterMultiplexer declares mainPin's priority-ordered alternatives.
func (q *EventQueue) RegisterMultiplexer(mainPin addr.Pin, alternatives []addr.Pin) {
	q.mux.Register(mainPin, alternatives)
}

// SetMultiplexerFlag toggles whether the peripheral owning pin
// currently claims it.
func (q *EventQueue) SetMultiplexerFlag(pin addr.Pin, flag bool) {
	q.mux.SetFlag(pin, flag)
}

// LookupPin resolves a through the multiplexing table to whichever
// alternate is presently active.
func (q *EventQueue) LookupPin(a addr.Pin) addr.Pin {
	return q.mux.ReadPinAddr(a)
}

// IsEmpty reports whether this domain has nothing left to do: both
// heaps drained and no cross-domain wire change waiting in the
// mailbox. The mailbox check keeps a halted MCU from going quiescent
// while an externally injected wire change sits undelivered.
func (q *EventQueue) IsEmpty() bool {
	return len(q.internal) == 0 && len(q.wires) == 0 && len(q.inboxRecv) == 0
}

// idleQuantum is the fixed number of ticks the clock advances by when
// no event is pending.
const idleQuantum = clock.TickTimestamp(1000)

// SkipToEvent advances the clock directly to the next pending event, or
// by a fixed quantum if the queue is empty, avoiding a tick-by-tick
// spin while the CPU is halted.
func (q *EventQueue) SkipToEvent() {
	var (
		have bool
		t    clock.Timestamp
	)
	if len(q.wires) > 0 {
		have, t = true, q.wires[0].at
	}
	if len(q.internal) > 0 {
		if !have || q.internal[0].at < t {
			have, t = true, q.internal[0].at
		}
	}
	if have {
		q.Clock.Advance(q.Clock.TimeToTicks(t) - q.Clock.CurrentTick())
	} else {
		q.Clock.Advance(idleQuantum)
	}
}

// AddMessage appends to the board-wide shared message log.
func (q *EventQueue) AddMessage(msg string) {
	q.tables.AddMessage(msg)
}

// Tables exposes the board-wide shared state this queue was built
// with, for callers (the MCU's interrupt entry, the CLI) that need
// direct mailbox/message access outside the normal event flow.
func (q *EventQueue) Tables() *Tables {
	return q.tables
}
