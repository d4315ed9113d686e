package sched

import (
	"testing"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/wire"
)

// recorder is a minimal leaf Module used to exercise EventQueue
// dispatch ordering without pulling in a real peripheral.
type recorder struct {
	id        addr.Module
	handled   []clock.Timestamp
	pinWrites []wire.State
}

func (r *recorder) Address() addr.Module { return r.id }
func (r *recorder) HandleEvent(event InternalEvent, q *EventQueue, t clock.Timestamp) {
	r.handled = append(r.handled, t)
}
func (r *recorder) Find(a addr.Module) Module {
	if a.IsEmpty() {
		return r
	}
	return nil
}
func (r *recorder) FindMut(a addr.Module) Module {
	if a.IsEmpty() {
		return r
	}
	return nil
}
func (r *recorder) ToWireable() WireableModule { return r }
func (r *recorder) GetPin(q *EventQueue, id PinID) wire.State {
	return wire.Z
}
func (r *recorder) SetPin(q *EventQueue, id PinID, data wire.State) {
	r.pinWrites = append(r.pinWrites, data)
}

func TestEventQueueDispatchesInTimestampOrder(t *testing.T) {
	tables := NewTables()
	q := NewEventQueue(tables, 1, 0)
	rec := &recorder{id: q.RootModuleID()}

	q.FireEventAtTicks(InternalEvent{ReceiverID: q.RootModuleID().WithEventPort(0)}, 10)
	q.FireEventAtTicks(InternalEvent{ReceiverID: q.RootModuleID().WithEventPort(0)}, 3)
	q.FireEventAtTicks(InternalEvent{ReceiverID: q.RootModuleID().WithEventPort(0)}, 7)

	q.Clock.Advance(10)
	q.Update(rec)

	if len(rec.handled) != 3 {
		t.Fatalf("expected 3 events dispatched, got %d", len(rec.handled))
	}
	for i := 1; i < len(rec.handled); i++ {
		if rec.handled[i-1] > rec.handled[i] {
			t.Fatalf("events dispatched out of order: %v", rec.handled)
		}
	}
}

func TestSetWireLocalDelivery(t *testing.T) {
	tables := NewTables()
	q := NewEventQueue(tables, 1, 0)
	rec := &recorder{id: q.RootModuleID()}

	pin := q.RootModuleID().WithPin(4)
	q.RegisterMultiplexer(pin, []addr.Pin{pin})
	tables.Wiring.AddWire(pin, []addr.Pin{q.RootModuleID().WithPin(5)})
	q.SetWire(pin, wire.High)
	q.Update(rec)

	if len(rec.pinWrites) != 1 || rec.pinWrites[0] != wire.High {
		t.Fatalf("expected one High pin write, got %v", rec.pinWrites)
	}
}

func TestSetWireCrossDomainDelivery(t *testing.T) {
	tables := NewTables()
	sender := NewEventQueue(tables, 1, 0)
	receiver := NewEventQueue(tables, 1, 1)
	rec := &recorder{id: receiver.RootModuleID()}

	pin := receiver.RootModuleID().WithPin(3)
	receiver.RegisterMultiplexer(pin, []addr.Pin{pin})
	src := sender.RootModuleID().WithPin(0)
	tables.Wiring.AddWire(src, []addr.Pin{pin})

	sender.SetWire(src, wire.High)
	receiver.Update(rec)

	if len(rec.pinWrites) != 1 || rec.pinWrites[0] != wire.High {
		t.Fatalf("expected one High pin write delivered cross-domain, got %v", rec.pinWrites)
	}
}

func TestSkipToEventAdvancesToNextPendingOrIdleQuantum(t *testing.T) {
	tables := NewTables()
	q := NewEventQueue(tables, 1, 0)
	q.FireEventAtTicks(InternalEvent{ReceiverID: q.RootModuleID().WithEventPort(0)}, 42)

	q.SkipToEvent()
	if q.Clock.CurrentTick() != 42 {
		t.Fatalf("expected clock to jump to tick 42, got %d", q.Clock.CurrentTick())
	}

	q2 := NewEventQueue(NewTables(), 1, 0)
	q2.SkipToEvent()
	if q2.Clock.CurrentTick() != idleQuantum {
		t.Fatalf("expected idle quantum advance of %d, got %d", idleQuantum, q2.Clock.CurrentTick())
	}
}
