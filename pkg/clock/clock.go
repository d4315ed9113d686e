// Package clock implements the monotone tick counter and tick/time
// conversion shared by every active module on a board.
package clock

// Timestamp is a signed, nanosecond-like point in simulated time.
type Timestamp int64

// TickTimestamp counts MCU clock ticks since the board was constructed.
type TickTimestamp int64

// TimeDiff is a signed interval between two Timestamps.
type TimeDiff int64

// Clock owns the tick/time relationship for a single active module's
// domain. The invariant current_time == current_tick * time_per_tick
// holds at every observation point; Advance is the only mutator and
// updates both fields together.
type Clock struct {
	currentTime Timestamp
	currentTick TickTimestamp
	timePerTick TimeDiff
}

// New returns a Clock starting at tick 0 with the given tick period.
func New(timePerTick TimeDiff) Clock {
	return Clock{timePerTick: timePerTick}
}

// CurrentTime returns the clock's current simulated time.
func (c *Clock) CurrentTime() Timestamp {
	return c.currentTime
}

// CurrentTick returns the clock's current tick count.
func (c *Clock) CurrentTick() TickTimestamp {
	return c.currentTick
}

// TicksToTime converts a tick count to the time at which it occurs.
func (c *Clock) TicksToTime(t TickTimestamp) Timestamp {
	return Timestamp(int64(t) * int64(c.timePerTick))
}

// TimeToTicks converts a time to the tick during which it falls.
func (c *Clock) TimeToTicks(t Timestamp) TickTimestamp {
	return TickTimestamp(int64(t) / int64(c.timePerTick))
}

// NextTick returns the time of the tick immediately after the current one.
func (c *Clock) NextTick() Timestamp {
	return c.TicksToTime(c.currentTick + 1)
}

// AfterTicks returns the time that is n ticks after the current tick.
func (c *Clock) AfterTicks(n TickTimestamp) Timestamp {
	return c.TicksToTime(c.currentTick + n)
}

// Advance moves the clock forward by n ticks, maintaining the
// current_time == current_tick * time_per_tick invariant.
func (c *Clock) Advance(n TickTimestamp) {
	c.currentTick += n
	c.currentTime = c.TicksToTime(c.currentTick)
}
