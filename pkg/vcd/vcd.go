// Package vcd writes Value Change Dump waveform files, the format GTKWave
// and similar tools read to show per-signal traces over simulated time.
// A board's active modules run on independent goroutines (see pkg/board),
// so events can arrive out of timestamp order across modules even though
// each module's own stream is monotonic; a background receiver drains a
// bounded channel into a min-heap keyed by timestamp and only flushes the
// oldest batch once a size threshold is crossed, giving the writer time
// to reorder before committing a line.
package vcd

import (
	"bufio"
	"compress/gzip"
	"container/heap"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/wire"
)

// CreateFile opens path for writing a VCD trace, transparently wrapping
// it in a gzip writer when the name ends in ".gz", which keeps long
// captures manageable.
// The returned closer must be closed after the Receiver's Deployed handle
// has been Closed, so the trailing gzip footer is flushed.
func CreateFile(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	return &gzipFile{gzip.NewWriter(f), f}, nil
}

type gzipFile struct {
	*gzip.Writer
	f *os.File
}

func (g *gzipFile) Close() error {
	if err := g.Writer.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

// Event is one signal's new value at time T, expressed as an ASCII bit
// string (1 character per bit, MSB first) the way VCD's $var/value-change
// section expects.
type Event struct {
	T        clock.Timestamp
	SignalID int32
	Value    string
}

// StateString converts a slice of wire states (MSB first) to the VCD
// value alphabet: 0/1 for driven levels (weak levels count as driven),
// Z for high-impedance, X for a drive conflict.
func StateString(values []wire.State) string {
	b := make([]byte, len(values))
	for i, v := range values {
		switch v {
		case wire.Low, wire.WeakLow:
			b[i] = '0'
		case wire.High, wire.WeakHigh:
			b[i] = '1'
		case wire.Z:
			b[i] = 'Z'
		default:
			b[i] = 'X'
		}
	}
	return string(b)
}

// Signal is one node of the header's scope tree: either a named scope
// with children, or a leaf signal with a bit width and assigned id.
type Signal struct {
	Name     string
	ID       int32
	Size     int
	Children []Signal
}

func (s Signal) isScope() bool { return s.Children != nil }

// Sender lets a module participate in VCD capture: RegisterVCD is called
// once per module during Board construction, handing it the shared event
// channel and the next free signal id; it returns its own scope subtree
// (possibly containing further nested scopes) and how many ids it
// consumed, so the caller can offset the next registrant.
type Sender interface {
	RegisterVCD(events chan<- Event, startID int32) (signals []Signal, count int32)
}

// eventHeap is a timestamp-ordered min-heap of buffered events.
type eventHeap []Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].T < h[j].T }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// finishSignalID is the sentinel signal id Close sends to tell the
// background writer goroutine to flush and return.
const finishSignalID = -1

// Receiver buffers and writes VCD events. Create one with NewReceiver,
// register every VCD-capable module with Register, then Deploy it to
// start the background writer before running the board.
type Receiver struct {
	Events chan Event

	signals     []Signal
	signalCount int32

	queue eventHeap
	w     *bufio.Writer
}

// psPerNs converts event timestamps (picoseconds, the board's Timestamp
// unit — see mcu.TicksPerCycle) into the 1ns timescale the header
// declares.
const psPerNs = 1000

// NewReceiver constructs a Receiver writing to w.
func NewReceiver(w io.Writer) *Receiver {
	return &Receiver{
		Events: make(chan Event, 128),
		w:      bufio.NewWriter(w),
	}
}

// Register records name's module's signal tree under a scope of the same
// name, handing it the Receiver's shared channel and the next unused
// signal id range.
func (r *Receiver) Register(name string, s Sender) {
	children, count := s.RegisterVCD(r.Events, r.signalCount)
	r.signals = append(r.signals, Signal{Name: name, Children: children})
	r.signalCount += count
}

// writeID encodes a signal id as VCD's compact base-92 identifier
// alphabet, starting at '!' (0x21).
func writeID(w *bufio.Writer, id int32) {
	if id == 0 {
		w.WriteByte('!')
		return
	}
	var buf [8]byte
	n := 0
	for id > 0 {
		buf[n] = byte(id%92) + '!'
		id /= 92
		n++
	}
	w.Write(buf[:n])
}

func writeSignalHeader(w *bufio.Writer, s Signal) {
	if s.isScope() {
		fmt.Fprintf(w, "$scope module %s $end\n", s.Name)
		for _, c := range s.Children {
			writeSignalHeader(w, c)
		}
		fmt.Fprint(w, "$upscope $end\n")
		return
	}
	fmt.Fprintf(w, "$var wire %d ", s.Size)
	writeID(w, s.ID)
	fmt.Fprintf(w, " %s $end\n", s.Name)
}

// WriteHeader emits the $version/$timescale/scope-tree/$enddefinitions
// preamble. Call once, before run or any manual writeUpTo.
func (r *Receiver) WriteHeader() {
	fmt.Fprint(r.w, "$version boardsim 1.0\n$end\n")
	fmt.Fprint(r.w, "$timescale 1 ns\n$end\n")
	for _, s := range r.signals {
		writeSignalHeader(r.w, s)
	}
	fmt.Fprint(r.w, "$enddefinitions $end\n")
}

// receiveAll blocks for at least one event, then drains everything else
// currently queued on the channel; a finishSignalID event sets finished
// and is not queued.
func (r *Receiver) receiveAll() (finished bool) {
	e, ok := <-r.Events
	if !ok || e.SignalID == finishSignalID {
		return true
	}
	heap.Push(&r.queue, e)
	for {
		select {
		case e, ok := <-r.Events:
			if !ok {
				return true
			}
			if e.SignalID == finishSignalID {
				return true
			}
			heap.Push(&r.queue, e)
		default:
			return false
		}
	}
}

// writeUpTo drains the heap down to maxSize entries, writing one VCD
// timestamp line (prefixed with #) whenever the time advances and one
// value-change line per event, in timestamp order.
func (r *Receiver) writeUpTo(maxSize int) {
	var currentT clock.Timestamp = -1
	for r.queue.Len() > maxSize {
		e := r.queue[0]
		if e.T != currentT {
			currentT = e.T
			fmt.Fprintf(r.w, "#%d\n", int64(e.T)/psPerNs)
		}
		if len(e.Value) > 1 {
			fmt.Fprintf(r.w, "b%s ", e.Value)
		} else {
			r.w.WriteString(e.Value)
		}
		writeID(r.w, e.SignalID)
		r.w.WriteByte('\n')
		heap.Pop(&r.queue)
	}
}

// run is the background writer's main loop: write the header, then
// repeatedly drain the channel and flush whenever the buffered queue
// grows past a high-water mark, until a finish sentinel arrives.
func (r *Receiver) run() {
	r.WriteHeader()
	for {
		finished := r.receiveAll()
		if r.queue.Len() > 32*1024 {
			r.writeUpTo(24 * 1024)
		}
		if finished {
			break
		}
	}
	r.writeUpTo(0)
	r.w.Flush()
}

// Deployed is a running Receiver's handle: send events on its channel,
// then call Close to flush and wait for the writer goroutine to exit.
type Deployed struct {
	events chan Event
	done   chan struct{}
}

// Deploy starts the Receiver's writer loop on its own goroutine and
// returns a handle for shutting it down cleanly.
func (r *Receiver) Deploy() *Deployed {
	done := make(chan struct{})
	go func() {
		r.run()
		close(done)
	}()
	return &Deployed{events: r.Events, done: done}
}

// Close signals the writer goroutine to flush its buffer and exit, then
// waits for it to finish.
func (d *Deployed) Close() {
	d.events <- Event{SignalID: finishSignalID}
	<-d.done
}
