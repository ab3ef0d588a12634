package pump

import "errors"

// ErrStarved is the panic value of Fake.PumpUntil when it runs out of
// events before its condition holds.
var ErrStarved = errors.New("fake pump starved")

// Fake is a synchronous, scripted event pump for tests. Posted events run
// in order when the code under test pumps.
type Fake struct {
	events []func()

	busy  bool
	modal bool

	// OnProcess runs at the start of every ProcessEvents call.
	OnProcess func()

	// ProcessCalls counts ProcessEvents calls.
	ProcessCalls int

	// PumpCalls counts PumpUntil calls.
	PumpCalls int

	// Dispatched counts events run.
	Dispatched int
}

// NewFake creates an empty fake pump.
func NewFake() *Fake {
	return &Fake{}
}

// Post queues fn.
func (f *Fake) Post(fn func()) error {
	f.events = append(f.events, fn)
	return nil
}

// Pending returns the number of queued events.
func (f *Fake) Pending() int {
	return len(f.events)
}

// ProcessEvents runs every queued event.
func (f *Fake) ProcessEvents() {
	f.ProcessCalls++
	if f.OnProcess != nil {
		f.OnProcess()
	}
	for len(f.events) > 0 {
		f.next()
	}
}

// PumpUntil runs queued events until done reports true. It panics with
// ErrStarved if the queue empties first, so a broken test fails instead of
// hanging.
func (f *Fake) PumpUntil(done func() bool) {
	f.PumpCalls++
	for !done() {
		if len(f.events) == 0 {
			panic(ErrStarved)
		}
		f.next()
	}
}

// SetBusy sets the value reported by Busy.
func (f *Fake) SetBusy(busy bool) {
	f.busy = busy
}

// Busy reports the value set by SetBusy.
func (f *Fake) Busy() bool {
	return f.busy
}

// SetModal sets the value reported by ModalActive.
func (f *Fake) SetModal(modal bool) {
	f.modal = modal
}

// BeginModal marks a modal dialog as active.
func (f *Fake) BeginModal() {
	f.modal = true
}

// EndModal clears the modal flag.
func (f *Fake) EndModal() {
	f.modal = false
}

// ModalActive reports the value set by SetModal.
func (f *Fake) ModalActive() bool {
	return f.modal
}

func (f *Fake) next() {
	fn := f.events[0]
	f.events = f.events[1:]
	f.Dispatched++
	fn()
}
