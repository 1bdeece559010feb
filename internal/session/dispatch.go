package session

import (
	"log/slog"
	"sync"
)

// dispatcher delivers events to listeners from a single goroutine in the
// order they were queued. Enqueue never blocks.
type dispatcher struct {
	log *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	listeners map[int]Listener
	order     []int
	nextID    int
	closed    bool

	done chan struct{}
}

func newDispatcher(log *slog.Logger) *dispatcher {
	d := &dispatcher{
		log:       log,
		listeners: make(map[int]Listener),
		done:      make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) subscribe(l Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.order = append(d.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.listeners, id)
			for i, v := range d.order {
				if v == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (d *dispatcher) enqueue(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
}

// close stops accepting events, drains the queue and waits for the
// dispatcher goroutine to exit.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Signal()
	}
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		targets := make([]Listener, 0, len(d.order))
		for _, id := range d.order {
			targets = append(targets, d.listeners[id])
		}
		d.mu.Unlock()

		for _, l := range targets {
			d.deliver(l, ev)
		}
	}
}

func (d *dispatcher) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event listener panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	l.HandleEvent(ev)
}
