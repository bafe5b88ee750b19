package roomclient

import (
	"sync"

	"github.com/park285/cheese-chessroom/internal/roomwire"
)

// feed queues pushed events for one room so the read loop never blocks on
// a slow consumer.
type feed struct {
	roomID string
	client *Client

	mu     sync.Mutex
	queue  []roomwire.Event
	closed bool
	notify chan struct{}
	out    chan roomwire.Event
	done   chan struct{}
	once   sync.Once
}

func newFeed(c *Client, roomID string) *feed {
	f := &feed{
		roomID: roomID,
		client: c,
		notify: make(chan struct{}, 1),
		out:    make(chan roomwire.Event),
		done:   make(chan struct{}),
	}
	go f.pump()
	return f
}

func (f *feed) Events() <-chan roomwire.Event { return f.out }

// Close stops delivery and tells the relay to drop the subscription.
func (f *feed) Close() error {
	if !f.stop() {
		return nil
	}
	f.client.dropFeed(f)
	return nil
}

func (f *feed) stop() bool {
	first := false
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.queue = nil
		f.mu.Unlock()
		close(f.done)
		first = true
	})
	return first
}

func (f *feed) push(ev roomwire.Event) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, ev)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *feed) pump() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.notify:
				continue
			case <-f.done:
				return
			}
		}
		ev := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		select {
		case f.out <- ev:
		case <-f.done:
			return
		}
	}
}
