package agentsdk

import (
	"context"
	"iter"
	"log/slog"
	"sync"
)

// broadcastCapacity bounds each subscriber's buffered view of the message
// stream. A subscriber that falls further behind is cut off with
// ErrSubscriberLagged rather than stalling the reader.
const broadcastCapacity = 1024

// broadcastItem is one entry in a subscriber's buffered view.
type broadcastItem struct {
	msg Message
	err error
}

// subscriber is one consumer of a session's message stream.
type subscriber struct {
	ch     chan broadcastItem
	lagged bool
}

// broadcaster fans a session's inbound message stream out to any number of
// independent buffered views. Every backend's reader publishes through one
// of these; ReceiveMessages iterators are subscriptions against it.
type broadcaster struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	ended  bool
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		logger: logger,
		subs:   make(map[uint64]*subscriber),
	}
}

// subscribe registers a new buffered view of the message stream. The
// returned cancel func detaches the view; safe to call more than once.
func (b *broadcaster) subscribe() (*subscriber, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch: make(chan broadcastItem, broadcastCapacity),
	}
	if b.ended {
		close(sub.ch)
		return sub, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return sub, cancel
}

// publish fans one item out to every subscriber. A subscriber whose buffer
// is full is removed and its view terminated; the others are unaffected.
func (b *broadcaster) publish(msg Message, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- broadcastItem{msg: msg, err: err}:
		default:
			sub.lagged = true
			close(sub.ch)
			delete(b.subs, id)
			b.logger.Debug("dropping lagging subscriber",
				"subscriber", id)
		}
	}
}

// shutdown ends every subscriber view. New subscriptions after shutdown see
// an immediately closed channel. Idempotent.
func (b *broadcaster) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}
	b.ended = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// receive returns an iterator over the message stream from this point on.
// The sequence ends when the stream shuts down or this view lags too far
// behind, in which case ErrSubscriberLagged is the final item.
func (b *broadcaster) receive(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		sub, cancel := b.subscribe()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-sub.ch:
				if !ok {
					if sub.lagged {
						yield(nil, &ErrSubscriberLagged{
							Capacity: broadcastCapacity,
						})
					}
					return
				}
				if !yield(item.msg, item.err) {
					return
				}
			}
		}
	}
}

// receiveResponse returns an iterator over one response turn: it ends after
// yielding a ResultMessage. Only this view terminates; the stream keeps
// flowing for other views.
func (b *broadcaster) receiveResponse(
	ctx context.Context) iter.Seq2[Message, error] {

	return func(yield func(Message, error) bool) {
		for msg, err := range b.receive(ctx) {
			if !yield(msg, err) {
				return
			}
			if isResultMessage(msg) {
				return
			}
		}
	}
}

// isResultMessage reports whether msg is a turn-terminal result.
func isResultMessage(msg Message) bool {
	switch msg.(type) {
	case ResultMessage, *ResultMessage:
		return true
	default:
		return false
	}
}
