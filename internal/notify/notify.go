// Package notify implements the Notifier (§4.H): it fans every store
// mutation out to whichever sessions are currently subscribed to the
// affected key, decoupled from both the Store and the Session Table via a
// topic-filtered publish/subscribe bus.
package notify

import (
	"time"

	"github.com/moby/pubsub"
	"github.com/sirupsen/logrus"
)

// Event is one store mutation: Value is wire.Tombstone for a delete.
type Event struct {
	Key   string
	Value string
}

// publishTimeout bounds how long Publish blocks trying to hand an event to a
// slow subscriber before giving up on that subscriber for this event; it
// never blocks Store.Write/Delete indefinitely on a stalled session.
const publishTimeout = 100 * time.Millisecond

// subscriberBuffer is the per-subscription channel depth, absorbing a burst
// of writes between a session's consecutive notification-FIFO writes.
const subscriberBuffer = 64

// Engine is the Notifier the Store calls into, and the subscription point
// Session Workers use to receive only the events they currently care about.
type Engine struct {
	pub *pubsub.Publisher
	log logrus.FieldLogger
}

// New builds an Engine. It implements store.Notifier.
func New(log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		pub: pubsub.NewPublisher(publishTimeout, subscriberBuffer),
		log: log.WithField("component", "notify"),
	}
}

// Notify publishes one store mutation. Implements store.Notifier.
func (e *Engine) Notify(key, value string) {
	e.pub.Publish(Event{Key: key, Value: value})
}

// Subscribe returns a channel of Events whose Key currently satisfies
// interested, as evaluated fresh for every published Event (so a session
// that subscribes/unsubscribes between events sees the effect immediately,
// without resubscribing).
func (e *Engine) Subscribe(interested func(key string) bool) chan interface{} {
	return e.pub.SubscribeTopic(func(v interface{}) bool {
		ev, ok := v.(Event)
		return ok && interested(ev.Key)
	})
}

// Unsubscribe evicts ch from the bus and closes it.
func (e *Engine) Unsubscribe(ch chan interface{}) {
	e.pub.Evict(ch)
}

// Close shuts the underlying bus down, closing every live subscriber channel.
func (e *Engine) Close() {
	e.pub.Close()
}
