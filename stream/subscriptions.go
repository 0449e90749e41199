package stream

import "sync"

// Subscription names one feed to stream, with an optional book depth
// (zero means the server default).
type Subscription struct {
	ParsecID string
	Outcome  string
	Depth    int
}

// Key returns the feed key for the subscription.
func (s Subscription) Key() FeedKey {
	return FeedKey{ParsecID: s.ParsecID, Outcome: s.Outcome}
}

// subscriptionSet is the durable record of which feeds should be
// subscribed. It survives reconnects; book state does not. It is mutated
// from the consumer's goroutine and read by the reconnect supervisor, so
// it carries its own lock.
type subscriptionSet struct {
	mu    sync.Mutex
	depth map[FeedKey]int
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{depth: make(map[FeedKey]int)}
}

// add records the requested feeds. A repeated subscribe for a known feed
// overwrites only the requested depth.
func (s *subscriptionSet) add(feeds []Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range feeds {
		s.depth[f.Key()] = f.Depth
	}
}

func (s *subscriptionSet) remove(keys []FeedKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.depth, k)
	}
}

// all returns a consistent copy of the desired set, used for the single
// batched resubscribe after a reconnect.
func (s *subscriptionSet) all() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.depth))
	for k, d := range s.depth {
		out = append(out, Subscription{ParsecID: k.ParsecID, Outcome: k.Outcome, Depth: d})
	}
	return out
}

func (s *subscriptionSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.depth)
}
