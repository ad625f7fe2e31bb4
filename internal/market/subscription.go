package market

import (
	"fmt"
	"sync"

	"github.com/tradecore/engine/pkg/types"
)

// StreamKind names one of the data streams a consumer can subscribe to
// for a given (venue, symbol).
type StreamKind string

const (
	StreamBook  StreamKind = "book"
	StreamTrade StreamKind = "trade"
	StreamKline StreamKind = "kline"
)

// SubscriptionState tracks whether a registration is still receiving
// events.
type SubscriptionState string

const (
	SubActive    SubscriptionState = "active"
	SubPaused    SubscriptionState = "paused"
	SubCancelled SubscriptionState = "cancelled"
)

// SubscriptionID uniquely identifies one registration returned by
// Manager.Subscribe.
type SubscriptionID uint64

type key struct {
	venue  types.Venue
	symbol types.Symbol
	stream StreamKind
}

type subscription struct {
	id     SubscriptionID
	key    key
	state  SubscriptionState
	deliver func(types.MarketEvent)
}

// Manager is the many-to-many fan-out table from (venue, symbol,
// stream_kind) to registered consumers, grounded on the teacher's
// exchange.WSFeed subscribed-map/mutex idiom generalized from a flat ID
// set to a full registration table with per-subscription state.
type Manager struct {
	mu      sync.RWMutex
	nextID  SubscriptionID
	byKey   map[key][]*subscription
	byID    map[SubscriptionID]*subscription
}

// NewManager builds an empty subscription manager.
func NewManager() *Manager {
	return &Manager{
		byKey: make(map[key][]*subscription),
		byID:  make(map[SubscriptionID]*subscription),
	}
}

// Subscribe registers deliver to receive every MarketEvent published for
// (venue, symbol, stream).
func (m *Manager) Subscribe(venue types.Venue, symbol types.Symbol, stream StreamKind, deliver func(types.MarketEvent)) SubscriptionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sub := &subscription{id: m.nextID, key: key{venue, symbol, stream}, state: SubActive, deliver: deliver}
	m.byID[sub.id] = sub
	m.byKey[sub.key] = append(m.byKey[sub.key], sub)
	return sub.id
}

// Pause stops delivery to id without removing the registration.
func (m *Manager) Pause(id SubscriptionID) error {
	return m.setState(id, SubPaused)
}

// Resume re-enables delivery to a paused subscription.
func (m *Manager) Resume(id SubscriptionID) error {
	return m.setState(id, SubActive)
}

// Cancel removes the registration entirely.
func (m *Manager) Cancel(id SubscriptionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("market: unknown subscription %d", id)
	}
	sub.state = SubCancelled
	delete(m.byID, id)
	list := m.byKey[sub.key]
	for i, s := range list {
		if s.id == id {
			m.byKey[sub.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Manager) setState(id SubscriptionID, state SubscriptionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("market: unknown subscription %d", id)
	}
	sub.state = state
	return nil
}

// Publish delivers evt to every active subscription registered for its
// (venue, symbol) and the given stream.
func (m *Manager) Publish(stream StreamKind, evt types.MarketEvent) {
	m.mu.RLock()
	subs := append([]*subscription(nil), m.byKey[key{evt.Venue, evt.Symbol, stream}]...)
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.state == SubActive {
			sub.deliver(evt)
		}
	}
}

// ActiveCount returns how many active subscriptions exist for a key,
// useful for deciding whether to keep a venue WS connection open.
func (m *Manager) ActiveCount(venue types.Venue, symbol types.Symbol, stream StreamKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.byKey[key{venue, symbol, stream}] {
		if s.state == SubActive {
			n++
		}
	}
	return n
}
