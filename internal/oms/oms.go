package oms

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tradecore/engine/internal/wal"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// WAL record types for order-lifecycle journaling. A Manager with no WAL
// attached (the zero value returned by NewManager) never writes these;
// SetWAL opts a Manager into durable logging for crash recovery.
const (
	RecordCreate     uint8 = 1
	RecordTransition uint8 = 2
	RecordFill       uint8 = 3
)

type createRecord struct {
	ClientOrderID string
	Venue         types.Venue
	Symbol        types.Symbol
	Side          types.Side
	Type          types.OrderType
	TIF           types.TimeInForce
	Price         money.Decimal
	Qty           money.Decimal
}

type transitionRecord struct {
	ClientOrderID string
	To            types.OrderState
}

type fillRecord struct {
	ClientOrderID string
	FillPrice     money.Decimal
	FillQty       money.Decimal
}

// transitions enumerates the order states reachable from each state. A
// transition not listed here is rejected by Manager.Transition, so a bug
// upstream (e.g. routing a fill into an order already Cancelled) fails
// loudly instead of corrupting the book.
var transitions = map[types.OrderState][]types.OrderState{
	types.StateNew:             {types.StateSubmitted, types.StateRejected},
	types.StateSubmitted:       {types.StateAccepted, types.StateRejected},
	types.StateAccepted:        {types.StatePartiallyFilled, types.StateFilled, types.StateCancelRequested, types.StateRejected, types.StateExpired},
	types.StatePartiallyFilled: {types.StatePartiallyFilled, types.StateFilled, types.StateCancelRequested, types.StateExpired},
	types.StateCancelRequested: {types.StateCancelled, types.StatePartiallyFilled, types.StateFilled},
}

func canTransition(from, to types.OrderState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Manager is the order state machine and order store: every order the
// engine has submitted, keyed by client order ID, with copy-on-read
// access so callers can never mutate tracked state out from under a
// concurrent update.
//
// Grounded on the teacher's OrderStore (RWMutex map, copy-on-read
// Get/GetAll, status-filtered GetOpenOrders,
// _examples/gurre-prime-fix-md-go/fixclient/orderstore.go), generalized
// from loosely-typed FIX status strings to the typed transition table
// above.
type Manager struct {
	mu     sync.RWMutex
	orders map[string]*types.Order
	wal    *wal.WAL
}

// NewManager builds an empty order manager with no WAL attached: Create,
// Transition, and ApplyFill behave exactly as before and every existing
// call site keeps working unchanged.
func NewManager() *Manager {
	return &Manager{orders: make(map[string]*types.Order)}
}

// SetWAL opts the manager into durable order-lifecycle journaling: every
// subsequent Create/Transition/ApplyFill call also appends a record to w.
// A manager restored from a journal via Restore should call SetWAL only
// after Restore returns, so replayed records are not re-appended.
func (m *Manager) SetWAL(w *wal.WAL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wal = w
}

func (m *Manager) appendLocked(typ uint8, v interface{}) {
	if m.wal == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	// Best-effort: a WAL append failure here must not block the in-memory
	// state transition that already happened, since the operator-visible
	// order state is the in-memory one; Append errors surface via metrics
	// on the engine's WAL instance instead.
	_, _ = m.wal.Append(typ, payload)
}

// Create registers a brand-new order in StateNew.
func (m *Manager) Create(clientOrderID string, venue types.Venue, symbol types.Symbol, side types.Side, typ types.OrderType, tif types.TimeInForce, price, qty money.Decimal) *types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	order := &types.Order{
		ClientOrderID: clientOrderID,
		Venue:         venue,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		TIF:           tif,
		Price:         price,
		Qty:           qty,
		State:         types.StateNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.orders[clientOrderID] = order
	m.appendLocked(RecordCreate, createRecord{
		ClientOrderID: clientOrderID, Venue: venue, Symbol: symbol, Side: side,
		Type: typ, TIF: tif, Price: price, Qty: qty,
	})
	return copyOrder(order)
}

// Transition moves an order to a new state, validating the transition
// against the state machine and returning an error if it is illegal.
func (m *Manager) Transition(clientOrderID string, to types.OrderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("oms: unknown order %s", clientOrderID)
	}
	if order.State == to {
		return nil
	}
	if !canTransition(order.State, to) {
		return fmt.Errorf("oms: illegal transition %s -> %s for order %s", order.State, to, clientOrderID)
	}
	order.State = to
	order.UpdatedAt = time.Now()
	m.appendLocked(RecordTransition, transitionRecord{ClientOrderID: clientOrderID, To: to})
	return nil
}

// ApplyFill records a fill against an order: advances CumQty/AvgFillPrice
// and transitions to PartiallyFilled or Filled depending on whether the
// order is now fully filled.
func (m *Manager) ApplyFill(clientOrderID string, fillPrice, fillQty money.Decimal) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("oms: unknown order %s", clientOrderID)
	}

	cumQty := order.CumQty.Add(fillQty)
	to := types.StatePartiallyFilled
	if cumQty.GreaterThan(order.Qty) || cumQty.Equal(order.Qty) {
		to = types.StateFilled
	}
	if !canTransition(order.State, to) && order.State != to {
		return nil, fmt.Errorf("oms: illegal transition %s -> %s applying fill to %s", order.State, to, clientOrderID)
	}

	prevNotional := order.AvgFillPrice.Mul(order.CumQty)
	newNotional := prevNotional.Add(fillPrice.Mul(fillQty))
	order.CumQty = cumQty
	if !order.CumQty.IsZero() {
		order.AvgFillPrice = newNotional.Div(order.CumQty)
	}
	order.State = to
	order.UpdatedAt = time.Now()
	m.appendLocked(RecordFill, fillRecord{ClientOrderID: clientOrderID, FillPrice: fillPrice, FillQty: fillQty})
	return copyOrder(order), nil
}

// Get returns a copy of the tracked order, or nil if unknown.
func (m *Manager) Get(clientOrderID string) *types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[clientOrderID]
	if !ok {
		return nil
	}
	return copyOrder(order)
}

// Open returns copies of every order not yet in a terminal state.
func (m *Manager) Open() []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.Order, 0)
	for _, order := range m.orders {
		if !order.State.Terminal() {
			result = append(result, copyOrder(order))
		}
	}
	return result
}

// All returns copies of every tracked order.
func (m *Manager) All() []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.Order, 0, len(m.orders))
	for _, order := range m.orders {
		result = append(result, copyOrder(order))
	}
	return result
}

func copyOrder(o *types.Order) *types.Order {
	c := *o
	return &c
}

// Restore rebuilds order state from a sequence of journaled WAL records,
// replaying them in the order Append assigned them (the same order
// wal.WAL.Replay delivers them in). It is the crash-recovery counterpart
// to SetWAL: the engine opens its WAL, calls wal.Replay to collect the
// oms-typed records, passes them here to get a Manager with identical
// order state to the one that crashed, then calls SetWAL on the result so
// further activity keeps journaling.
//
// Records of unrecognized type are skipped rather than rejected, since
// the same WAL interleaves other subsystems' record types (the caller is
// expected to have already filtered to RecordCreate/RecordTransition/
// RecordFill if it wants to avoid the json.Unmarshal attempt entirely).
func Restore(records []wal.Record) (*Manager, error) {
	m := NewManager()
	for _, r := range records {
		switch r.Type {
		case RecordCreate:
			var cr createRecord
			if err := json.Unmarshal(r.Payload, &cr); err != nil {
				return nil, fmt.Errorf("oms: restore create record: %w", err)
			}
			m.Create(cr.ClientOrderID, cr.Venue, cr.Symbol, cr.Side, cr.Type, cr.TIF, cr.Price, cr.Qty)
		case RecordTransition:
			var tr transitionRecord
			if err := json.Unmarshal(r.Payload, &tr); err != nil {
				return nil, fmt.Errorf("oms: restore transition record: %w", err)
			}
			if err := m.Transition(tr.ClientOrderID, tr.To); err != nil {
				return nil, fmt.Errorf("oms: restore transition %+v: %w", tr, err)
			}
		case RecordFill:
			var fr fillRecord
			if err := json.Unmarshal(r.Payload, &fr); err != nil {
				return nil, fmt.Errorf("oms: restore fill record: %w", err)
			}
			if _, err := m.ApplyFill(fr.ClientOrderID, fr.FillPrice, fr.FillQty); err != nil {
				return nil, fmt.Errorf("oms: restore fill %+v: %w", fr, err)
			}
		}
	}
	return m, nil
}
