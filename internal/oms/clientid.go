// Package oms implements the order management layer: client-order-id
// allocation and the order state machine that tracks every order from
// submission through its terminal state.
package oms

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ClientIDAllocator hands out globally unique client order IDs of the
// form "<prefix>-<process_uid>-<counter>". process_uid is derived once
// per process from the wall clock and a UUID tail so IDs stay unique
// across restarts even if the persisted counter is lost; the counter
// itself is persisted to disk with the same atomic write-then-rename
// idiom the teacher uses for position persistence
// (internal/store/store.go), so a restart resumes past the last
// allocated value instead of risking reuse.
type ClientIDAllocator struct {
	prefix     string
	processUID string
	counter    atomic.Uint64
	path       string
}

// NewClientIDAllocator builds an allocator that persists its counter to
// <dir>/clientid_<prefix>.counter, restoring it on startup.
func NewClientIDAllocator(dir, prefix string) (*ClientIDAllocator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("oms: create clientid dir: %w", err)
	}

	a := &ClientIDAllocator{
		prefix:     prefix,
		processUID: newProcessUID(),
		path:       filepath.Join(dir, "clientid_"+prefix+".counter"),
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("oms: read clientid counter: %w", err)
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("oms: parse clientid counter: %w", err)
	}
	a.counter.Store(n)
	return a, nil
}

func newProcessUID() string {
	id := uuid.New()
	tail := binary.BigEndian.Uint64(id[8:])
	return fmt.Sprintf("%x", uint64(time.Now().UnixNano())^tail)
}

// Next returns the next client order ID and durably persists the
// advanced counter before returning it, so a crash between allocation
// and use never yields a duplicate on restart.
func (a *ClientIDAllocator) Next() (string, error) {
	n := a.counter.Add(1)
	if err := a.persist(n); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%d", a.prefix, a.processUID, n), nil
}

func (a *ClientIDAllocator) persist(n uint64) error {
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(n, 10)), 0o600); err != nil {
		return fmt.Errorf("oms: write clientid counter: %w", err)
	}
	return os.Rename(tmp, a.path)
}
