// Package credentials holds the provider API keys used by a batch run and
// rotates through them round-robin.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/imagebatch/internal/kvstore"
)

// SlotCount is the fixed number of credential slots
const SlotCount = 10

var (
	ErrNoCredential   = errors.New("no credential available")
	ErrSlotOutOfRange = fmt.Errorf("slot must be between 0 and %d", SlotCount-1)
)

// Pool is a fixed array of optional credentials plus a rotation cursor.
// The cursor is the slot index of the credential handed out last.
type Pool struct {
	mu     sync.Mutex
	slots  [SlotCount]string
	cursor int
	store  kvstore.Store
}

// NewPool creates an empty pool. store may be nil for a pool that is never persisted.
func NewPool(store kvstore.Store) *Pool {
	return &Pool{store: store}
}

// Load reads slots and cursor from the store. Malformed values are logged and
// ignored so a damaged store never blocks a run.
func (p *Pool) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	raw, ok, err := p.store.Get(ctx, kvstore.KeyCredentials)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	var slots []string
	if ok {
		if err := json.Unmarshal([]byte(raw), &slots); err != nil {
			slog.Warn("Ignoring unreadable saved credentials", "err", err)
			slots = nil
		} else if len(slots) != SlotCount {
			slog.Warn("Ignoring saved credentials with unexpected slot count", "count", len(slots))
			slots = nil
		}
	}

	rawCursor, hasCursor, err := p.store.Get(ctx, kvstore.KeyCursor)
	if err != nil {
		return fmt.Errorf("load credential cursor: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if slots != nil {
		copy(p.slots[:], slots)
	}
	if hasCursor {
		if n, err := strconv.Atoi(strings.TrimSpace(rawCursor)); err == nil {
			p.cursor = n
		} else {
			slog.Warn("Ignoring unreadable credential cursor", "value", rawCursor)
		}
	}
	return nil
}

// Save writes slots and cursor to the store
func (p *Pool) Save(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	p.mu.Lock()
	data, err := json.Marshal(p.slots[:])
	cursor := p.cursor
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := p.store.Set(ctx, kvstore.KeyCredentials, string(data)); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := p.store.Set(ctx, kvstore.KeyCursor, strconv.Itoa(cursor)); err != nil {
		return fmt.Errorf("save credential cursor: %w", err)
	}
	return nil
}

// Set stores value in slot. Whitespace-only values leave the slot unusable.
func (p *Pool) Set(slot int, value string) error {
	if slot < 0 || slot >= SlotCount {
		return ErrSlotOutOfRange
	}
	p.mu.Lock()
	p.slots[slot] = value
	p.mu.Unlock()
	return nil
}

// Clear empties a slot
func (p *Pool) Clear(slot int) error {
	return p.Set(slot, "")
}

// Replace overwrites every slot and the cursor at once. Missing trailing
// values are treated as empty.
func (p *Pool) Replace(values []string, cursor int) error {
	if len(values) > SlotCount {
		return fmt.Errorf("got %d credentials, at most %d slots", len(values), SlotCount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = [SlotCount]string{}
	copy(p.slots[:], values)
	p.cursor = cursor
	return nil
}

// Fill puts values into empty slots in order, returning how many were placed
func (p *Pool) Fill(values ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	placed := 0
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		for i := range p.slots {
			if strings.TrimSpace(p.slots[i]) == "" {
				p.slots[i] = v
				placed++
				break
			}
		}
	}
	return placed
}

// Slots returns a copy of the raw slot contents
func (p *Pool) Slots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, SlotCount)
	copy(out, p.slots[:])
	return out
}

// Masked returns every slot in display form
func (p *Pool) Masked() []string {
	slots := p.Slots()
	for i, s := range slots {
		slots[i] = Mask(s)
	}
	return slots
}

// Filled returns the indexes of usable slots in ascending order
func (p *Pool) Filled() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filledLocked()
}

func (p *Pool) filledLocked() []int {
	filled := make([]int, 0, SlotCount)
	for i, s := range p.slots {
		if strings.TrimSpace(s) != "" {
			filled = append(filled, i)
		}
	}
	return filled
}

// HasCredential reports whether Next would succeed, without advancing the cursor
func (p *Pool) HasCredential() bool {
	return len(p.Filled()) > 0
}

// Cursor returns the slot index of the credential handed out last
func (p *Pool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Next advances the cursor to the following usable slot and returns its
// trimmed value. If the cursor points at a slot that has since been emptied,
// rotation resumes at the first usable slot after it, so clearing a slot does
// not skip or repeat its neighbours. The new cursor is persisted best effort.
func (p *Pool) Next(ctx context.Context) (string, error) {
	p.mu.Lock()
	filled := p.filledLocked()
	if len(filled) == 0 {
		p.mu.Unlock()
		return "", ErrNoCredential
	}

	next := -1
	for pos, idx := range filled {
		if idx == p.cursor {
			next = filled[(pos+1)%len(filled)]
			break
		}
	}
	if next == -1 {
		next = filled[0]
		for _, idx := range filled {
			if idx > p.cursor {
				next = idx
				break
			}
		}
	}

	p.cursor = next
	value := strings.TrimSpace(p.slots[next])
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Set(ctx, kvstore.KeyCursor, strconv.Itoa(next)); err != nil {
			slog.Warn("Failed to persist credential cursor", "slot", next, "err", err)
		}
	}

	slog.Debug("Selected credential", "slot", next, "credential", Mask(value))
	return value, nil
}

// Mask hides all but the last four characters of a credential
func Mask(value string) string {
	value = strings.TrimSpace(value)
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return ""
	}
	if n <= 8 {
		return strings.Repeat("•", n)
	}
	runes := []rune(value)
	return "••••" + string(runes[n-4:])
}
