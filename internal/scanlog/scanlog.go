// Package scanlog holds the two shared scan structures: the single-record
// current-card slot the sequence controller polls, and the append-only scan
// log. Both are lock-guarded with short critical sections and are created
// once at process start.
package scanlog

import (
	"sync"

	"github.com/cardsort/sorterd/internal/model"
)

// Slot is a single-record mailbox holding the most recent scan, or none.
// Publishing overwrites; the controller detects a new scan by comparing the
// record's timestamp against the last one it acknowledged.
type Slot struct {
	mu   sync.Mutex
	card *model.CardRecord
}

func NewSlot() *Slot {
	return &Slot{}
}

func (s *Slot) Publish(card model.CardRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.card = &card
}

// Current returns a copy of the held record, or nil when no scan has been
// published since the last clear.
func (s *Slot) Current() *model.CardRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.card == nil {
		return nil
	}
	c := *s.card
	return &c
}

func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.card = nil
}

// Log is the append-only in-memory scan history, one record per processed
// scan in arrival order. The sqlite store keeps the durable copy; the log is
// primed from it at startup.
type Log struct {
	mu      sync.Mutex
	records []model.CardRecord
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(card model.CardRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, card)
}

func (l *Log) All() []model.CardRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.CardRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

// Prime replaces the in-memory history, used once at startup to restore the
// persisted log.
func (l *Log) Prime(records []model.CardRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]model.CardRecord(nil), records...)
}
