// Package memory is the trade journal used when PostgreSQL is disabled. It
// keeps records in memory and, with a journal path, appends each one as a
// JSON line so the ledger survives restarts.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore.
type TradeRecordStore struct {
	mu      sync.RWMutex
	records []domain.TradeRecord // oldest first
	ids     map[string]struct{}
	journal *os.File
}

// NewTradeRecordStore creates an in-memory store. When journalPath is
// non-empty, existing lines are loaded and new records are appended to it.
func NewTradeRecordStore(journalPath string) (*TradeRecordStore, error) {
	s := &TradeRecordStore{ids: make(map[string]struct{})}
	if journalPath == "" {
		return s, nil
	}

	if err := s.load(journalPath); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(journalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("memory: open journal: %w", err)
	}
	s.journal = f
	return s, nil
}

func (s *TradeRecordStore) load(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: open journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec domain.TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("memory: journal line %d: %w", line, err)
		}
		if _, dup := s.ids[rec.ID]; dup {
			continue
		}
		s.ids[rec.ID] = struct{}{}
		s.records = append(s.records, rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("memory: read journal: %w", err)
	}
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Timestamp.Before(s.records[j].Timestamp)
	})
	return nil
}

// Append stores rec and writes it to the journal file.
func (s *TradeRecordStore) Append(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[rec.ID]; dup {
		return fmt.Errorf("memory: append trade record %s: duplicate id", rec.ID)
	}
	if s.journal != nil {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("memory: marshal trade record: %w", err)
		}
		if _, err := s.journal.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("memory: write journal: %w", err)
		}
	}
	s.ids[rec.ID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func inRange(r domain.TradeRecord, opts domain.ListOpts) bool {
	if opts.Since != nil && r.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && r.Timestamp.After(*opts.Until) {
		return false
	}
	return true
}

// ListRecent returns records newest first.
func (s *TradeRecordStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TradeRecord, 0)
	skipped := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !inRange(r, opts) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// SummarizeDay totals executed buys on the UTC day containing dayUTC. Sells
// do not count against the caps.
func (s *TradeRecordStore) SummarizeDay(_ context.Context, dayUTC time.Time) (domain.DaySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.UTCDate(dayUTC)
	var sum domain.DaySummary
	for _, r := range s.records {
		if r.Outcome == domain.OutcomeExecuted && !r.IsSell() && domain.UTCDate(r.Timestamp) == key {
			sum.TradeCount++
			sum.NotionalUSD += r.NotionalUSD
		}
	}
	return sum, nil
}

// ListBefore returns records strictly before the cutoff, oldest first.
func (s *TradeRecordStore) ListBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TradeRecord, 0)
	for _, r := range s.records {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close closes the journal file.
func (s *TradeRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// Compile-time interface check.
var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
