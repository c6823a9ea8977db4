// Package history implements the durable case archive: one partition per
// application mode, each a serialized newest-first sequence of entries keyed
// by case identifier. Lookup by identifier searches both partitions so a
// public self-check remains discoverable from the clinic side.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinix/clinix/internal/domain/record"
	"github.com/clinix/clinix/internal/platform/storage"
)

const (
	clinicKey = "clinix_history_clinic"
	publicKey = "clinix_history_public"
)

// ErrNotFound is returned by FindByID when neither partition holds the case.
var ErrNotFound = errors.New("history: case not found")

// Entry is one archived triage case. Entries are immutable after creation;
// the identifier and timestamp are backfilled into the embedded result at
// save time only.
type Entry struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Mode      record.AppMode      `json:"mode"`
	Summary   string              `json:"summary"`
	Tags      []string            `json:"tags"`
	Result    record.StoredResult `json:"result"`
}

// Store is the mode-partitioned case archive. Whole partitions are written
// back as a single unit; last writer wins, single active session assumed.
type Store struct {
	mu     sync.Mutex
	kv     storage.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Store over the given storage port.
func New(kv storage.Store, logger zerolog.Logger) *Store {
	return &Store{kv: kv, logger: logger, now: time.Now}
}

func partitionKey(mode record.AppMode) string {
	if mode == record.ModePublic {
		return publicKey
	}
	return clinicKey
}

// load reads a partition; unparseable stored data is treated as an empty
// partition rather than a fatal error.
func (s *Store) load(ctx context.Context, mode record.AppMode) []Entry {
	raw, err := s.kv.Get(ctx, partitionKey(mode))
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Warn().Err(err).Str("mode", string(mode)).Msg("history partition unreadable, treating as empty")
		return nil
	}
	return entries
}

func (s *Store) write(ctx context.Context, mode record.AppMode, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history partition: %w", err)
	}
	return s.kv.Set(ctx, partitionKey(mode), raw)
}

// Save archives a result under the given mode. The case identifier and
// timestamp are taken from the result when present, otherwise minted here,
// and backfilled into the embedded payload. Returns the stored entry.
func (s *Store) Save(ctx context.Context, mode record.AppMode, res record.StoredResult, summary string, tags []string) (*Entry, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if res.Mode != mode {
		return nil, fmt.Errorf("result mode %s does not match partition %s", res.Mode, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := res.CaseID()
	if id == "" {
		id = uuid.New().String()
	}
	ts := res.Timestamp()
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	res.Backfill(id, ts)

	entry := Entry{
		ID:        id,
		Timestamp: ts,
		Mode:      mode,
		Summary:   summary,
		Tags:      tags,
		Result:    res,
	}

	entries := append([]Entry{entry}, s.load(ctx, mode)...)
	if err := s.write(ctx, mode, entries); err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", id).Str("mode", string(mode)).Msg("case archived")
	return &entry, nil
}

// List returns the partition's entries newest-first. A partition that has
// never been written lists as empty.
func (s *Store) List(ctx context.Context, mode record.AppMode) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load(ctx, mode)
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Delete removes a single entry from the partition.
func (s *Store) Delete(ctx context.Context, mode record.AppMode, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load(ctx, mode)
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return ErrNotFound
	}
	return s.write(ctx, mode, kept)
}

// Clear removes the entire partition.
func (s *Store) Clear(ctx context.Context, mode record.AppMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, partitionKey(mode))
}

// FindByID searches the clinic partition first, then public. Identifiers are
// compared byte-for-byte; this backs both free-text case lookup and
// QR-encoded payloads.
func (s *Store) FindByID(ctx context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mode := range []record.AppMode{record.ModeClinic, record.ModePublic} {
		for _, e := range s.load(ctx, mode) {
			if e.ID == id {
				found := e
				return &found, nil
			}
		}
	}
	return nil, ErrNotFound
}
