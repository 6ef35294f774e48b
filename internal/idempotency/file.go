package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antoniostano/donna/internal/events"
)

const (
	processedDocName = "processed_events.json"
	recordsDocName   = "processing_records.json"
	locksDocName     = "pipeline_locks.json"

	defaultLockTTL = 30 * time.Minute
)

type processedDoc struct {
	ProcessedEventIDs []string  `json:"processedEventIds"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

type recordsDoc struct {
	Events      map[string]events.ProcessingRecord `json:"events"`
	LastUpdated time.Time                          `json:"lastUpdated"`
}

type lockEntry struct {
	EventID    string    `json:"event_id"`
	Stage      string    `json:"stage"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type locksDoc struct {
	Locks       []lockEntry `json:"locks"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// FileStore keeps the two idempotency documents and the lock table as JSON
// files under a data directory. A single mutex serializes every
// read-modify-write cycle; writes land via temp-file rename so a crash never
// leaves a half-written document.
type FileStore struct {
	mu      sync.Mutex
	dir     string
	lockTTL time.Duration
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir, lockTTL: defaultLockTTL}, nil
}

func (s *FileStore) HasProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadProcessedLocked()
	for _, id := range doc.ProcessedEventIDs {
		if id == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadProcessedLocked()
	for _, id := range doc.ProcessedEventIDs {
		if id == eventID {
			return nil
		}
	}
	doc.ProcessedEventIDs = append(doc.ProcessedEventIDs, eventID)
	doc.LastUpdated = time.Now().UTC()
	return s.writeDocLocked(processedDocName, doc)
}

func (s *FileStore) SaveRecord(_ context.Context, record events.ProcessingRecord) error {
	if record.EventID == "" {
		return fmt.Errorf("save record: event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadRecordsLocked()
	now := time.Now().UTC()
	doc.Events[record.EventID] = mergeRecord(doc.Events[record.EventID], record, now)
	doc.LastUpdated = now
	return s.writeDocLocked(recordsDocName, doc)
}

func (s *FileStore) LoadRecord(_ context.Context, eventID string) (events.ProcessingRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadRecordsLocked()
	rec, ok := doc.Events[eventID]
	if !ok {
		return events.ProcessingRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *FileStore) LoadAllRecords(_ context.Context) (map[string]events.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadRecordsLocked()
	out := make(map[string]events.ProcessingRecord, len(doc.Events))
	for id, rec := range doc.Events {
		out[id] = rec.Clone()
	}
	return out, nil
}

func (s *FileStore) AcquireLock(_ context.Context, eventID string, stage events.Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadLocksLocked()
	now := time.Now().UTC()

	kept := doc.Locks[:0]
	held := false
	for _, l := range doc.Locks {
		if now.Sub(l.AcquiredAt) > s.lockTTL {
			log.Printf("idempotency: reclaiming stale %s lock for event %s", l.Stage, l.EventID)
			continue
		}
		if l.EventID == eventID && l.Stage == string(stage) {
			held = true
		}
		kept = append(kept, l)
	}
	doc.Locks = kept
	if held {
		return false, s.writeDocLocked(locksDocName, doc)
	}

	doc.Locks = append(doc.Locks, lockEntry{EventID: eventID, Stage: string(stage), AcquiredAt: now})
	doc.LastUpdated = now
	if err := s.writeDocLocked(locksDocName, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) ReleaseLock(_ context.Context, eventID string, stage events.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.loadLocksLocked()
	kept := doc.Locks[:0]
	for _, l := range doc.Locks {
		if l.EventID == eventID && l.Stage == string(stage) {
			continue
		}
		kept = append(kept, l)
	}
	doc.Locks = kept
	doc.LastUpdated = time.Now().UTC()
	return s.writeDocLocked(locksDocName, doc)
}

func (s *FileStore) ResetEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := s.loadProcessedLocked()
	keptIDs := processed.ProcessedEventIDs[:0]
	for _, id := range processed.ProcessedEventIDs {
		if id == eventID {
			continue
		}
		keptIDs = append(keptIDs, id)
	}
	processed.ProcessedEventIDs = keptIDs
	processed.LastUpdated = time.Now().UTC()
	if err := s.writeDocLocked(processedDocName, processed); err != nil {
		return err
	}

	records := s.loadRecordsLocked()
	delete(records.Events, eventID)
	records.LastUpdated = time.Now().UTC()
	if err := s.writeDocLocked(recordsDocName, records); err != nil {
		return err
	}

	locks := s.loadLocksLocked()
	keptLocks := locks.Locks[:0]
	for _, l := range locks.Locks {
		if l.EventID == eventID {
			continue
		}
		keptLocks = append(keptLocks, l)
	}
	locks.Locks = keptLocks
	return s.writeDocLocked(locksDocName, locks)
}

func (s *FileStore) Close() error { return nil }

// loadProcessedLocked degrades to an empty document on any read or parse
// failure: a missing or corrupt store means "nothing processed yet", never a
// crash.
func (s *FileStore) loadProcessedLocked() processedDoc {
	var doc processedDoc
	s.readDocLocked(processedDocName, &doc)
	return doc
}

func (s *FileStore) loadRecordsLocked() recordsDoc {
	var doc recordsDoc
	s.readDocLocked(recordsDocName, &doc)
	if doc.Events == nil {
		doc.Events = make(map[string]events.ProcessingRecord)
	}
	return doc
}

func (s *FileStore) loadLocksLocked() locksDoc {
	var doc locksDoc
	s.readDocLocked(locksDocName, &doc)
	return doc
}

func (s *FileStore) readDocLocked(name string, out any) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Printf("idempotency: ignoring unreadable %s: %v", name, err)
	}
}

func (s *FileStore) writeDocLocked(name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
