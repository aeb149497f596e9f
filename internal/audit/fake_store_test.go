package audit

import (
	"context"
	"sync"
)

// sliceStore is a minimal chained Store for tests.
type sliceStore struct {
	mu      sync.Mutex
	records []Record
	err     error
	block   chan struct{}
}

func (s *sliceStore) AppendAudit(ctx context.Context, rec Record) (Record, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Record{}, s.err
	}
	rec.Seq = int64(len(s.records)) + 1
	if n := len(s.records); n > 0 {
		rec.PrevHash = s.records[n-1].Hash
	}
	hash, err := Seal(rec.PrevHash, rec)
	if err != nil {
		return Record{}, err
	}
	rec.Hash = hash
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *sliceStore) ListAudit(_ context.Context, beforeSeq int64, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeSeq > 0 && s.records[i].Seq >= beforeSeq {
			continue
		}
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *sliceStore) AuditChain(_ context.Context, afterSeq int64, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Seq > afterSeq && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *sliceStore) snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// captureSink records what the middleware enqueues.
type captureSink struct {
	mu      sync.Mutex
	records []Record
	ctxs    []context.Context
}

func (s *captureSink) Enqueue(ctx context.Context, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.ctxs = append(s.ctxs, ctx)
	return true
}

func (s *captureSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
