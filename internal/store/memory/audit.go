package memory

import (
	"context"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/ids"
)

var _ audit.Store = (*Store)(nil)

type auditLog struct {
	records []audit.Record
}

func (s *Store) AppendAudit(_ context.Context, rec audit.Record) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	rec.Seq = int64(len(s.audit.records)) + 1
	rec.PrevHash = ""
	if n := len(s.audit.records); n > 0 {
		rec.PrevHash = s.audit.records[n-1].Hash
	}
	hash, err := audit.Seal(rec.PrevHash, rec)
	if err != nil {
		return audit.Record{}, err
	}
	rec.Hash = hash
	s.audit.records = append(s.audit.records, rec)
	return rec, nil
}

func (s *Store) ListAudit(_ context.Context, beforeSeq int64, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Record, 0, limit)
	for i := len(s.audit.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.audit.records[i]
		if beforeSeq > 0 && rec.Seq >= beforeSeq {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) AuditChain(_ context.Context, afterSeq int64, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Record, 0, limit)
	for _, rec := range s.audit.records {
		if rec.Seq <= afterSeq {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}
