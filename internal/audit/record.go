package audit

import (
	"context"
	"time"
)

// Anonymous is recorded as the actor when no identity is attached.
const Anonymous = "anonymous"

// Snapshot is the redacted view of the request that caused a record.
type Snapshot struct {
	Method string              `json:"method"`
	Path   string              `json:"path"`
	Body   any                 `json:"body,omitempty"`
	Query  map[string][]string `json:"query,omitempty"`
}

// Record is one immutable audit trail entry. Seq, PrevHash and Hash are
// assigned by the store when the record is appended.
type Record struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	OccurredAt   time.Time `json:"occurredAt"`
	ActorUserID  string    `json:"actorUserId,omitempty"`
	ActorName    string    `json:"actorName"`
	ActorEmail   string    `json:"actorEmail"`
	Action       string    `json:"action"`
	Module       string    `json:"module"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId,omitempty"`
	Snapshot     Snapshot  `json:"snapshot"`
	ClientIP     string    `json:"clientIp"`
	UserAgent    string    `json:"userAgent"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	StatusCode   string    `json:"statusCode"`
	RequestID    string    `json:"requestId,omitempty"`
	PrevHash     string    `json:"prevHash"`
	Hash         string    `json:"hash"`
}

// Store persists audit records. Append must extend the hash chain atomically.
type Store interface {
	AppendAudit(ctx context.Context, rec Record) (Record, error)
	// ListAudit returns up to limit records with Seq below beforeSeq, newest
	// first. A beforeSeq of zero starts from the newest record.
	ListAudit(ctx context.Context, beforeSeq int64, limit int) ([]Record, error)
	// AuditChain returns up to limit records with Seq above afterSeq in
	// ascending order.
	AuditChain(ctx context.Context, afterSeq int64, limit int) ([]Record, error)
}
