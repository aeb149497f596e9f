package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/ids"
)

// auditChainLock is the advisory lock key serializing chain appends.
const auditChainLock int64 = 0x666c656574617564

const defaultAuditPage = 100

const auditColumns = `seq, id, occurred_at, actor_user_id, actor_name, actor_email, action, module,
	resource_type, resource_id, snapshot, client_ip, user_agent, method, url, status_code,
	request_id, prev_hash, hash`

// AppendAudit assigns the next sequence number, links the record to the
// current chain head and inserts it, all under a transaction advisory lock.
func (s *Store) AppendAudit(ctx context.Context, rec audit.Record) (audit.Record, error) {
	if s.db == nil {
		return audit.Record{}, errNoDB
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	rec.OccurredAt = rec.OccurredAt.UTC().Truncate(time.Microsecond)
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return audit.Record{}, fmt.Errorf("encode snapshot: %w", err)
	}
	// Hash what a reader will decode, not the in-memory value.
	var stored audit.Snapshot
	if err := json.Unmarshal(snapshot, &stored); err != nil {
		return audit.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}
	rec.Snapshot = stored

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, auditChainLock); err != nil {
		return audit.Record{}, err
	}
	var (
		lastSeq  int64
		lastHash string
	)
	err = tx.QueryRowContext(ctx, `select seq, hash from audit_logs order by seq desc limit 1`).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, err
	}
	rec.Seq = lastSeq + 1
	rec.PrevHash = lastHash
	if rec.Hash, err = audit.Seal(rec.PrevHash, rec); err != nil {
		return audit.Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into audit_logs (`+auditColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		rec.Seq, rec.ID, rec.OccurredAt, nullIfEmpty(rec.ActorUserID), rec.ActorName, rec.ActorEmail,
		rec.Action, rec.Module, rec.ResourceType, nullIfEmpty(rec.ResourceID), snapshot,
		rec.ClientIP, rec.UserAgent, rec.Method, rec.URL, rec.StatusCode,
		nullIfEmpty(rec.RequestID), rec.PrevHash, rec.Hash,
	); err != nil {
		return audit.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return audit.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListAudit(ctx context.Context, beforeSeq int64, limit int) ([]audit.Record, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 {
		limit = defaultAuditPage
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+auditColumns+`
		from audit_logs
		where ($1::bigint = 0 or seq < $1)
		order by seq desc
		limit $2
	`, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	return collectAudit(rows)
}

func (s *Store) AuditChain(ctx context.Context, afterSeq int64, limit int) ([]audit.Record, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 {
		limit = defaultAuditPage
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+auditColumns+`
		from audit_logs
		where seq > $1
		order by seq asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return collectAudit(rows)
}

func collectAudit(rows *sql.Rows) ([]audit.Record, error) {
	defer rows.Close()
	out := []audit.Record{}
	for rows.Next() {
		var (
			rec                   audit.Record
			actor, resource, rqID sql.NullString
			snapshot              []byte
		)
		if err := rows.Scan(
			&rec.Seq, &rec.ID, &rec.OccurredAt, &actor, &rec.ActorName, &rec.ActorEmail,
			&rec.Action, &rec.Module, &rec.ResourceType, &resource, &snapshot,
			&rec.ClientIP, &rec.UserAgent, &rec.Method, &rec.URL, &rec.StatusCode,
			&rqID, &rec.PrevHash, &rec.Hash,
		); err != nil {
			return nil, err
		}
		rec.ActorUserID, rec.ResourceID, rec.RequestID = actor.String, resource.String, rqID.String
		rec.OccurredAt = rec.OccurredAt.UTC()
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &rec.Snapshot); err != nil {
				return nil, fmt.Errorf("decode snapshot %d: %w", rec.Seq, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
