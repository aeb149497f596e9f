package audit

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// chainDomainKey separates audit chain hashes from any other BLAKE3 keyed
// hash. Changing it invalidates every stored chain.
var chainDomainKey = [32]byte{
	'f', 'l', 'e', 'e', 't', 'd', 'e', 's', 'k', '.', 'a', 'u', 'd', 'i', 't', '.',
	'c', 'h', 'a', 'i', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}
}

// sealed is the hashed projection of a Record. Times are microseconds so a
// round trip through Postgres reproduces the same bytes.
type sealed struct {
	ID           string              `cbor:"1,keyasint"`
	Seq          int64               `cbor:"2,keyasint"`
	OccurredAt   int64               `cbor:"3,keyasint"`
	ActorUserID  string              `cbor:"4,keyasint"`
	ActorName    string              `cbor:"5,keyasint"`
	ActorEmail   string              `cbor:"6,keyasint"`
	Action       string              `cbor:"7,keyasint"`
	Module       string              `cbor:"8,keyasint"`
	ResourceType string              `cbor:"9,keyasint"`
	ResourceID   string              `cbor:"10,keyasint"`
	Method       string              `cbor:"11,keyasint"`
	Path         string              `cbor:"12,keyasint"`
	Body         any                 `cbor:"13,keyasint"`
	Query        map[string][]string `cbor:"14,keyasint"`
	ClientIP     string              `cbor:"15,keyasint"`
	UserAgent    string              `cbor:"16,keyasint"`
	URL          string              `cbor:"17,keyasint"`
	StatusCode   string              `cbor:"18,keyasint"`
	RequestID    string              `cbor:"19,keyasint"`
}

// Seal computes the chain hash of rec linked to prevHash (hex, empty for the
// first record).
func Seal(prevHash string, rec Record) (string, error) {
	prev, err := hex.DecodeString(prevHash)
	if err != nil {
		return "", fmt.Errorf("audit: decode previous hash: %w", err)
	}
	payload, err := encMode.Marshal(sealed{
		ID:           rec.ID,
		Seq:          rec.Seq,
		OccurredAt:   rec.OccurredAt.UnixMicro(),
		ActorUserID:  rec.ActorUserID,
		ActorName:    rec.ActorName,
		ActorEmail:   rec.ActorEmail,
		Action:       rec.Action,
		Module:       rec.Module,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Method:       rec.Snapshot.Method,
		Path:         rec.Snapshot.Path,
		Body:         rec.Snapshot.Body,
		Query:        rec.Snapshot.Query,
		ClientIP:     rec.ClientIP,
		UserAgent:    rec.UserAgent,
		URL:          rec.URL,
		StatusCode:   rec.StatusCode,
		RequestID:    rec.RequestID,
	})
	if err != nil {
		return "", fmt.Errorf("audit: encode record: %w", err)
	}
	hasher, err := blake3.NewKeyed(chainDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("audit: init hasher: %w", err)
	}
	_, _ = hasher.Write(prev)
	_, _ = hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verification is the outcome of a chain walk.
type Verification struct {
	Valid     bool   `json:"valid"`
	Checked   int64  `json:"checked"`
	BrokenSeq int64  `json:"brokenSeq,omitempty"`
	Reason    string `json:"reason,omitempty"`
	HeadHash  string `json:"headHash,omitempty"`
}

// Chain tracks the state of an incremental verification.
type Chain struct {
	result  Verification
	lastSeq int64
}

// NewChain starts a verification from the genesis record.
func NewChain() *Chain {
	return &Chain{result: Verification{Valid: true}}
}

// Next checks rec against the previous record. It returns false once a
// broken link has been found.
func (c *Chain) Next(rec Record) bool {
	if !c.result.Valid {
		return false
	}
	fail := func(reason string) bool {
		c.result.Valid = false
		c.result.BrokenSeq = rec.Seq
		c.result.Reason = reason
		return false
	}
	if rec.Seq <= c.lastSeq {
		return fail("sequence is not increasing")
	}
	if rec.PrevHash != c.result.HeadHash {
		return fail("previous hash does not match")
	}
	want, err := Seal(rec.PrevHash, rec)
	if err != nil {
		return fail(err.Error())
	}
	if want != rec.Hash {
		return fail("record hash does not match contents")
	}
	c.lastSeq = rec.Seq
	c.result.HeadHash = rec.Hash
	c.result.Checked++
	return true
}

// Result returns the verification outcome so far.
func (c *Chain) Result() Verification { return c.result }

// VerifyChain walks the whole stored chain in batches and reports the first
// broken link.
func VerifyChain(ctx context.Context, store Store, batch int) (Verification, error) {
	if batch <= 0 {
		batch = 500
	}
	chain := NewChain()
	var after int64
	for {
		recs, err := store.AuditChain(ctx, after, batch)
		if err != nil {
			return Verification{}, err
		}
		for _, rec := range recs {
			if !chain.Next(rec) {
				return chain.Result(), nil
			}
			after = rec.Seq
		}
		if len(recs) < batch {
			return chain.Result(), nil
		}
	}
}
