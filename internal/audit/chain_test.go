package audit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func appendN(t *testing.T, store *sliceStore, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := store.AppendAudit(context.Background(), Record{
			ID:         fmt.Sprintf("rec-%d", i),
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			Action:     "UPDATE_VEHICLE",
			Snapshot: Snapshot{
				Method: "PATCH",
				Path:   "/api/v1/vehicles/1",
				Body:   map[string]any{"plate": "KA-01", "seats": float64(i), "password": Redacted},
				Query:  map[string][]string{"dry": {"0"}},
			},
			StatusCode: "200",
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
}

func TestSealIsDeterministic(t *testing.T) {
	rec := Record{
		ID:         "r1",
		Seq:        1,
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Snapshot:   Snapshot{Body: map[string]any{"b": 1.0, "a": []any{"x", true}}},
	}
	h1, err := Seal("", rec)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	rec.Snapshot.Body = map[string]any{"a": []any{"x", true}, "b": 1.0}
	h2, err := Seal("", rec)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("expected stable 32-byte hash, got %s vs %s", h1, h2)
	}
	h3, err := Seal(h1, rec)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("previous hash must influence the seal")
	}
	if _, err := Seal("zz", rec); err == nil {
		t.Fatalf("expected error for malformed previous hash")
	}
}

func TestVerifyChain(t *testing.T) {
	store := &sliceStore{}
	appendN(t, store, 7)

	res, err := VerifyChain(context.Background(), store, 3)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid || res.Checked != 7 || res.HeadHash != store.records[6].Hash {
		t.Fatalf("unexpected result: %+v", res)
	}

	empty, err := VerifyChain(context.Background(), &sliceStore{}, 0)
	if err != nil || !empty.Valid || empty.Checked != 0 {
		t.Fatalf("empty chain: %+v %v", empty, err)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	store := &sliceStore{}
	appendN(t, store, 5)
	store.records[2].Snapshot.Body = map[string]any{"plate": "FORGED"}

	res, err := VerifyChain(context.Background(), store, 2)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Valid || res.BrokenSeq != 3 || res.Checked != 2 {
		t.Fatalf("expected break at seq 3, got %+v", res)
	}
}

func TestVerifyChainDetectsRemoval(t *testing.T) {
	store := &sliceStore{}
	appendN(t, store, 4)
	store.records = append(store.records[:1], store.records[2:]...)

	res, err := VerifyChain(context.Background(), store, 10)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Valid || res.BrokenSeq != 3 {
		t.Fatalf("expected break at seq 3, got %+v", res)
	}
}
