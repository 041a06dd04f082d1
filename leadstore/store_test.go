package leadstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"basecamp/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storedLead(id string, receivedAt time.Time) *types.Lead {
	return &types.Lead{
		ID:         id,
		Message:    "need an oil change",
		Contact:    types.ContactInfo{Email: id + "@x.com"},
		ReceivedAt: receivedAt,
		Status:     types.StatusPending,
	}
}

func TestSaveRejectsExistingID(t *testing.T) {
	store := newTestStore(t)
	lead := storedLead("lead-1", time.Now().UTC())

	if err := store.Save(lead); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(lead); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists on second save, got %v", err)
	}
}

func TestGetAndUpdate(t *testing.T) {
	store := newTestStore(t)
	lead := storedLead("lead-1", time.Now().UTC())
	if err := store.Save(lead); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get("lead-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Message != lead.Message || got.Contact.Email != lead.Contact.Email {
		t.Fatalf("lead did not round-trip: %+v", got)
	}

	got.Status = types.StatusEnriched
	got.Classification = "novel"
	if err := store.Update(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := store.Get("lead-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if updated.Status != types.StatusEnriched || updated.Classification != "novel" {
		t.Fatalf("update not persisted: %+v", updated)
	}

	if err := store.Update(storedLead("absent", time.Now().UTC())); !errors.Is(err, ErrNotFound) {
		t.Fatalf("updating an absent lead: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get("absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("getting an absent lead: expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirstWithPaging(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		lead := storedLead(fmt.Sprintf("lead-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.Save(lead); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	leads, err := store.List(ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 2 || leads[0].ID != "lead-4" || leads[1].ID != "lead-3" {
		t.Fatalf("expected newest first [lead-4 lead-3], got %+v", leads)
	}

	page2, err := store.List(ListFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "lead-2" || page2[1].ID != "lead-1" {
		t.Fatalf("expected [lead-2 lead-1], got %+v", page2)
	}
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	enriched := storedLead("enriched", now)
	enriched.Status = types.StatusEnriched
	enriched.Classification = "novel"
	duplicate := storedLead("dup", now.Add(time.Second))
	duplicate.Classification = "duplicate"
	for _, lead := range []*types.Lead{enriched, duplicate} {
		if err := store.Save(lead); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	byStatus, err := store.List(ListFilter{Status: types.StatusEnriched})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "enriched" {
		t.Fatalf("status filter: got %+v", byStatus)
	}

	byClass, err := store.List(ListFilter{Classification: "duplicate"})
	if err != nil {
		t.Fatalf("list by classification: %v", err)
	}
	if len(byClass) != 1 || byClass[0].ID != "dup" {
		t.Fatalf("classification filter: got %+v", byClass)
	}
}

func TestDeleteRemovesTimeIndex(t *testing.T) {
	store := newTestStore(t)
	lead := storedLead("lead-1", time.Now().UTC())
	if err := store.Save(lead); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete("lead-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	leads, err := store.List(ListFilter{})
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(leads) != 0 {
		t.Fatalf("expected empty list after delete, got %+v", leads)
	}

	// Deleting twice is fine.
	if err := store.Delete("lead-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	a := storedLead("a", now)
	a.Status = types.StatusEnriched
	a.Classification = "novel"
	a.Analysis = &types.AIAnalysis{Intent: "quote_request"}
	b := storedLead("b", now.Add(time.Second))
	b.Classification = "duplicate"
	for _, lead := range []*types.Lead{a, b} {
		if err := store.Save(lead); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("total: %d", stats.Total)
	}
	if stats.ByStatus["enriched"] != 1 || stats.ByStatus["pending"] != 1 {
		t.Fatalf("by status: %+v", stats.ByStatus)
	}
	if stats.ByClassification["novel"] != 1 || stats.ByClassification["duplicate"] != 1 {
		t.Fatalf("by classification: %+v", stats.ByClassification)
	}
	if stats.ByIntent["quote_request"] != 1 {
		t.Fatalf("by intent: %+v", stats.ByIntent)
	}
}
