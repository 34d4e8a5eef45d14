package state

import (
	"path/filepath"
	"testing"
)

func testStoreBasics(t *testing.T, store Store) {
	t.Helper()

	if _, err := store.GetBlob("ns", "missing"); err == nil {
		t.Fatalf("expected GetBlob to fail for a key that was never set")
	}

	if err := store.SetBlob("ns", "a", []byte("hello")); err != nil {
		t.Fatalf("SetBlob returned error: %v", err)
	}
	got, err := store.GetBlob("ns", "a")
	if err != nil {
		t.Fatalf("GetBlob returned error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}

	if err := store.SetBlob("ns", "a", []byte("updated")); err != nil {
		t.Fatalf("overwriting SetBlob returned error: %v", err)
	}
	got, err = store.GetBlob("ns", "a")
	if err != nil {
		t.Fatalf("GetBlob after overwrite returned error: %v", err)
	}
	if string(got) != "updated" {
		t.Fatalf("got %q, want updated", got)
	}

	if err := store.SetBlob("", "a", []byte("x")); err == nil {
		t.Fatalf("expected SetBlob to reject an empty namespace")
	}

	if err := store.Erase("ns", "a"); err != nil {
		t.Fatalf("Erase returned error: %v", err)
	}
	if _, err := store.GetBlob("ns", "a"); err == nil {
		t.Fatalf("expected GetBlob to fail after Erase")
	}
	if err := store.Erase("ns", "a"); err == nil {
		t.Fatalf("expected a second Erase to fail on an already-erased key")
	}

	if err := store.SetBlob("ns", "b", []byte("1")); err != nil {
		t.Fatalf("SetBlob returned error: %v", err)
	}
	if err := store.Clear("ns"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if _, err := store.GetBlob("ns", "b"); err == nil {
		t.Fatalf("expected GetBlob to fail for a key in a cleared namespace")
	}

	if err := store.Commit(); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
}

func TestMemStoreBasics(t *testing.T) {
	testStoreBasics(t, NewMemStore())
}

func TestFileStoreBasics(t *testing.T) {
	testStoreBasics(t, NewFileStore(t.TempDir()))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first := NewFileStore(dir)
	if err := first.SetBlob("gate", "registration", []byte("blob")); err != nil {
		t.Fatalf("SetBlob returned error: %v", err)
	}

	second := NewFileStore(dir)
	got, err := second.GetBlob("gate", "registration")
	if err != nil {
		t.Fatalf("GetBlob from a fresh FileStore instance returned error: %v", err)
	}
	if string(got) != "blob" {
		t.Fatalf("got %q, want blob", got)
	}
}

func TestFileStoreSetBlobLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if err := store.SetBlob("gate", "registration", []byte("blob")); err != nil {
		t.Fatalf("SetBlob returned error: %v", err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, "gate", "registration.tmp-*"))
	if err != nil {
		t.Fatalf("glob returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", entries)
	}
}

func TestSaveLoadDeleteGateRecord(t *testing.T) {
	store := NewMemStore()
	r := GateRecord{ID: 9, Status: StatusInitialized, Notes: "front door"}
	if err := SaveGateRecord(store, r); err != nil {
		t.Fatalf("SaveGateRecord returned error: %v", err)
	}

	got, err := LoadGateRecord(store, 9)
	if err != nil {
		t.Fatalf("LoadGateRecord returned error: %v", err)
	}
	if got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}

	if err := DeleteGateRecord(store, 9); err != nil {
		t.Fatalf("DeleteGateRecord returned error: %v", err)
	}
	got, err = LoadGateRecord(store, 9)
	if err != nil {
		t.Fatalf("LoadGateRecord after delete returned error: %v", err)
	}
	if got.Status != StatusDeleted {
		t.Fatalf("expected status %v after delete, got %v", StatusDeleted, got.Status)
	}
	// DeleteGateRecord marks the record deleted rather than erasing it;
	// the blob itself is still present under its original key.
	if _, err := store.GetBlob(GateRecordsNamespace, GateRecordKey(9)); err != nil {
		t.Fatalf("expected the blob to remain after a soft delete: %v", err)
	}
}

func TestLoadGateRecordSurfacesDecodeErrorsAsParsing(t *testing.T) {
	store := NewMemStore()
	if err := store.SetBlob(GateRecordsNamespace, GateRecordKey(1), []byte("short")); err != nil {
		t.Fatalf("SetBlob returned error: %v", err)
	}
	_, err := LoadGateRecord(store, 1)
	if err == nil {
		t.Fatalf("expected LoadGateRecord to fail on a malformed blob")
	}
	se, ok := err.(*StoreError)
	if !ok || se.Kind != StoreParsing {
		t.Fatalf("expected a StoreParsing error, got %#v", err)
	}
}
