// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"testing"
	"time"

	"shipway/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStoreFromDSN("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHostRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := model.HostRecord{
		Hostname:    "app.example.com",
		PublicKey:   "ssh-ed25519 AAAAC3Nza",
		Fingerprint: "SHA256:abc",
		Source:      model.SourceDiscovered,
		AddedAt:     time.Now(),
	}
	if err := s.AddHostRecord(rec); err != nil {
		t.Fatalf("AddHostRecord failed: %v", err)
	}

	got, err := s.GetHostRecords("app.example.com")
	if err != nil {
		t.Fatalf("GetHostRecords failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Fingerprint != "SHA256:abc" || got[0].Source != model.SourceDiscovered {
		t.Errorf("unexpected record: %+v", got[0])
	}

	other, err := s.GetHostRecords("other.example.com")
	if err != nil {
		t.Fatalf("GetHostRecords for absent host failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no records for other host, got %d", len(other))
	}
}

func TestAddHostRecordDuplicate(t *testing.T) {
	s := newTestStore(t)

	rec := model.HostRecord{
		Hostname:    "app.example.com",
		PublicKey:   "ssh-ed25519 AAAAC3Nza",
		Fingerprint: "SHA256:abc",
		Source:      model.SourceWellKnown,
	}
	if err := s.AddHostRecord(rec); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := s.AddHostRecord(rec)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for repeated fingerprint, got %v", err)
	}

	// The same fingerprint under a different hostname is a distinct record.
	rec.Hostname = "db.example.com"
	if err := s.AddHostRecord(rec); err != nil {
		t.Errorf("insert under different hostname failed: %v", err)
	}
}

func TestDeleteHostRecords(t *testing.T) {
	s := newTestStore(t)

	for _, fp := range []string{"SHA256:one", "SHA256:two"} {
		err := s.AddHostRecord(model.HostRecord{
			Hostname:    "app.example.com",
			PublicKey:   "ssh-ed25519 " + fp,
			Fingerprint: fp,
			Source:      model.SourceDiscovered,
		})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	n, err := s.DeleteHostRecords("app.example.com")
	if err != nil {
		t.Fatalf("DeleteHostRecords failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}

	// Deleting an absent host is not an error.
	if _, err := s.DeleteHostRecords("app.example.com"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}

	got, err := s.GetHostRecords("app.example.com")
	if err != nil {
		t.Fatalf("GetHostRecords failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records after delete, got %d", len(got))
	}
}

func TestRunHistory(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		err := s.SaveRunRecord(model.RunRecord{
			ID:         id,
			Target:     "deploy@app.example.com",
			FinalStage: "Deployed",
			Duration:   3 * time.Second,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Succeeded:  true,
		})
		if err != nil {
			t.Fatalf("SaveRunRecord failed: %v", err)
		}
	}

	got, err := s.GetRunHistory(2)
	if err != nil {
		t.Fatalf("GetRunHistory failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	// Newest first.
	if got[0].ID != "run-c" || got[1].ID != "run-b" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Duration != 3*time.Second {
		t.Errorf("duration not preserved: %v", got[0].Duration)
	}
}

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed"), ErrDuplicate},
		{"postgres code", errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"), ErrDuplicate},
		{"unrelated", errors.New("disk I/O error"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapDBError(tt.err)
			if tt.want == nil {
				if !errors.Is(got, tt.err) && got != nil && tt.err != nil {
					t.Errorf("expected passthrough, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("MapDBError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUnknownDBType(t *testing.T) {
	if _, err := NewStoreFromDSN("oracle", "dsn"); err == nil {
		t.Error("expected error for unsupported db type")
	}
}
