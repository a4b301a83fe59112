package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestDeriveNamespace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Acme_Corp", "acme-corp"},
		{"team two", "team-two"},
		{"already-lower", "already-lower"},
		{"Mixed_Case Name", "mixed-case-name"},
	}
	for _, tt := range tests {
		if got := DeriveNamespace(tt.in); got != tt.want {
			t.Errorf("DeriveNamespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Status(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestJobShortID(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	j := Job{JobID: id}
	if got, want := j.ShortID(), "550e8400"; got != want {
		t.Errorf("ShortID() = %q, want %q", got, want)
	}
}

func TestRawResultFilesNil(t *testing.T) {
	j := Job{}
	raw, err := j.RawResultFiles()
	if err != nil {
		t.Fatalf("RawResultFiles() error = %v", err)
	}
	if raw != nil {
		t.Errorf("RawResultFiles() = %v, want nil", raw)
	}
}

func TestRawResultFilesSet(t *testing.T) {
	j := Job{ResultFiles: &ResultFiles{StorageType: "s3", Uploaded: true, Prefix: "sumo-results"}}
	raw, err := j.RawResultFiles()
	if err != nil {
		t.Fatalf("RawResultFiles() error = %v", err)
	}
	if len(raw) == 0 {
		t.Error("RawResultFiles() should not be empty when ResultFiles is set")
	}
}

func TestStorageLocationIsObjectStore(t *testing.T) {
	tests := []struct {
		backend string
		want    bool
	}{
		{"volume", false},
		{"", false},
		{"s3", true},
		{"gcs", true},
		{"azure", true},
	}
	for _, tt := range tests {
		loc := StorageLocation{Backend: tt.backend}
		if got := loc.IsObjectStore(); got != tt.want {
			t.Errorf("StorageLocation{Backend:%q}.IsObjectStore() = %v, want %v", tt.backend, got, tt.want)
		}
	}
}
