package idhash

import "testing"

func TestComputeBatchID(t *testing.T) {
	tests := []struct {
		name        string
		runID       string
		fetchTimeMs int64
	}{
		{"uuid run", "6f1c2b5e-8a31-4d7e-9a0b-5b0c1d2e3f40", 1700000000000},
		{"empty run", "", 1700000000000},
		{"zero time", "run-1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBatchID(tt.runID, tt.fetchTimeMs)
			if len(got) != 64 {
				t.Errorf("expected 64 chars, got %d", len(got))
			}
			if again := ComputeBatchID(tt.runID, tt.fetchTimeMs); again != got {
				t.Errorf("not deterministic: %s != %s", got, again)
			}
		})
	}
}

func TestComputeBatchID_DistinctInputs(t *testing.T) {
	a := ComputeBatchID("run-1", 1000)
	b := ComputeBatchID("run-1", 1001)
	c := ComputeBatchID("run-2", 1000)

	if a == b || a == c || b == c {
		t.Errorf("expected distinct ids, got %s %s %s", a, b, c)
	}
}

func TestComputeRecordID(t *testing.T) {
	batch := ComputeBatchID("run-1", 1000)
	if ComputeRecordID(batch, 0) == ComputeRecordID(batch, 1) {
		t.Error("expected distinct record ids per sequence number")
	}
	if got := ComputeRecordID(batch, 3); len(got) != 64 {
		t.Errorf("expected 64 chars, got %d", len(got))
	}
}
