package sysinfo

import (
	"encoding/json"
	"runtime"
	"testing"
)

func TestCollectPopulatesPlatformFields(t *testing.T) {
	rec := Collect()
	if rec.OSName != runtime.GOOS {
		t.Fatalf("os-name: got %q want %q", rec.OSName, runtime.GOOS)
	}
	if rec.Architecture != runtime.GOARCH {
		t.Fatalf("architecture: got %q want %q", rec.Architecture, runtime.GOARCH)
	}
	if rec.Runtime == "" {
		t.Fatalf("runtime-version empty")
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	in := Record{ComputerName: "peer-a", UserName: "dev", OSName: "linux"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", out, in)
	}
}
