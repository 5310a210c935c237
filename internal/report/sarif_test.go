package report

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteSARIF_ValidStructure(t *testing.T) {
	rep := New("audit", "1.2.3", testResult())
	var buf bytes.Buffer
	if err := Write(&buf, &rep, FormatSARIF); err != nil {
		t.Fatal(err)
	}

	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if log.Version != "2.1.0" {
		t.Errorf("version = %s", log.Version)
	}
	if len(log.Runs) != 1 {
		t.Fatalf("runs = %d", len(log.Runs))
	}

	driver := log.Runs[0].Tool.Driver
	if driver.Name != "pgwarden" || driver.Version != "1.2.3" {
		t.Errorf("driver = %+v", driver)
	}

	seen := make(map[string]bool)
	for _, r := range driver.Rules {
		if seen[r.ID] {
			t.Errorf("duplicate rule %s", r.ID)
		}
		seen[r.ID] = true
	}

	// One result per recommendation: 3 findings, 3 recommendations total.
	if len(log.Runs[0].Results) != 3 {
		t.Errorf("results = %d, want 3", len(log.Runs[0].Results))
	}

	for _, r := range log.Runs[0].Results {
		if !seen[r.RuleID] {
			t.Errorf("result references unknown rule %s", r.RuleID)
		}
		if len(r.Locations) != 1 || len(r.Locations[0].LogicalLocations) != 1 {
			t.Errorf("missing logical location on %s", r.RuleID)
		}
		if kind := r.Locations[0].LogicalLocations[0].Kind; kind != "database/table" {
			t.Errorf("kind = %s", kind)
		}
	}
}

func TestWriteSARIF_SeverityLevels(t *testing.T) {
	rep := New("audit", "test", testResult())
	var buf bytes.Buffer
	if err := Write(&buf, &rep, FormatSARIF); err != nil {
		t.Fatal(err)
	}

	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatal(err)
	}

	levels := make(map[string]string)
	for _, r := range log.Runs[0].Results {
		levels[r.RuleID] = r.Level
	}
	if levels["pgwarden/RLS_DISABLED"] != "error" {
		t.Errorf("critical should map to error, got %s", levels["pgwarden/RLS_DISABLED"])
	}
	if levels["pgwarden/INSECURE_POLICY"] != "error" {
		t.Errorf("high should map to error, got %s", levels["pgwarden/INSECURE_POLICY"])
	}
}

func TestWriteSARIF_NoFindings(t *testing.T) {
	rep := Report{Metadata: Metadata{Version: "test"}}
	var buf bytes.Buffer
	if err := Write(&buf, &rep, FormatSARIF); err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	runs := raw["runs"].([]any)
	results := runs[0].(map[string]any)["results"]
	if results == nil {
		t.Error("results must be an empty array, not null")
	}
}
