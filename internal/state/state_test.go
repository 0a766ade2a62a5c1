package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMarkProcessedDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fresh, err := s.MarkProcessed("trade-1")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !fresh {
		t.Fatalf("first mark should be fresh")
	}

	fresh, err = s.MarkProcessed("trade-1")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if fresh {
		t.Fatalf("second mark should be a duplicate")
	}

	if !s.Processed("trade-1") {
		t.Fatalf("Processed should report trade-1")
	}
	if s.Processed("trade-2") {
		t.Fatalf("Processed should not report trade-2")
	}
}

func TestStoreSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.MarkProcessed("trade-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	type stats struct {
		PnL int64 `json:"pnl"`
	}
	if err := s.SaveSimStats(stats{PnL: 1_500_000}); err != nil {
		t.Fatalf("SaveSimStats: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Processed("trade-1") {
		t.Fatalf("processed set lost on reload")
	}
	var got stats
	ok, err := reloaded.LoadSimStats(&got)
	if err != nil {
		t.Fatalf("LoadSimStats: %v", err)
	}
	if !ok || got.PnL != 1_500_000 {
		t.Fatalf("sim stats lost on reload: ok=%v got=%+v", ok, got)
	}

	// Writes go through temp+rename; no .tmp residue remains.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestEmptyPathNeverPersists(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.MarkProcessed("trade-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse state") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
