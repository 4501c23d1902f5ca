package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadState_MissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	state, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}
	if !state.LastCheckedAt.IsZero() {
		t.Error("expected zero-value state for missing file")
	}
}

func TestSaveAndLoadState(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	saved := &State{
		LastCheckedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		LatestVersion:  "2.0.0",
		CurrentVersion: "1.0.0",
		ReleaseURL:     "https://example.com/release",
	}
	if err := SaveState(saved); err != nil {
		t.Fatalf("SaveState returned error: %v", err)
	}

	loaded, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}

	if !loaded.LastCheckedAt.Equal(saved.LastCheckedAt) {
		t.Errorf("LastCheckedAt: got %v, want %v", loaded.LastCheckedAt, saved.LastCheckedAt)
	}
	if loaded.LatestVersion != saved.LatestVersion {
		t.Errorf("LatestVersion: got %q, want %q", loaded.LatestVersion, saved.LatestVersion)
	}
	if loaded.ReleaseURL != saved.ReleaseURL {
		t.Errorf("ReleaseURL: got %q, want %q", loaded.ReleaseURL, saved.ReleaseURL)
	}
}

func TestLoadState_CorruptedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "panel")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	state, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}
	if !state.LastCheckedAt.IsZero() {
		t.Error("expected corrupted file to be treated as empty state")
	}
}

func TestShouldCheck(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"never checked", State{}, true},
		{"checked just now", State{LastCheckedAt: time.Now()}, false},
		{"checked two days ago", State{LastCheckedAt: time.Now().Add(-48 * time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.ShouldCheck(); got != tt.want {
				t.Errorf("ShouldCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasUpdate(t *testing.T) {
	tests := []struct {
		name    string
		latest  string
		current string
		want    bool
	}{
		{"newer available", "2.0.0", "1.0.0", true},
		{"up to date", "1.0.0", "1.0.0", false},
		{"older cached", "1.0.0", "2.0.0", false},
		{"empty latest", "", "1.0.0", false},
		{"unparseable current", "2.0.0", "dev", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{LatestVersion: tt.latest}
			if got := s.HasUpdate(tt.current); got != tt.want {
				t.Errorf("HasUpdate(%q) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}
