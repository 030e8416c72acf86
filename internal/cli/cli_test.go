package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chanwatch/internal/monitor"
)

const testConfig = `
telegram:
  token: "123:abc"
monitor:
  key_words: [golang, go-developer]
  unkey_words: [junior]
  chats: ["@jobs"]
  notify_chats: [1]
  notify_message: "{text}"
  cache_path: %s
`

func writeConfig(t *testing.T) (cfg, cache string) {
	t.Helper()
	dir := t.TempDir()
	cache = filepath.Join(dir, "cache.json")
	cfg = filepath.Join(dir, "config.yaml")
	body := strings.Replace(testConfig, "%s", cache, 1)
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfg, cache
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	cacheFile = ""
	err := RootCmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	cfg, _ := writeConfig(t)
	tests := []struct {
		text string
		want string
	}{
		{text: "Looking for a Golang engineer", want: "match"},
		{text: "golang position, junior level", want: "no match"},
		{text: "junior welcome, golang", want: "match"},
		{text: "python only", want: "no match"},
	}
	for _, tt := range tests {
		out, err := execute(t, "--config", cfg, "--format", "text", "check", tt.text)
		if err != nil {
			t.Fatalf("check %q: %v", tt.text, err)
		}
		if strings.TrimSpace(out) != tt.want {
			t.Fatalf("check %q = %q, want %q", tt.text, out, tt.want)
		}
	}
}

func TestCheckCommandJSON(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := execute(t, "--config", cfg, "--format", "json", "check", "go-developer", "wanted")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var got struct {
		Text  string `json:"text"`
		Match bool   `json:"match"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !got.Match || got.Text != "go-developer wanted" {
		t.Fatalf("result = %+v", got)
	}
}

func TestCacheCommand(t *testing.T) {
	cfg, cache := writeConfig(t)
	store := monitor.NewCacheStore(cache, time.Now)
	snap := monitor.NewSnapshot()
	snap.Cursors["jobs"] = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	snap.AddAuthor(42)
	snap.AddAuthor(43)
	if err := store.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := execute(t, "--config", cfg, "--format", "json", "cache")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	var view cacheView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if view.Authors != 2 || !view.Cursors["jobs"].Equal(snap.Cursors["jobs"]) {
		t.Fatalf("view = %+v", view)
	}

	out, err = execute(t, "--config", cfg, "--format", "text", "cache")
	if err != nil {
		t.Fatalf("cache text: %v", err)
	}
	if !strings.Contains(out, "authors seen: 2") || !strings.Contains(out, "jobs") {
		t.Fatalf("text output = %q", out)
	}
}

func TestCacheCommandLeavesMissingFileAlone(t *testing.T) {
	cfg, cache := writeConfig(t)
	out, err := execute(t, "--config", cfg, "--format", "json", "cache")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	var view cacheView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if view.Authors != 0 || len(view.Cursors) != 0 {
		t.Fatalf("view = %+v", view)
	}
	if _, err := os.Stat(cache); !os.IsNotExist(err) {
		t.Fatalf("cache file created by inspection: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "chanwatch "+Version) {
		t.Fatalf("version output = %q", out)
	}
}
