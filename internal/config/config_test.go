package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "psyche.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `
data_dir = "./testdata"

[llm.default]
provider = "ollama"
base_url = "http://localhost:11434"
model = "llama3"

[wit.summarize]
input = "sensation/chat"
output = "instant"
prompt = "These things happened: {{current}}"
beat_mod = 1
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM["default"].MaxConcurrent != 1 {
		t.Errorf("expected default max_concurrent 1, got %d", cfg.LLM["default"].MaxConcurrent)
	}
	if cfg.Wit["summarize"].Output != "instant" {
		t.Errorf("expected wit output instant, got %q", cfg.Wit["summarize"].Output)
	}
}

func TestValidateRejectsOutputCollision(t *testing.T) {
	path := writeConfig(t, `
[wit.a]
input = "sensation/chat"
output = "instant"
prompt = "x"

[wit.b]
input = "sensation/vision"
output = "instant"
prompt = "y"
`)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected output-kind collision to be rejected")
	}
}

func TestValidateRejectsUnknownLLMProfile(t *testing.T) {
	path := writeConfig(t, `
[wit.a]
input = "sensation/chat"
output = "instant"
prompt = "x"
llm = "missing"
`)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected unknown llm profile to be rejected")
	}
}

func TestValidateRejectsUnknownFeedbackTarget(t *testing.T) {
	path := writeConfig(t, `
[wit.a]
input = "sensation/chat"
output = "instant"
prompt = "x"
feedback = "nope"
`)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected unknown feedback target to be rejected")
	}
}

func TestFindConfigExplicit(t *testing.T) {
	path := writeConfig(t, `data_dir = "./x"`)
	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/psyche.toml"); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}

func TestFindConfigSearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "psyche.toml")}
	}
	defer func() { searchPathsFunc = orig }()

	if _, err := FindConfig(""); err == nil {
		t.Fatal("expected error when nothing is found on the search path")
	}
}

func TestRecallPolicySection(t *testing.T) {
	path := writeConfig(t, `
[policy.recall]
kinds = ["instant"]
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Policy.Recall.Kinds) != 1 || cfg.Policy.Recall.Kinds[0] != "instant" {
		t.Errorf("unexpected recall kinds: %v", cfg.Policy.Recall.Kinds)
	}
}
