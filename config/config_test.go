package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LLM_MODEL":      "gpt-4o",
		"LLM_API_KEY":    " sk-test ",
		"IMAGE_API_KEY":  "img-key",
		"SEARCH_ENABLED": "false",
		"TITLE_COUNT":    "6",
		"SERVER_ADDR":    "9090",
		"CATEGORY":       "food",
		"XHS_COOKIE":     "a=b",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.BaseURL != "https://api.deepseek.com" {
		t.Errorf("unset env should keep default, got %q", cfg.LLM.BaseURL)
	}
	if cfg.Search.Enabled || cfg.TitleCount != 6 || cfg.ServerAddr != ":9090" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.ImageEnabled() || cfg.Credential != "a=b" || cfg.Category != "food" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for _, env := range []map[string]string{
		{"SEARCH_ENABLED": "maybe"},
		{"TITLE_COUNT": "ten"},
		{"SERVER_ADDR": "local host"},
	} {
		cfg := Default()
		if err := cfg.ApplyEnv(envMap(env)); err == nil {
			t.Errorf("ApplyEnv(%v) should fail", env)
		}
	}
}

func TestLoadFileJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(jsonPath, []byte(`{"llm":{"model":"qwen-max"},"title_count":4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	yamlPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("image:\n  size: 768x1024\ncategory: travel\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if found, err := cfg.LoadFile(jsonPath); err != nil || !found {
		t.Fatalf("LoadFile json: %v %v", found, err)
	}
	if found, err := cfg.LoadFile(yamlPath); err != nil || !found {
		t.Fatalf("LoadFile yaml: %v %v", found, err)
	}
	if cfg.LLM.Model != "qwen-max" || cfg.LLM.BaseURL != "https://api.deepseek.com" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.TitleCount != 4 || cfg.Image.Size != "768x1024" || cfg.Category != "travel" {
		t.Errorf("cfg = %+v", cfg)
	}

	found, err := cfg.LoadFile(filepath.Join(dir, "missing.json"))
	if err != nil || found {
		t.Errorf("missing file: %v %v", found, err)
	}
}

func TestLoadRequiredMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json"), true); err == nil {
		t.Fatal("expected error for required missing file")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json"), false); err != nil {
		t.Fatalf("optional missing file: %v", err)
	}
}

func TestSaveDropsSecrets(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Image.APIKey = "img-secret"
	cfg.Search.APIKey = "tvly-secret"
	cfg.Credential = "web_session=secret"

	for _, name := range []string{"config.json", "config.yaml"} {
		path := filepath.Join(t.TempDir(), "data", name)
		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "secret") {
			t.Errorf("%s leaks secrets:\n%s", name, data)
		}
		loaded := Default()
		loaded.LLM.Model = ""
		if _, err := loaded.LoadFile(path); err != nil {
			t.Fatal(err)
		}
		if loaded.LLM.Model != "deepseek-chat" || loaded.TitleCount != 10 {
			t.Errorf("%s round trip = %+v", name, loaded)
		}
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Error("Save must not modify the receiver")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.Category = "cars"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown category accepted")
	}

	cfg = Default()
	err := cfg.ValidateBackends()
	if err == nil || !strings.Contains(err.Error(), "LLM_API_KEY") {
		t.Errorf("ValidateBackends = %v", err)
	}
	cfg.LLM.APIKey = "k"
	cfg.Image.APIKey = "k"
	cfg.Image.Model = ""
	if err := cfg.ValidateBackends(); err == nil || !strings.Contains(err.Error(), "IMAGE_MODEL") {
		t.Errorf("ValidateBackends = %v", err)
	}
}

func TestHelpListsVariables(t *testing.T) {
	help := Help()
	for _, key := range []string{"LLM_API_KEY", "IMAGE_BASE_URL", "XHS_COOKIE", "CATEGORY", "deepseek-chat", "secondhand"} {
		if !strings.Contains(help, key) {
			t.Errorf("help missing %s", key)
		}
	}
}
