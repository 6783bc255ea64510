package config

import (
	"os"
	"testing"

	"github.com/jesseduffield/yaml"
)

func TestNewAppConfig_AppliesDefaults(t *testing.T) {
	t.Setenv("UNITCACHE_DIR", t.TempDir())

	conf, err := NewAppConfig("unitcache", "version", "commit", "date", "buildSource", false)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.Worker.Count != 8 {
		t.Fatalf("expected default worker count 8, got %d", conf.UserConfig.Worker.Count)
	}
	if conf.UserConfig.Server.Generation != 1 {
		t.Fatalf("expected default generation 1, got %d", conf.UserConfig.Server.Generation)
	}
}

func TestLoadUserConfig_MergesFileOverDefaultsOnlyForSetFields(t *testing.T) {
	dir := t.TempDir()
	fileName := dir + "/config.yml"
	if err := os.WriteFile(fileName, []byte("server:\n  url: http://partial.example.com\n"), 0o644); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	base := GetDefaultConfig()
	merged, err := loadUserConfig(dir, &base)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if merged.Server.URL != "http://partial.example.com" {
		t.Fatalf("expected overridden URL, got %s", merged.Server.URL)
	}
	if merged.Worker.Count != 8 {
		t.Fatalf("expected untouched default worker count 8, got %d", merged.Worker.Count)
	}
}

func TestWritingToConfigFile(t *testing.T) {
	t.Setenv("UNITCACHE_DIR", t.TempDir())

	conf, err := NewAppConfig("unitcache", "version", "commit", "date", "buildSource", false)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	testFn := func(t *testing.T, ac *AppConfig, newURL string) {
		t.Helper()
		updateFn := func(uc *UserConfig) error {
			uc.Server.URL = newURL
			return nil
		}

		if err := ac.WriteToUserConfig(updateFn); err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}

		file, err := os.OpenFile(ac.ConfigFilename(), os.O_RDONLY, 0o660)
		if err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
		defer file.Close()

		sampleUC := UserConfig{}
		if err := yaml.NewDecoder(file).Decode(&sampleUC); err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}

		if sampleUC.Server.URL != newURL {
			t.Fatalf("Got %v, Expected %v\n", sampleUC.Server.URL, newURL)
		}
	}

	// insert value into an empty file
	testFn(t, conf, "http://cache.example.com")

	// modifying an existing file that already has a server URL
	testFn(t, conf, "http://other-cache.example.com")
}
