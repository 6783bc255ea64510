package config

import (
	"testing"

	yaml "github.com/jesseduffield/yaml"
)

func TestGetDefaultConfig_PassesValidation(t *testing.T) {
	conf := GetDefaultConfig()
	if err := conf.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %s", err)
	}
}

func TestUserConfig_YAMLRoundTrip(t *testing.T) {
	conf := GetDefaultConfig()
	conf.Server.URL = "http://localhost:9000"
	conf.Server.Generation = 3

	data, err := yaml.Marshal(conf)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	var got UserConfig
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if got.Server.URL != conf.Server.URL {
		t.Fatalf("expected %s, got %s", conf.Server.URL, got.Server.URL)
	}
	if got.Server.Generation != conf.Server.Generation {
		t.Fatalf("expected generation %d, got %d", conf.Server.Generation, got.Server.Generation)
	}
	if got.Worker.Count != conf.Worker.Count {
		t.Fatalf("expected worker count %d, got %d", conf.Worker.Count, got.Worker.Count)
	}
}

func TestUserConfig_YAMLMergeOverridesOnlySetFields(t *testing.T) {
	base := GetDefaultConfig()

	partial := []byte("server:\n  url: http://partial.example.com\n")
	if err := yaml.Unmarshal(partial, &base); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if base.Server.URL != "http://partial.example.com" {
		t.Fatalf("expected overridden URL, got %s", base.Server.URL)
	}
	if base.Worker.Count != 8 {
		t.Fatalf("expected untouched default worker count 8, got %d", base.Worker.Count)
	}
}

func TestValidate_RejectsZeroWorkerCount(t *testing.T) {
	conf := GetDefaultConfig()
	conf.Worker.Count = 0
	if err := conf.Validate(); err == nil {
		t.Fatal("expected error for zero worker count")
	}
}

func TestValidate_RejectsNegativeRetryBudget(t *testing.T) {
	conf := GetDefaultConfig()
	conf.Server.Retry.Budget = -1
	if err := conf.Validate(); err == nil {
		t.Fatal("expected error for negative retry budget")
	}
}
