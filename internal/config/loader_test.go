package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/glyphoxa/internal/config"
)

func TestValidate_CascadedRequiresLLMAndTTS(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  wake_word: nyxie
  engine: cascaded
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for cascaded engine without LLM/TTS providers, got nil")
	}
	if !strings.Contains(err.Error(), "LLM provider") {
		t.Errorf("error should mention LLM provider, got: %v", err)
	}
	if !strings.Contains(err.Error(), "TTS provider") {
		t.Errorf("error should mention TTS provider, got: %v", err)
	}
}

func TestValidate_SentenceCascadeRequiresLLMAndTTS(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  wake_word: nyxie
  engine: sentence-cascade
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for sentence-cascade engine without LLM/TTS providers, got nil")
	}
	if !strings.Contains(err.Error(), "LLM provider") {
		t.Errorf("error should mention LLM provider, got: %v", err)
	}
}

func TestValidate_S2SRequiresS2SProvider(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  wake_word: nyxie
  engine: s2s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for s2s engine without S2S provider, got nil")
	}
	if !strings.Contains(err.Error(), "S2S provider") {
		t.Errorf("error should mention S2S provider, got: %v", err)
	}
}

func TestValidate_CascadedWithProvidersIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  wake_word: nyxie
  engine: cascaded
providers:
  llm:
    name: openai
  tts:
    name: httptts
memory:
  postgres_dsn: "postgres://localhost/test"
  embedding_dimensions: 1536
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_S2SWithProviderIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  wake_word: nyxie
  engine: s2s
providers:
  s2s:
    name: gemini
memory:
  postgres_dsn: "postgres://localhost/test"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  wake_word: nyxie
  engine: cascaded
  budget_tier: platinum
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "budget_tier") {
		t.Errorf("error should mention budget_tier, got: %v", err)
	}
	if !strings.Contains(errStr, "LLM provider") {
		t.Errorf("error should mention LLM provider, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
