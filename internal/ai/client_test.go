package ai

import (
	"context"
	"strings"
	"testing"
)

func TestNewClientDispatch(t *testing.T) {
	ctx := context.Background()

	if _, err := NewClient(ctx, nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewClient(ctx, &ClientConfig{Provider: "mystery"}); err == nil {
		t.Error("unknown provider accepted")
	}

	c, err := NewClient(ctx, &ClientConfig{Provider: ProviderStub, Dim: 8})
	if err != nil {
		t.Fatalf("NewClient(stub) = %v", err)
	}
	if c.Dim() != 8 {
		t.Errorf("Dim() = %d, want 8", c.Dim())
	}

	o, err := NewClient(ctx, &ClientConfig{Provider: ProviderOllama, BaseURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewClient(ollama) = %v", err)
	}
	if _, ok := o.(*OllamaClient); !ok {
		t.Errorf("client type = %T", o)
	}
}

func TestStubEmbedIsDeterministic(t *testing.T) {
	s := NewStubClient(16)

	a, err := s.Embed(context.Background(), "same input")
	if err != nil {
		t.Fatalf("Embed() = %v", err)
	}
	b, _ := s.Embed(context.Background(), "same input")
	c, _ := s.Embed(context.Background(), "different input")

	if len(a) != 16 {
		t.Fatalf("len(vec) = %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same input produced different vectors")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different inputs produced identical vectors")
	}
}

func TestStubStream(t *testing.T) {
	s := NewStubClient(4)
	var got strings.Builder
	for frag, err := range s.CompleteStream(context.Background(), "p") {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got.WriteString(frag)
	}
	if got.String() != "stub answer" {
		t.Errorf("streamed = %q", got.String())
	}
}
