package extract_test

import (
	"strings"
	"testing"

	"mcp-chat-server/internal/domain/extract"
)

func TestExtract_ProtocolError(t *testing.T) {
	payload := map[string]any{
		"error": map[string]any{
			"code":    float64(-32602),
			"message": "Invalid params",
		},
	}

	got := extract.Extract(payload, "search")
	want := "Tool error (-32602): Invalid params"
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestExtract_UnwrapsNestedResult(t *testing.T) {
	payload := map[string]any{
		"result": map[string]any{
			"result": map[string]any{
				"error": map[string]any{"message": "boom"},
			},
		},
	}

	got := extract.Extract(payload, "search")
	if got != "Tool error: boom" {
		t.Errorf("Extract = %q, want the unwrapped error text", got)
	}
}

func TestExtract_ContentTextPassthrough(t *testing.T) {
	payload := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "plain answer"},
			map[string]any{"type": "image", "data": "ignored"},
		},
	}

	got := extract.Extract(payload, "whatever")
	if got != "plain answer" {
		t.Errorf("Extract = %q, want %q", got, "plain answer")
	}
}

func TestExtract_SearchHits(t *testing.T) {
	payload := map[string]any{
		"hits": map[string]any{
			"total": map[string]any{"value": float64(42)},
			"hits": []any{
				map[string]any{"_source": map[string]any{"title": "first"}},
				map[string]any{"_source": map[string]any{"title": "second"}},
			},
		},
	}

	got := extract.Extract(payload, "search")
	if !strings.HasPrefix(got, "Found 2 result(s) of 42 total") {
		t.Errorf("Extract = %q, want a hits summary header", got)
	}
	if !strings.Contains(got, "1. title=first") || !strings.Contains(got, "2. title=second") {
		t.Errorf("Extract = %q, want numbered hit lines", got)
	}
}

func TestExtract_SearchHitsEmbeddedInContentJSON(t *testing.T) {
	payload := map[string]any{
		"content": []any{
			map[string]any{
				"type": "text",
				"text": `{"hits":{"total":{"value":1},"hits":[{"_source":{"id":"a"}}]}}`,
			},
		},
	}

	got := extract.Extract(payload, "search")
	if !strings.HasPrefix(got, "Found 1 result(s) of 1 total") {
		t.Errorf("Extract = %q, want the parsed hits summary", got)
	}
}

func TestExtract_Listing(t *testing.T) {
	payload := []any{"logs-2024", "metrics-2024"}

	got := extract.Extract(payload, "list_indices")
	want := "- logs-2024\n- metrics-2024"
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestExtract_EmptyListing(t *testing.T) {
	got := extract.Extract([]any{}, "list_indices")
	if got != "No entries found." {
		t.Errorf("Extract = %q, want the empty-listing note", got)
	}
}

func TestExtract_Mappings(t *testing.T) {
	payload := map[string]any{
		"logs": map[string]any{
			"mappings": map[string]any{
				"properties": map[string]any{
					"timestamp": map[string]any{"type": "date"},
					"message":   map[string]any{"type": "text"},
				},
			},
		},
	}

	got := extract.Extract(payload, "get_mappings")
	if !strings.Contains(got, "logs:") {
		t.Errorf("Extract = %q, want the index header", got)
	}
	if !strings.Contains(got, "timestamp: date") || !strings.Contains(got, "message: text") {
		t.Errorf("Extract = %q, want field: type lines", got)
	}
}

func TestExtract_GenericFallbacks(t *testing.T) {
	if got := extract.Extract("already text", "unknown_tool"); got != "already text" {
		t.Errorf("string passthrough = %q", got)
	}
	if got := extract.Extract(nil, "unknown_tool"); got != "[no result]" {
		t.Errorf("nil result = %q, want [no result]", got)
	}
	got := extract.Extract(map[string]any{"a": float64(1)}, "unknown_tool")
	if !strings.Contains(got, `"a": 1`) {
		t.Errorf("object fallback = %q, want pretty-printed JSON", got)
	}
}
