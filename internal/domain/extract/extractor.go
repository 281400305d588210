// Package extract turns raw tool responses into plain text suitable for a
// conversation message. Extraction never fails: any internal problem
// degrades to a best-effort dump of the raw payload so the conversation is
// never left without a tool reply.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Extract renders a tool response as text. The payload may be the raw
// JSON-RPC envelope, its result member, or already-unwrapped content.
func Extract(result any, toolName string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fallbackDump(result, fmt.Sprintf("extraction failed: %v", r))
		}
	}()

	payload := unwrap(result)

	if errText, ok := protocolError(payload); ok {
		return errText
	}

	if m, ok := payload.(map[string]any); ok {
		if content, ok := m["content"].([]any); ok {
			if text := renderContent(content, toolName); text != "" {
				return text
			}
		}
	}

	return formatValue(payload, toolName)
}

// unwrap strips up to two levels of "result" nesting, the shape produced by
// JSON-RPC envelopes forwarded verbatim by the tool gateway.
func unwrap(result any) any {
	payload := result
	for i := 0; i < 2; i++ {
		m, ok := payload.(map[string]any)
		if !ok {
			break
		}
		inner, ok := m["result"]
		if !ok {
			break
		}
		payload = inner
	}
	return payload
}

// protocolError renders an embedded JSON-RPC error object.
func protocolError(payload any) (string, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		return "", false
	}

	msg, _ := errObj["message"].(string)
	if msg == "" {
		msg = "unknown error"
	}
	if code, ok := errObj["code"].(float64); ok {
		return fmt.Sprintf("Tool error (%d): %s", int(code), msg), true
	}
	return fmt.Sprintf("Tool error: %s", msg), true
}

// renderContent joins the text parts of an MCP content array, parsing
// embedded JSON so known result shapes can be formatted per tool.
func renderContent(content []any, toolName string) string {
	var parts []string
	for _, item := range content {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if entry["type"] != "text" {
			continue
		}
		text, _ := entry["text"].(string)
		if text == "" {
			continue
		}

		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			parts = append(parts, formatValue(parsed, toolName))
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// formatValue applies tool-name-based formatting for the small set of known
// result shapes, then falls back to a generic pretty-printer.
func formatValue(value any, toolName string) string {
	name := strings.ToLower(toolName)

	switch {
	case strings.Contains(name, "search"):
		if text, ok := formatSearchHits(value); ok {
			return text
		}
	case strings.Contains(name, "mapping") || strings.Contains(name, "schema"):
		if text, ok := formatMappings(value); ok {
			return text
		}
	case strings.Contains(name, "list") || strings.Contains(name, "indices"):
		if text, ok := formatListing(value); ok {
			return text
		}
	}

	switch v := value.(type) {
	case nil:
		return "[no result]"
	case string:
		return v
	case map[string]any, []any:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fallbackDump(v, "could not render result")
		}
		return string(pretty)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatSearchHits renders an Elasticsearch-style hits envelope.
func formatSearchHits(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	hitsWrap, ok := m["hits"].(map[string]any)
	if !ok {
		return "", false
	}
	hits, ok := hitsWrap["hits"].([]any)
	if !ok {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s)", len(hits))
	if total, ok := totalHits(hitsWrap["total"]); ok {
		fmt.Fprintf(&b, " of %d total", total)
	}
	b.WriteString("\n")

	for i, h := range hits {
		hit, ok := h.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%d. ", i+1)
		if src, ok := hit["_source"].(map[string]any); ok {
			b.WriteString(compactObject(src))
		} else {
			b.WriteString(compactValue(hit))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), true
}

func totalHits(total any) (int, bool) {
	switch v := total.(type) {
	case float64:
		return int(v), true
	case map[string]any:
		if n, ok := v["value"].(float64); ok {
			return int(n), true
		}
	}
	return 0, false
}

// formatListing renders listing-style results (arrays of named objects or
// plain strings) as one line per entry.
func formatListing(value any) (string, bool) {
	items, ok := value.([]any)
	if !ok {
		return "", false
	}
	if len(items) == 0 {
		return "No entries found.", true
	}

	var b strings.Builder
	for _, item := range items {
		switch v := item.(type) {
		case string:
			fmt.Fprintf(&b, "- %s\n", v)
		case map[string]any:
			fmt.Fprintf(&b, "- %s\n", compactObject(v))
		default:
			fmt.Fprintf(&b, "- %v\n", v)
		}
	}
	return strings.TrimRight(b.String(), "\n"), true
}

// formatMappings renders schema/mapping results as field: type lines grouped
// per top-level key.
func formatMappings(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return "", false
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s:\n", key)
		props := mappingProperties(m[key])
		if len(props) == 0 {
			fmt.Fprintf(&b, "  %s\n", compactValue(m[key]))
			continue
		}
		fields := make([]string, 0, len(props))
		for f := range props {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fieldType := "object"
			if fm, ok := props[f].(map[string]any); ok {
				if t, ok := fm["type"].(string); ok {
					fieldType = t
				}
			}
			fmt.Fprintf(&b, "  %s: %s\n", f, fieldType)
		}
	}
	return strings.TrimRight(b.String(), "\n"), true
}

func mappingProperties(value any) map[string]any {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := m["mappings"].(map[string]any); ok {
		m = inner
	}
	props, _ := m["properties"].(map[string]any)
	return props
}

func compactObject(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, compactValue(obj[k])))
	}
	return strings.Join(parts, ", ")
}

func compactValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func fallbackDump(result any, note string) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v\n[%s]", result, note)
	}
	return fmt.Sprintf("%s\n[%s]", raw, note)
}
