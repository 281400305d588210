package correction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mcp-chat-server/internal/domain/chat"
)

// ValidationError is the parsed form of a parameter-shaped failure.
type ValidationError struct {
	IsParameterError bool
	Raw              string
	SuggestedFix     string
}

// ParseValidationError inspects an error text and extracts what can be said
// about the parameter problem.
func ParseValidationError(errorText string) ValidationError {
	verr := ValidationError{
		IsParameterError: Classify(errorText) == ClassValidation,
		Raw:              errorText,
	}
	if name := requiredParamName(errorText); name != "" {
		verr.SuggestedFix = fmt.Sprintf("supply required parameter %q", name)
	}
	return verr
}

// Fix is a deterministic parameter repair.
type Fix struct {
	Params  map[string]any
	Applied string
}

// Parameter aliases the models habitually produce, keyed by the name the
// tool actually expects. AsArray marks expected parameters that take a list.
var aliasFixes = []struct {
	Expected string
	Aliases  []string
	AsArray  bool
}{
	{Expected: "indices", Aliases: []string{"index", "index_name", "indexes"}, AsArray: true},
	{Expected: "query", Aliases: []string{"esql", "sql", "search", "statement", "command", "expression"}},
	{Expected: "queries", Aliases: []string{"query"}, AsArray: true},
	{Expected: "fields", Aliases: []string{"field", "field_name"}, AsArray: true},
}

// Tool-specific defaults for required parameters, consulted before the
// generic name-based table.
var toolDefaults = map[string]map[string]any{
	"search":       {"limit": 10},
	"execute_esql": {"format": "json"},
	"list_indices": {"include_hidden": false},
}

// Generic defaults by parameter name: pagination, time ranges, flags.
var genericDefaults = map[string]any{
	"limit":       10,
	"size":        10,
	"count":       10,
	"max_results": 10,
	"offset":      0,
	"page":        1,
	"detailed":    false,
	"verbose":     false,
	"include_raw": false,
}

var (
	missingParamRe = regexp.MustCompile(`(?i)missing required parameter:?\s*"?([A-Za-z0-9_]+)"?`)
	pathParamRe    = regexp.MustCompile(`"path":\s*\[\s*"([A-Za-z0-9_]+)"`)
	requiredRe     = regexp.MustCompile(`(?i)required[^"]*"([A-Za-z0-9_]+)"`)
	symbolRe       = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,5}$`)
)

// ApplyAutomaticFixes attempts, in order: renaming a known alias parameter
// to the expected shape, injecting missing required parameters, and coercing
// string-typed numbers/booleans when the error indicates a type mismatch.
// It reports false when no rule matched.
func ApplyAutomaticFixes(call chat.ToolCall, verr ValidationError) (*Fix, bool) {
	if !verr.IsParameterError {
		return nil, false
	}

	if fix, ok := renameAlias(call.Arguments, verr.Raw); ok {
		return fix, true
	}
	if fix, ok := injectRequired(call.Name, call.Arguments, verr.Raw); ok {
		return fix, true
	}
	if fix, ok := coerceTypes(call.Arguments, verr.Raw); ok {
		return fix, true
	}
	return nil, false
}

// renameAlias moves a known alias parameter to the name the error message
// asks for, converting scalars to single-element arrays where the expected
// parameter takes a list.
func renameAlias(params map[string]any, errorText string) (*Fix, bool) {
	lower := strings.ToLower(errorText)

	for _, rule := range aliasFixes {
		if !strings.Contains(lower, rule.Expected) {
			continue
		}
		for _, alias := range rule.Aliases {
			value, ok := params[alias]
			if !ok {
				continue
			}
			corrected := cloneParams(params)
			delete(corrected, alias)
			if rule.AsArray {
				if _, isList := value.([]any); isList {
					corrected[rule.Expected] = value
				} else {
					corrected[rule.Expected] = []any{value}
				}
			} else {
				corrected[rule.Expected] = value
			}
			return &Fix{
				Params:  corrected,
				Applied: fmt.Sprintf("renamed %q to %q", alias, rule.Expected),
			}, true
		}
	}

	// Fallback: the error names a path element that fuzzily matches an
	// existing parameter. Rename it, converting to an array when asked.
	if expected := requiredParamName(errorText); expected != "" {
		wantsArray := strings.Contains(lower, "array")
		for name, value := range params {
			if name == expected || !similarNames(name, expected) {
				continue
			}
			corrected := cloneParams(params)
			delete(corrected, name)
			if wantsArray {
				if _, isList := value.([]any); isList {
					corrected[expected] = value
				} else {
					corrected[expected] = []any{value}
				}
			} else {
				corrected[expected] = value
			}
			return &Fix{
				Params:  corrected,
				Applied: fmt.Sprintf("renamed %q to required %q", name, expected),
			}, true
		}
	}
	return nil, false
}

// injectRequired fills a missing required parameter from the tool-specific
// table, then generic name-based defaults, then symbol inference from
// sibling parameters.
func injectRequired(toolName string, params map[string]any, errorText string) (*Fix, bool) {
	name := requiredParamName(errorText)
	if name == "" {
		return nil, false
	}
	if _, present := params[name]; present {
		return nil, false
	}

	if defaults, ok := toolDefaults[toolName]; ok {
		if value, ok := defaults[name]; ok {
			return inject(params, name, value, "tool default"), true
		}
	}
	if value, ok := genericDefaults[name]; ok {
		return inject(params, name, value, "generic default"), true
	}

	switch name {
	case "start_time", "from", "since":
		value := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
		return inject(params, name, value, "time-range default"), true
	case "end_time", "to", "until":
		value := time.Now().UTC().Format(time.RFC3339)
		return inject(params, name, value, "time-range default"), true
	case "symbol", "ticker":
		for _, sibling := range params {
			s, ok := sibling.(string)
			if ok && symbolRe.MatchString(s) {
				return inject(params, name, s, "inferred from sibling parameter"), true
			}
		}
	}
	return nil, false
}

func inject(params map[string]any, name string, value any, source string) *Fix {
	corrected := cloneParams(params)
	corrected[name] = value
	return &Fix{
		Params:  corrected,
		Applied: fmt.Sprintf("injected %s=%v (%s)", name, value, source),
	}
}

// coerceTypes converts string-typed numbers and booleans to their native
// types when the error text indicates a type mismatch.
func coerceTypes(params map[string]any, errorText string) (*Fix, bool) {
	lower := strings.ToLower(errorText)
	if !strings.Contains(lower, "received string") &&
		!strings.Contains(lower, "should be a number") &&
		!strings.Contains(lower, "should be a boolean") &&
		!strings.Contains(lower, "must be a number") &&
		!strings.Contains(lower, "must be a boolean") {
		return nil, false
	}

	corrected := cloneParams(params)
	var coerced []string
	for name, value := range corrected {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			corrected[name] = n
			coerced = append(coerced, name)
			continue
		}
		if b, err := strconv.ParseBool(s); err == nil {
			corrected[name] = b
			coerced = append(coerced, name)
		}
	}
	if len(coerced) == 0 {
		return nil, false
	}
	return &Fix{
		Params:  corrected,
		Applied: fmt.Sprintf("coerced string value(s) %s to native types", strings.Join(coerced, ", ")),
	}, true
}

func requiredParamName(errorText string) string {
	if m := missingParamRe.FindStringSubmatch(errorText); m != nil {
		return m[1]
	}
	if m := pathParamRe.FindStringSubmatch(errorText); m != nil {
		return m[1]
	}
	if m := requiredRe.FindStringSubmatch(errorText); m != nil {
		return m[1]
	}
	return ""
}

// similarNames reports whether two parameter names refer to the same thing
// modulo case, separators and pluralization.
func similarNames(a, b string) bool {
	na := normalizeName(a)
	nb := normalizeName(b)
	if na == nb {
		return true
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, "-", "")
	return strings.TrimSuffix(name, "s")
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
