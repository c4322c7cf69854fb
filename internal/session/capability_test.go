package session

import (
	"encoding/json"
	"strings"
	"testing"
)

func staticToolSchema(t *testing.T, toolNames []string) string {
	t.Helper()
	for _, def := range toolDefinitions(toolNames) {
		if def.Name != capRunStaticTool {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal(def.Parameters, &parsed); err != nil {
			t.Fatalf("schema for %s is not valid JSON: %v", def.Name, err)
		}
		return string(def.Parameters)
	}
	t.Fatalf("%s definition missing", capRunStaticTool)
	return ""
}

func TestToolDefinitionsEnumMatchesCatalog(t *testing.T) {
	t.Parallel()

	schema := staticToolSchema(t, []string{"slither", "solhint"})
	if !strings.Contains(schema, `"enum": ["slither","solhint"]`) {
		t.Fatalf("tool name enum missing from schema: %s", schema)
	}
}

func TestToolDefinitionsEmptyCatalogOmitsEnum(t *testing.T) {
	t.Parallel()

	for _, toolNames := range [][]string{nil, {}} {
		schema := staticToolSchema(t, toolNames)
		if strings.Contains(schema, "enum") {
			t.Fatalf("empty catalog must not emit an enum clause: %s", schema)
		}
		if strings.Contains(schema, "null") {
			t.Fatalf("schema must not contain null: %s", schema)
		}
	}
}

func TestToolDefinitionsSchemasAreValidJSON(t *testing.T) {
	t.Parallel()

	defs := toolDefinitions([]string{"slither"})
	if len(defs) != 4 {
		t.Fatalf("unexpected capability count: %d", len(defs))
	}
	for _, def := range defs {
		var parsed map[string]any
		if err := json.Unmarshal(def.Parameters, &parsed); err != nil {
			t.Fatalf("schema for %s is not valid JSON: %v", def.Name, err)
		}
	}
}
