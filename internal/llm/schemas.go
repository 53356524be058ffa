package llm

import "github.com/dshills/wateraudit/internal/schema"

func levelEnum() []string {
	out := make([]string, len(schema.Levels))
	for i, l := range schema.Levels {
		out[i] = string(l)
	}
	return out
}

func categoryEnum() []string {
	out := make([]string, len(schema.Categories))
	for i, c := range schema.Categories {
		out[i] = string(c)
	}
	return out
}

func stringList() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

// object builds a strict JSON Schema object: every property is required and
// no others are allowed.
func object(props map[string]any, order ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             order,
		"additionalProperties": false,
	}
}

var findingsSchema = &OutputSchema{
	Name: "visual_findings",
	Definition: object(map[string]any{
		"detected_features":   stringList(),
		"contamination_level": map[string]any{"type": "string", "enum": levelEnum()},
		"likely_risks":        stringList(),
	}, "detected_features", "contamination_level", "likely_risks"),
}

var diagnosisSchema = &OutputSchema{
	Name: "diagnosis",
	Definition: object(map[string]any{
		"summary":  map[string]any{"type": "string"},
		"severity": map[string]any{"type": "string", "enum": levelEnum()},
		"contamination_causes": map[string]any{
			"type": "array",
			"items": object(map[string]any{
				"type":       map[string]any{"type": "string"},
				"source":     map[string]any{"type": "string"},
				"risk_level": map[string]any{"type": "string", "enum": levelEnum()},
			}, "type", "source", "risk_level"),
		},
		"action_note": map[string]any{"type": "string"},
	}, "summary", "severity", "contamination_causes", "action_note"),
}

var resourcesSchema = &OutputSchema{
	Name: "research_links",
	Definition: object(map[string]any{
		"resources": map[string]any{
			"type": "array",
			"items": object(map[string]any{
				"category": map[string]any{"type": "string", "enum": categoryEnum()},
				"title":    map[string]any{"type": "string"},
				"url":      map[string]any{"type": "string"},
			}, "category", "title", "url"),
		},
	}, "resources"),
}
