package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// GetMapTool serves engine calibration data from an in-memory table. The
// table is seeded at startup, optionally from a JSON file, and never written
// by the tool, so concurrent reads need no locking.
type GetMapTool struct {
	data map[string]interface{}
}

// NewGetMapTool seeds the table with the built-in calibration entries.
func NewGetMapTool() *GetMapTool {
	return &GetMapTool{data: map[string]interface{}{
		"boost_target": map[string]interface{}{
			"anomalies": []interface{}{
				map[string]interface{}{
					"timestamp":   "2024-01-15T10:23:00Z",
					"expected":    1.8,
					"actual":      1.2,
					"description": "boost pressure below target under load",
				},
				map[string]interface{}{
					"timestamp":   "2024-01-15T10:47:00Z",
					"expected":    1.8,
					"actual":      1.1,
					"description": "repeated underboost, wastegate suspected",
				},
			},
		},
		"engine_params": map[string]interface{}{
			"rpm":            2500,
			"temperature":    85,
			"boost_pressure": 2.3,
		},
	}}
}

// Set adds or replaces one entry. Call during startup only.
func (t *GetMapTool) Set(key string, value interface{}) {
	t.data[key] = value
}

// LoadFile merges entries from a JSON file of the form {"key": value, ...}.
func (t *GetMapTool) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read map file: %w", err)
	}
	var entries map[string]interface{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse map file %s: %w", path, err)
	}
	for k, v := range entries {
		t.data[k] = v
	}
	return nil
}

func (t *GetMapTool) Name() string { return "get_map" }

func (t *GetMapTool) Description() string {
	return "Look up engine calibration map data by key, such as boost_target or engine_params."
}

func (t *GetMapTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Calibration map key to fetch.",
			},
		},
		"required":             []interface{}{"key"},
		"additionalProperties": false,
	}
}

func (t *GetMapTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, _ := args["key"].(string)
	value, ok := t.data[key]
	if !ok {
		return Errorf(CodeNotFound, "no map data for key: %s", key)
	}
	return JSONResult(value)
}
