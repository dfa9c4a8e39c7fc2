package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestGetMapKnownKey(t *testing.T) {
	tool := NewGetMapTool()
	res := tool.Execute(context.Background(), map[string]interface{}{"key": "engine_params"})
	if res.IsError {
		t.Fatalf("result = %+v, want success", res)
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(res.Content), &params); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if params["rpm"] != float64(2500) {
		t.Fatalf("rpm = %v, want 2500", params["rpm"])
	}
}

func TestGetMapUnknownKey(t *testing.T) {
	tool := NewGetMapTool()
	res := tool.Execute(context.Background(), map[string]interface{}{"key": "no_such_map"})
	if !res.IsError || res.Code != CodeNotFound {
		t.Fatalf("result = %+v, want NOT_FOUND error", res)
	}
}

func TestGetMapSetOverrides(t *testing.T) {
	tool := NewGetMapTool()
	tool.Set("boost_target", 1.25)
	res := tool.Execute(context.Background(), map[string]interface{}{"key": "boost_target"})
	if res.IsError {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Content != "1.25" {
		t.Fatalf("content = %q, want 1.25", res.Content)
	}
}

func TestGetMapLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps.json")
	if err := os.WriteFile(path, []byte(`{"fuel_trim": {"bank1": 0.02}}`), 0o644); err != nil {
		t.Fatalf("write map file: %v", err)
	}
	tool := NewGetMapTool()
	if err := tool.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	res := tool.Execute(context.Background(), map[string]interface{}{"key": "fuel_trim"})
	if res.IsError {
		t.Fatalf("result = %+v, want success", res)
	}
}
