package providers

// Schema keywords that strict tool-call parsers in local backends reject.
// vLLM's guided decoding and several llama.cpp grammar builders choke on
// references and draft-specific keys, so tool schemas advertised to such
// backends are stripped down to the plain object/property subset.
var strictUnsupportedKeys = []string{"$ref", "$defs", "$schema", "examples", "default"}

// CleanToolSchemas returns a copy of tools with strict-mode-incompatible
// JSON Schema fields removed from each tool's parameters.
func CleanToolSchemas(tools []ToolDefinition) []ToolDefinition {
	if len(tools) == 0 {
		return tools
	}

	cleaned := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		cleaned[i] = ToolDefinition{
			Type: t.Type,
			Function: ToolFunctionSchema{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  cleanSchema(t.Function.Parameters),
			},
		}
	}
	return cleaned
}

// cleanSchema recursively removes unsupported keys from a JSON Schema map.
func cleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}

	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if isUnsupportedKey(k) {
			continue
		}

		switch val := v.(type) {
		case map[string]interface{}:
			result[k] = cleanSchema(val)
		case []interface{}:
			result[k] = cleanSchemaSlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

// cleanSchemaSlice recurses into arrays (e.g. "anyOf", "oneOf", "allOf").
func cleanSchemaSlice(items []interface{}) []interface{} {
	result := make([]interface{}, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			result[i] = cleanSchema(m)
		} else {
			result[i] = item
		}
	}
	return result
}

func isUnsupportedKey(key string) bool {
	for _, rk := range strictUnsupportedKeys {
		if key == rk {
			return true
		}
	}
	return false
}
