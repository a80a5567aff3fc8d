package tools

import (
	"fmt"
	"strings"
)

// validateArguments checks parsed arguments against the tool's JSON schema.
// Only the subset that matters for analytic tools is enforced: required
// fields must be present and top-level properties must match their declared
// primitive type. Anything the schema does not mention passes through.
func validateArguments(args map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	var missing []string
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required arguments: %s", strings.Join(missing, ", "))
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for name, value := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared == "" {
			continue
		}
		if !typeMatches(value, declared) {
			return fmt.Errorf("argument %q should be %s, got %T", name, declared, value)
		}
	}
	return nil
}

func typeMatches(value any, declared string) bool {
	if value == nil {
		return true
	}
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
