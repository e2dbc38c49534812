package validator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema decodes and compiles a Draft 2020-12 JSON Schema document
// (spec §4.5 phase 1). The schema is compiled fresh per call: workflow
// validation runs rarely enough (bootstrap time, not per-message) that a
// compiled-schema cache would be premature. Grounded on the teacher's own
// validatePayloadJSONAgainstSchema (registry/service.go): decode into `any`,
// AddResource, Compile.
func CompileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("workflow.json")
}

// validateSchema runs phase 1 and returns the flattened, path-sorted error
// list the report's schema_errors field expects. A nil slice means the
// instance is valid.
func validateSchema(schema *jsonschema.Schema, instance any) []string {
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	return flattenSchemaErrors(err)
}

// flattenSchemaErrors walks a jsonschema.ValidationError's cause tree to
// leaves and renders each as "instance/path: message", mirroring the
// original validator's sorted, per-leaf schema_errors list.
func flattenSchemaErrors(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := strings.Join(toStrings(e.InstanceLocation), "/")
			if path == "" {
				path = "<root>"
			}
			out = append(out, fmt.Sprintf("%s: %s", path, e.Error()))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}

func toStrings(loc []string) []string {
	if loc == nil {
		return nil
	}
	out := make([]string, len(loc))
	copy(out, loc)
	return out
}
