package toolruntime

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflector produces flat, self-contained schemas: parameter structs are
// small enough that we always want field definitions inlined rather than
// split into a $defs section with $ref pointers, since the schema is
// embedded directly in a tool definition sent to the LLM.
var reflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

// Schema reflects a JSON Schema object from paramsStruct's field tags
// (`json`, `jsonschema`) and returns it as the map[string]any shape
// types.ToolDefinition.Parameters expects. paramsStruct should be a pointer
// to a struct, not an instance of the struct itself.
//
// Field presence follows encoding/json: a field is "required" unless it's
// a pointer, has `omitempty`, or is explicitly marked
// `jsonschema:"omitempty"`.
func Schema(paramsStruct any) map[string]any {
	s := reflector.Reflect(paramsStruct)

	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}

	delete(m, "$schema")
	delete(m, "$id")
	return m
}
