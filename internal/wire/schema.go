package wire

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// paramSchemas holds the compiled JSON Schema for each task type's
// parameters, per the routing table in §4.5.
var paramSchemas = map[string]string{
	TaskCreateTenant: `{
		"type": "object",
		"required": ["tenant_id"],
		"properties": {"tenant_id": {"type": "string", "minLength": 1}}
	}`,
	TaskDeleteTenant: `{
		"type": "object",
		"required": ["tenant_id"],
		"properties": {"tenant_id": {"type": "string", "minLength": 1}}
	}`,
	TaskCreateUser: `{
		"type": "object",
		"required": ["tenant_id", "user_id", "face_id", "image_b64"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1},
			"face_id": {"type": "string", "minLength": 1},
			"image_b64": {"type": "string", "minLength": 1}
		}
	}`,
	TaskDeleteUser: `{
		"type": "object",
		"required": ["tenant_id", "user_id"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1}
		}
	}`,
	TaskAddFace: `{
		"type": "object",
		"required": ["tenant_id", "user_id", "face_id", "image_b64"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1},
			"face_id": {"type": "string", "minLength": 1},
			"image_b64": {"type": "string", "minLength": 1}
		}
	}`,
	TaskDeleteFace: `{
		"type": "object",
		"required": ["tenant_id", "user_id", "face_id"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1},
			"face_id": {"type": "string", "minLength": 1}
		}
	}`,
	TaskFaceRecognize: `{
		"type": "object",
		"required": ["tenant_id", "image_b64"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"image_b64": {"type": "string", "minLength": 1}
		}
	}`,
	TaskFaceDetect: `{
		"type": "object",
		"required": ["image_b64"],
		"properties": {"image_b64": {"type": "string", "minLength": 1}}
	}`,
	TaskFaceEmbed: `{
		"type": "object",
		"required": ["image_b64"],
		"properties": {"image_b64": {"type": "string", "minLength": 1}}
	}`,
	TaskGetUserFaces: `{
		"type": "object",
		"required": ["tenant_id", "user_id"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1}
		}
	}`,
	TaskGetCacheStats: `{"type": "object"}`,
	TaskHealthCheck:   `{"type": "object"}`,
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compileAll() {
	compiled = make(map[string]*jsonschema.Schema, len(paramSchemas))
	c := jsonschema.NewCompiler()
	for taskType, schemaJSON := range paramSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema for %s: %w", taskType, err)
			return
		}
		resource := taskType + ".schema.json"
		if err := c.AddResource(resource, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource for %s: %w", taskType, err)
			return
		}
		schema, err := c.Compile(resource)
		if err != nil {
			compileErr = fmt.Errorf("compile schema for %s: %w", taskType, err)
			return
		}
		compiled[taskType] = schema
	}
}

// Validate checks parameters against the task type's JSON Schema. Unknown
// task types are rejected with ErrUnknownTaskType.
func Validate(taskType string, parameters map[string]any) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return fmt.Errorf("schema compilation failed: %w", compileErr)
	}
	schema, ok := compiled[taskType]
	if !ok {
		return ErrUnknownTaskType{TaskType: taskType}
	}
	if parameters == nil {
		parameters = map[string]any{}
	}
	if err := schema.Validate(parameters); err != nil {
		return fmt.Errorf("parameters invalid for task %s: %w", taskType, err)
	}
	return nil
}

// ErrUnknownTaskType is returned by Validate for a task type not in the
// routing table.
type ErrUnknownTaskType struct {
	TaskType string
}

func (e ErrUnknownTaskType) Error() string {
	return fmt.Sprintf("unknown task type %q", e.TaskType)
}
