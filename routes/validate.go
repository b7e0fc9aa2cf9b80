package routes

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	routeSchema = "schema/route.schema.json"
	sceneSchema = "schema/scene.schema.json"
)

var (
	schemaMu sync.Mutex
	schemas  = map[string]*jsonschema.Schema{}
)

func compiledSchema(name string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemas[name]; ok {
		return s, nil
	}
	src, err := SchemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("routes: schema %s: %w", name, err)
	}
	s, err := jsonschema.CompileString(name, string(src))
	if err != nil {
		return nil, fmt.Errorf("routes: compile schema %s: %w", name, err)
	}
	schemas[name] = s
	return s, nil
}

// validateDocument checks a YAML document against an embedded schema. The
// document is normalised through JSON so numbers reach the validator as
// float64.
func validateDocument(schemaName string, data []byte) error {
	s, err := compiledSchema(schemaName)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalise: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("normalise: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
