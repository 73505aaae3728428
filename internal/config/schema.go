package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// durationPattern accepts Go duration strings such as "90s" or "1h30m".
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// JSONSchema returns the JSON Schema of the configuration file, with field
// names as written in YAML.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:   "yaml",
			ExpandedStruct: true,
			Mapper:         mapConfigType,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "ELISA configuration"
		schema.Description = "Configuration of the ELISA assistant engine. Files may be YAML or JSON5."
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// mapConfigType describes durations as the strings the loader parses
// instead of their integer nanosecond representation.
func mapConfigType(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:     "string",
			Pattern:  durationPattern,
			Examples: []any{"30s", "5m", "1h"},
		}
	}
	return nil
}
