package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ToJSONSchema generates the JSON schema for the config file format.
// Used by the schema subcommand so editors can validate config files.
func ToJSONSchema() (string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}

	schema := reflector.Reflect(&Config{})

	jsonSchemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}
