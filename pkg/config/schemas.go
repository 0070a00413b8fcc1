package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for configuration validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Compile errors in the embedded schemas are programming errors.
	if err := sr.RegisterSchema("config", builtinConfigSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles a CUE schema and registers its top definition
// under the given name. The schema source must declare the definition
// "#" + Title(name) at its top level (e.g. "#Config").
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definitionPath(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, definitionPath(name))
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a registered schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidateAgainstSchema validates data against a named schema by unifying
// the encoded data with the schema definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	return unified.Validate(cue.Concrete(true))
}

// CheckConfig validates a decoded configuration document against the config
// schema and converts every violation into a located ValidationError.
// A nil document (empty file) is reported, not skipped.
func (sr *SchemaRegistry) CheckConfig(ctx context.Context, doc map[string]interface{}) []ValidationError {
	if doc == nil {
		return []ValidationError{{
			Message:  "configuration document is empty",
			Severity: "error",
		}}
	}

	err := sr.ValidateAgainstSchema(ctx, "config", doc)
	if err == nil {
		return nil
	}
	return convertCUEErrors(err)
}

// convertCUEErrors converts a CUE error into ValidationError entries, one
// per underlying error, carrying the document path when CUE reports one.
func convertCUEErrors(err error) []ValidationError {
	var issues []ValidationError
	for _, e := range errors.Errors(err) {
		issue := ValidationError{
			Message:  e.Error(),
			Severity: "error",
		}
		if p := errors.Path(e); len(p) > 0 {
			issue.Path = pathString(p)
		}
		issues = append(issues, issue)
	}
	if len(issues) == 0 {
		issues = append(issues, ValidationError{
			Message:  err.Error(),
			Severity: "error",
		})
	}
	return issues
}

// pathString joins a CUE error path into dotted form.
func pathString(parts []string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "."
		}
		out += part
	}
	return out
}

// definitionPath maps a schema name to its CUE definition path.
func definitionPath(name string) string {
	if name == "" {
		return "#"
	}
	// "config" -> "#Config"
	return "#" + string(name[0]-'a'+'A') + name[1:]
}

// builtinConfigSchema is the schema every configuration document must
// satisfy before struct decoding. Domain rules (declared-domain references,
// placement uniqueness) belong to the engine normalizer; this schema pins
// the document's shape and scalar types.
const builtinConfigSchema = `
#Config: {
	// install_script optionally overrides the platform bootstrap script.
	install_script?: string & !=""

	// main_domain is the platform main domain.
	main_domain: string & !=""

	// admin_password is the platform administration password.
	admin_password: string & !=""

	// extra_domains are additional domains, in declaration order.
	extra_domains?: [...string & !=""]

	// users are the declared accounts, in declaration order.
	users?: [...#User]

	// apps are the declared applications, in declaration order.
	apps?: [...#App]
}

#User: {
	name:      string & !=""
	pass:      string & !=""
	firstname: string & !=""
	lastname:  string & !=""
	mail:      string & =~"^[^@ ]+@[^@ ]+$"
}

#App: {
	label: string & !=""
	link:  string & !=""

	// args must at least place the app; extra keys pass through opaquely.
	args: {
		domain:   string & !=""
		path:     string & !=""
		[string]: string
	}
}
`
