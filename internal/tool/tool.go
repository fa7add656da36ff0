// Package tool defines the tool catalogue offered to the Dungeon Master LLM:
// the [Tool] type, the concurrent-safe [Registry], and the deterministic
// prose rendering of the catalogue used inside LLM prompts.
//
// Tool selection in dmforge is prompt-driven: the registry is rendered as
// text ([Registry.SchemaPrompt]), the model answers with a JSON tool call,
// and the caller executes it via [Registry.Execute]. There is no native
// function-calling schema on the wire.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Parameter describes a single tool input parameter for prompt rendering
// and validation.
type Parameter struct {
	// Name is the JSON key the LLM must use for this parameter.
	Name string

	// Type is the primitive type tag: "string", "number", or "boolean".
	Type string

	// Description explains the parameter to the LLM.
	Description string

	// Required marks the parameter as mandatory.
	Required bool
}

// Definition is a tool's LLM-facing schema: its name, description, and
// ordered parameter list. The description text is fed verbatim into prompts,
// so it should be written for the model, not for Go readers.
type Definition struct {
	// Name is the tool's unique identifier (e.g. "get_spell_details").
	Name string

	// Description explains what the tool does and when to use it.
	Description string

	// Parameters is the ordered list of input parameters.
	Parameters []Parameter
}

// Handler executes a tool with JSON-encoded args and returns a JSON-encoded
// result string. Implementations must be safe for concurrent use and must
// respect context cancellation.
//
// Domain failures (entity not found, invalid delta, upstream fetch error)
// are encoded inside the returned JSON, not as Go errors; a non-nil error
// signals a defect such as unparseable arguments.
type Handler func(ctx context.Context, args string) (string, error)

// Tool pairs a [Definition] with its executable [Handler]. Tools are
// immutable once registered.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// renderDescription writes a one-line summary of the tool (name plus
// description) to sb.
func (t Tool) renderDescription(sb *strings.Builder) {
	sb.WriteString("- ")
	sb.WriteString(t.Definition.Name)
	sb.WriteString(": ")
	sb.WriteString(t.Definition.Description)
	sb.WriteByte('\n')
}

// renderSchema writes the full prompt block for the tool: name, description,
// and each parameter with its type and required flag.
func (t Tool) renderSchema(sb *strings.Builder) {
	sb.WriteString("Tool: ")
	sb.WriteString(t.Definition.Name)
	sb.WriteByte('\n')
	sb.WriteString("Description: ")
	sb.WriteString(t.Definition.Description)
	sb.WriteByte('\n')
	if len(t.Definition.Parameters) == 0 {
		sb.WriteString("Parameters: none\n")
		return
	}
	sb.WriteString("Parameters:\n")
	for _, p := range t.Definition.Parameters {
		sb.WriteString("  - ")
		sb.WriteString(p.Name)
		sb.WriteString(" (")
		sb.WriteString(p.Type)
		if p.Required {
			sb.WriteString(", required")
		} else {
			sb.WriteString(", optional")
		}
		sb.WriteString("): ")
		sb.WriteString(p.Description)
		sb.WriteByte('\n')
	}
}

// sortedNames returns tool names in lexicographic order so prompt output is
// deterministic across processes.
func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that a definition is registrable.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool: definition name must not be empty")
	}
	if d.Description == "" {
		return fmt.Errorf("tool: definition %q must have a description", d.Name)
	}
	for _, p := range d.Parameters {
		switch p.Type {
		case "string", "number", "boolean":
		default:
			return fmt.Errorf("tool: definition %q parameter %q has unknown type %q", d.Name, p.Name, p.Type)
		}
	}
	return nil
}
