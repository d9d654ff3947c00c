// Package catalog adapts the tool host's tool list into the function
// schemas offered to a language model.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/toolbridge/pkg/toolhost"
)

// Lister is the part of a tool host session the catalog needs.
type Lister interface {
	ListTools(ctx context.Context) ([]toolhost.Tool, error)
}

// FunctionDefinition describes one callable function. Parameters is the
// tool's input schema, passed through unchanged.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// FunctionSchema is the model-facing declaration of a tool.
type FunctionSchema struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// Catalog is a snapshot of the tools offered by a tool host.
type Catalog struct {
	tools  []toolhost.Tool
	byName map[string]int
	logger zerolog.Logger

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// Fetch lists the tools currently offered by the tool host.
func Fetch(ctx context.Context, lister Lister, logger zerolog.Logger) (*Catalog, error) {
	tools, err := lister.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return New(tools, logger), nil
}

// New builds a catalog from an already fetched tool list.
func New(tools []toolhost.Tool, logger zerolog.Logger) *Catalog {
	c := &Catalog{
		tools:   tools,
		byName:  make(map[string]int, len(tools)),
		logger:  logger,
		schemas: make(map[string]*gojsonschema.Schema),
	}
	for i, t := range tools {
		c.byName[t.Name] = i
	}
	return c
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// Names returns tool names in tool host order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.tools))
	for i, t := range c.tools {
		names[i] = t.Name
	}
	return names
}

// Schemas returns one function schema per tool, in tool host order.
func (c *Catalog) Schemas() []FunctionSchema {
	schemas := make([]FunctionSchema, 0, len(c.tools))
	for _, t := range c.tools {
		schemas = append(schemas, FunctionSchema{
			Type: "function",
			Function: FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return schemas
}

// Validate checks args against the named tool's input schema. Unknown
// tools, tools without a schema and schemas that do not compile are not
// validated; the tool host remains the authority for those.
func (c *Catalog) Validate(name string, args map[string]any) error {
	schema := c.compiled(name)
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("arguments for %s do not match schema: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}

func (c *Catalog) compiled(name string) *gojsonschema.Schema {
	idx, ok := c.byName[name]
	if !ok {
		return nil
	}
	raw := c.tools[idx].InputSchema
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if schema, ok := c.schemas[name]; ok {
		return schema
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		c.logger.Warn().Err(err).Str("tool", name).Msg("tool input schema does not compile, skipping validation")
		schema = nil
	}
	c.schemas[name] = schema
	return schema
}
