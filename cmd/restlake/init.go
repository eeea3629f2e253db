package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// Generator scaffolds a starter connector definition.
type Generator struct {
	Name string
}

// NewGenerator creates a generator for the named connector.
func NewGenerator(name string) *Generator {
	return &Generator{Name: name}
}

// Generate writes connectors/<name>.yaml from the starter template.
func (g *Generator) Generate() error {
	dir := "connectors"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create connectors directory: %w", err)
	}

	path := filepath.Join(dir, g.Name+".yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("connector already exists: %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	t, err := template.New("connector").Parse(connectorTemplate)
	if err != nil {
		return err
	}
	return t.Execute(f, g)
}

func runInit(name string) error {
	generator := NewGenerator(name)
	if err := generator.Generate(); err != nil {
		return fmt.Errorf("failed to generate connector: %w", err)
	}
	fmt.Printf("Successfully generated connector: connectors/%s.yaml\n", name)
	return nil
}

const connectorTemplate = `name: {{.Name}}
version: "1.0"
base_url: "https://api.example.com"

spec:
  api_key:
    type: string
    title: API Key
    required: true
    secret: true

auth:
  type: api_key
  location: header
  header_name: Authorization
  prefix: "Bearer "
  value: "{{"{{ config.api_key }}"}}"

check:
  path: /v1/ping

streams:
  - name: items
    path: /v1/items
    record_path: "$.data[*]"
    primary_key: [id]
    pagination:
      type: cursor
      cursor_param: starting_after
      cursor_path: "$.data[-1:].id"
      stop_condition:
        type: field
        path: "$.has_more"
        value: false
`
