package routing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a routing file.
type document struct {
	Routing Table `yaml:"routing"`
}

// Parser handles parsing and validation of routing files
type Parser struct{}

// NewParser creates a new routing parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a routing YAML file
func (p *Parser) ParseFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing file: %w", err)
	}

	return p.Parse(data)
}

// Parse parses routing YAML data. Stage keys are normalized to upper case.
func (p *Parser) Parse(data []byte) (Table, error) {
	var doc document

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routing YAML: %w", err)
	}

	table := make(Table, len(doc.Routing))
	for stage, perspectives := range doc.Routing {
		table[strings.ToUpper(stage)] = perspectives
	}

	if err := p.Validate(table); err != nil {
		return nil, fmt.Errorf("routing validation failed: %w", err)
	}

	return table, nil
}

// Validate validates a routing table
func (p *Parser) Validate(table Table) error {
	if len(table) == 0 {
		return fmt.Errorf("routing table has no stages")
	}

	stages := make([]string, 0, len(table))
	for stage := range table {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	for _, stage := range stages {
		if stage == "" {
			return fmt.Errorf("stage name is required")
		}
		for perspective, model := range table[stage] {
			if perspective == "" {
				return fmt.Errorf("stage %s: perspective name is required", stage)
			}
			if strings.TrimSpace(model) == "" {
				return fmt.Errorf("stage %s: perspective %s has no model", stage, perspective)
			}
		}
	}

	return nil
}
