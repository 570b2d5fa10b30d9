// Package routing maps a workflow stage and perspective to the model an agent
// should run with. Lookups are pure; the table is either the built-in default
// or one loaded from a routing YAML file.
package routing

import "strings"

// Model names known to the router.
const (
	ModelOpus   = "opus"
	ModelSonnet = "sonnet"
	ModelHaiku  = "haiku"

	// DefaultModel is used when neither the perspective nor the stage
	// default resolves.
	DefaultModel = ModelSonnet

	defaultKey = "_default"
)

// Table maps STAGE -> perspective -> model.
type Table map[string]map[string]string

// Route is the result of a lookup.
type Route struct {
	Stage       string `json:"stage"`
	Perspective string `json:"perspective"`
	Model       string `json:"model"`
	Reason      string `json:"reason"`
}

// DefaultTable returns a fresh copy of the built-in routing table.
func DefaultTable() Table {
	return Table{
		"RESEARCH": {
			"architecture": ModelSonnet,
			"cognitive":    ModelSonnet,
			"workflow":     ModelHaiku,
			"industry":     ModelHaiku,
			"_synthesis":   ModelSonnet,
		},
		"PLAN": {
			"architect":    ModelSonnet,
			"risk-analyst": ModelSonnet,
			"estimator":    ModelHaiku,
			"ux-advocate":  ModelHaiku,
			"_synthesis":   ModelSonnet,
		},
		"TASKS": {
			"dependency-analyst": ModelSonnet,
			"task-decomposer":    ModelHaiku,
			"test-planner":       ModelHaiku,
			"risk-preventor":     ModelHaiku,
			"_validation":        ModelSonnet,
		},
		"IMPLEMENT": {
			"main_agent":            ModelSonnet,
			"tdd-enforcer":          ModelHaiku,
			"performance-optimizer": ModelHaiku,
			"security-auditor":      ModelSonnet,
			"maintainer":            ModelHaiku,
			"_self_review":          ModelSonnet,
		},
		"REVIEW": {
			"code-quality":  ModelHaiku,
			"test-coverage": ModelHaiku,
			"documentation": ModelHaiku,
			"integration":   ModelSonnet,
			"_synthesis":    ModelSonnet,
		},
		"VERIFY": {
			"functional-tester":    ModelHaiku,
			"edge-case-hunter":     ModelSonnet,
			"regression-checker":   ModelHaiku,
			"acceptance-validator": ModelSonnet,
			"_final_report":        ModelSonnet,
		},
	}
}

// Lookup resolves the model for stage and perspective. The stage is matched
// case-insensitively; an unknown perspective falls back to the stage's
// _default entry and then to DefaultModel.
func (t Table) Lookup(stage, perspective string) Route {
	stage = strings.ToUpper(stage)

	model := DefaultModel
	if perspectives, ok := t[stage]; ok {
		if m, ok := perspectives[perspective]; ok {
			model = m
		} else if m, ok := perspectives[defaultKey]; ok {
			model = m
		}
	}

	return Route{
		Stage:       stage,
		Perspective: perspective,
		Model:       model,
		Reason:      Reason(model),
	}
}

// Reason explains why a model tier was picked.
func Reason(model string) string {
	switch model {
	case ModelOpus:
		return "critical decision task, routed to the strongest model"
	case ModelSonnet:
		return "needs deep analysis or complex reasoning"
	case ModelHaiku:
		return "simpler or mechanical task"
	default:
		return "default model"
	}
}
