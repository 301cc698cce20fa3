// Package id generates task identifiers and carries them through contexts.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

// ParseStrategy maps a config value to a Strategy. Empty means KSUID.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "ksuid":
		return StrategyKSUID, nil
	case "uuidv7", "uuid":
		return StrategyUUIDv7, nil
	default:
		return StrategyKSUID, fmt.Errorf("unknown id strategy %q", value)
	}
}

// Generator produces prefixed task identifiers. The zero value uses KSUID.
type Generator struct {
	strategy Strategy
}

// NewGenerator returns a generator for the given strategy.
func NewGenerator(strategy Strategy) *Generator {
	return &Generator{strategy: strategy}
}

// NewTaskID generates a new task identifier with a stable prefix for display.
func (g *Generator) NewTaskID() string {
	return g.newIdentifier("task")
}

func (g *Generator) newIdentifier(prefix string) string {
	var body string
	switch g.strategy {
	case StrategyUUIDv7:
		if v7, err := uuid.NewV7(); err == nil {
			body = v7.String()
			break
		}
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}
	return prefix + "-" + body
}
