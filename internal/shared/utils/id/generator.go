// Package id produces the opaque, lexicographically sortable identifiers used
// for every persisted entity.
package id

import (
	"fmt"
	"sync"

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

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewWorkspaceID generates a workspace identifier.
func NewWorkspaceID() string { return defaultGenerator.newIdentifier("ws") }

// NewTaskID generates a task identifier.
func NewTaskID() string { return defaultGenerator.newIdentifier("task") }

// NewRunID generates a run identifier.
func NewRunID() string { return defaultGenerator.newIdentifier("run") }

// NewBlockerID generates a blocker identifier.
func NewBlockerID() string { return defaultGenerator.newIdentifier("blk") }

// NewBatchID generates a batch identifier.
func NewBatchID() string { return defaultGenerator.newIdentifier("batch") }

// NewEventID generates an event identifier.
func NewEventID() string { return defaultGenerator.newIdentifier("evt") }

// NewCheckpointID generates a checkpoint identifier.
func NewCheckpointID() string { return defaultGenerator.newIdentifier("ckpt") }

// NewPRDID generates a PRD identifier.
func NewPRDID() string { return defaultGenerator.newIdentifier("prd") }

// NewRequestID generates an unprefixed identifier for provider request tracing.
func NewRequestID() string { return ksuid.New().String() }

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		uuidv7, err := uuid.NewV7()
		if err == nil {
			body = uuidv7.String()
			break
		}
		fallthrough
	case StrategyKSUID:
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}

	return fmt.Sprintf("%s-%s", prefix, body)
}
