package ir

import (
	"errors"
	"fmt"
)

// DefaultAlignment is the default byte alignment of a memory class.
const DefaultAlignment int64 = 64

// Priority strategy names accepted in Config.Priority.
const (
	PriorityCriticalPath = "critical-path"
	PriorityProgramOrder = "program-order"
)

// Victim strategy names accepted in Config.Victim.
const (
	VictimCheapest    = "cheapest"
	VictimFarthestUse = "farthest-use"
)

// MemoryConfig describes one memory class.
type MemoryConfig struct {
	Capacity     int64 `json:"capacity" yaml:"capacity"`
	Alignment    int64 `json:"alignment,omitempty" yaml:"alignment,omitempty"`
	ForbidSpills bool  `json:"forbid_spills,omitempty" yaml:"forbid_spills,omitempty"`
}

// Config is the explicit configuration object handed to the pass.
type Config struct {
	Primary       MemoryConfig  `json:"primary" yaml:"primary"`
	Secondary     *MemoryConfig `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	SpillExecutor ExecutorKind  `json:"spill_executor,omitempty" yaml:"spill_executor,omitempty"`
	Priority      string        `json:"priority,omitempty" yaml:"priority,omitempty"`
	Victim        string        `json:"victim,omitempty" yaml:"victim,omitempty"`
	MaxSteps      int           `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
// A missing secondary memory is treated as unbounded.
func (c Config) WithDefaults() Config {
	if c.Primary.Alignment == 0 {
		c.Primary.Alignment = DefaultAlignment
	}
	if c.Secondary != nil {
		sec := *c.Secondary
		if sec.Alignment == 0 {
			sec.Alignment = DefaultAlignment
		}
		c.Secondary = &sec
	}
	if c.SpillExecutor == "" {
		c.SpillExecutor = ExecutorDMA
	}
	if c.Priority == "" {
		c.Priority = PriorityCriticalPath
	}
	if c.Victim == "" {
		c.Victim = VictimCheapest
	}
	return c
}

// Validate checks the configuration for values the pass cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Primary.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("primary.capacity must be positive, got %d", c.Primary.Capacity))
	}
	if !isPowerOfTwo(c.Primary.Alignment) {
		errs = append(errs, fmt.Errorf("primary.alignment must be a power of two, got %d", c.Primary.Alignment))
	}
	if c.Secondary != nil {
		if c.Secondary.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("secondary.capacity must be positive, got %d", c.Secondary.Capacity))
		}
		if !isPowerOfTwo(c.Secondary.Alignment) {
			errs = append(errs, fmt.Errorf("secondary.alignment must be a power of two, got %d", c.Secondary.Alignment))
		}
	}
	switch c.Priority {
	case PriorityCriticalPath, PriorityProgramOrder:
	default:
		errs = append(errs, fmt.Errorf("unknown priority strategy %q", c.Priority))
	}
	switch c.Victim {
	case VictimCheapest, VictimFarthestUse:
	default:
		errs = append(errs, fmt.Errorf("unknown victim strategy %q", c.Victim))
	}
	if c.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("max_steps must not be negative, got %d", c.MaxSteps))
	}
	return errors.Join(errs...)
}

func isPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}
