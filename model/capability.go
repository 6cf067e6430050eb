// Package model provides capability-based model selection for the review
// pipeline. Instead of hardcoding model names, stages specify capabilities
// (planning, reviewing) and the registry resolves them to available
// endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "claude-sonnet", callers specify "reviewing" or
// "planning".
type Capability string

const (
	// CapabilityPlanning is for the triage stage: deciding focus areas
	// and which files deserve attention.
	CapabilityPlanning Capability = "planning"

	// CapabilityReviewing is for the review stage: producing findings
	// against the full diff context.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityFast is for quick, cheap completions such as smoke
	// checks and summaries.
	CapabilityFast Capability = "fast"
)

// StageCapabilities maps pipeline stages to their default capability.
// Used when no explicit capability or model is specified.
var StageCapabilities = map[string]Capability{
	"planner":  CapabilityPlanning,
	"reviewer": CapabilityReviewing,
}

// CapabilityForStage returns the default capability for a pipeline stage.
// Returns CapabilityReviewing as fallback for unknown stages.
func CapabilityForStage(stage string) Capability {
	if cap, ok := StageCapabilities[stage]; ok {
		return cap
	}
	return CapabilityReviewing
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityReviewing, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for
// invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
