package registry

import (
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Category classifies an agent's operational domain.
type Category string

const (
	CategoryMarket     Category = "market"
	CategoryExecutive  Category = "executive"
	CategoryContent    Category = "content"
	CategoryLogistics  Category = "logistics"
	CategorySystem     Category = "system"
	CategorySpecialist Category = "specialist"
	CategoryUtility    Category = "utility"
	CategoryMobile     Category = "mobile"
)

// Status is the coarse agent lifecycle state tracked by the registry.
// Category-specific operational sub-states (e.g. a Market agent's
// Idle/Scanning/Analyzing cycle) are advisory and carried in Agent.Metadata;
// the registry itself only ever observes and transitions Status.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusRegistering  Status = "registering"
	StatusActive       Status = "active"
	StatusBusy         Status = "busy"
	StatusInactive     Status = "inactive"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Capability is a named operation an agent offers, subject to parameter,
// tag, and numeric-constraint compatibility. Capability values are freely
// shared; they carry no mutable registry-owned state.
type Capability struct {
	Name string
	// ParameterNames enumerates the parameter keys this capability accepts
	// or requires, used for the "every parameter in required exists in
	// offered" matching rule.
	ParameterNames []string
	// ParameterSchema optionally validates concrete parameter values handed
	// to this capability at dispatch time.
	ParameterSchema *jsonschema.Schema
	// NumericConstraints are named numeric bounds (e.g. "max_concurrency":
	// 5); a required capability matches an offered one only if every
	// constraint in the required set is <= the corresponding offered value.
	NumericConstraints map[string]float64
	Tags               map[string]struct{}
}

// NewCapability builds a Capability with the given name and tags.
func NewCapability(name string, tags ...string) Capability {
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	return Capability{Name: name, Tags: tagSet}
}

// Matches reports whether offered satisfies required: names equal, every
// parameter required exists in offered, required tags are a subset of
// offered tags, and every numeric constraint in required is <= the matching
// offered constraint.
func Matches(required, offered Capability) bool {
	if required.Name != offered.Name {
		return false
	}
	for _, p := range required.ParameterNames {
		if !containsParam(offered.ParameterNames, p) {
			return false
		}
	}
	for tag := range required.Tags {
		if _, ok := offered.Tags[tag]; !ok {
			return false
		}
	}
	for key, want := range required.NumericConstraints {
		got, ok := offered.NumericConstraints[key]
		if !ok || want > got {
			return false
		}
	}
	return true
}

func containsParam(params []string, name string) bool {
	for _, p := range params {
		if p == name {
			return true
		}
	}
	return false
}

// ValidateParameters validates params against the capability's parameter
// schema, if one is configured. A capability with no schema accepts any
// parameters.
func (c Capability) ValidateParameters(params map[string]any) error {
	if c.ParameterSchema == nil {
		return nil
	}
	return c.ParameterSchema.Validate(params)
}

// Agent is a registered worker: identity, category, declared capabilities,
// coarse status, and last-seen instant. Agent is created on registration and
// mutated only through Registry operations.
type Agent struct {
	ID           string
	Category     Category
	Name         string
	Description  string
	Capabilities []Capability
	Status       Status
	LastSeen     *time.Time
	Metadata     map[string]any
}

// HasCapability reports whether the agent offers a capability matching required.
func (a Agent) HasCapability(required Capability) bool {
	for _, offered := range a.Capabilities {
		if Matches(required, offered) {
			return true
		}
	}
	return false
}

// Healthy reports whether the agent's coarse status is one that can still
// receive work.
func (a Agent) Healthy() bool {
	switch a.Status {
	case StatusActive, StatusBusy:
		return true
	default:
		return false
	}
}
