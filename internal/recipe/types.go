// Package recipe defines the recipe data model and the store that loads
// recipes from disk. A recipe is three artifacts in one directory:
// requirements.md, design.md, and recipe.yaml.
package recipe

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Priority classifies how binding a requirement is.
type Priority string

const (
	PriorityMust   Priority = "MUST"
	PriorityShould Priority = "SHOULD"
	PriorityCould  Priority = "COULD"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityMust, PriorityShould, PriorityCould:
		return true
	}
	return false
}

// ComponentType categorizes what kind of component a recipe describes.
type ComponentType string

const (
	TypeService ComponentType = "service"
	TypeAgent   ComponentType = "agent"
	TypeLibrary ComponentType = "library"
	TypeTool    ComponentType = "tool"
	TypeCore    ComponentType = "core"
)

// IsValid checks if the component type value is valid
func (t ComponentType) IsValid() bool {
	switch t {
	case TypeService, TypeAgent, TypeLibrary, TypeTool, TypeCore:
		return true
	}
	return false
}

// Requirement is a single prioritized capability statement with its
// checkable validation criteria.
type Requirement struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description"`
	Priority           Priority `json:"priority"`
	ValidationCriteria []string `json:"validation_criteria"`

	// Implemented is derived: the compliance validator sets it once it
	// finds implementing and testing evidence in the final artifact set.
	Implemented bool `json:"implemented"`
}

// Validate checks if the requirement has valid field values
func (r *Requirement) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("requirement id is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("requirement %s: description is required", r.ID)
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("requirement %s: invalid priority %q", r.ID, r.Priority)
	}
	return nil
}

// RequirementSet holds the parsed requirements document.
type RequirementSet struct {
	Purpose         string        `json:"purpose"`
	Requirements    []Requirement `json:"requirements"`
	SuccessCriteria []string      `json:"success_criteria"`
}

// Musts returns the MUST-priority requirements in document order.
func (rs *RequirementSet) Musts() []Requirement {
	var musts []Requirement
	for _, r := range rs.Requirements {
		if r.Priority == PriorityMust {
			musts = append(musts, r)
		}
	}
	return musts
}

// ByID returns the requirement with the given id, or nil.
func (rs *RequirementSet) ByID(id string) *Requirement {
	for i := range rs.Requirements {
		if rs.Requirements[i].ID == id {
			return &rs.Requirements[i]
		}
	}
	return nil
}

// ComponentDesign describes one component within a design document.
type ComponentDesign struct {
	Name           string   `json:"name"`
	Responsibility string   `json:"responsibility"`
	Interfaces     []string `json:"interfaces,omitempty"`
}

// Design holds the parsed design document.
type Design struct {
	ArchitectureSummary string            `json:"architecture_summary"`
	Components          []ComponentDesign `json:"components"`
	Interfaces          []string          `json:"interfaces"`
}

// ComponentNames returns the design's component names in document order.
func (d *Design) ComponentNames() []string {
	names := make([]string, 0, len(d.Components))
	for _, c := range d.Components {
		names = append(names, c.Name)
	}
	return names
}

// Metadata is the recipe.yaml record: identity, build-order dependencies
// (recipe names, not runtime packages), and free-form attributes.
type Metadata struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version" json:"version"`
	Type         ComponentType     `yaml:"type" json:"type"`
	Dependencies []string          `yaml:"dependencies" json:"dependencies"`
	Attributes   map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Validate checks if the metadata has valid field values
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if !semver.IsValid("v" + m.Version) {
		return fmt.Errorf("version %q is not a valid semantic version", m.Version)
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid component type: %q", m.Type)
	}
	for _, dep := range m.Dependencies {
		if dep == m.Name {
			return fmt.Errorf("recipe cannot depend on itself")
		}
	}
	return nil
}

// IsAggregate reports whether this recipe is a pure aggregation of child
// recipes produced by decomposition (no independent generation step).
func (m *Metadata) IsAggregate() bool {
	return m.Attributes["aggregate"] == "true"
}

// SelfHosting reports whether this recipe describes the orchestrator itself.
func (m *Metadata) SelfHosting() bool {
	return m.Attributes["selfHosting"] == "true"
}

// Recipe is one validated, loaded component specification. Immutable for
// the duration of a build invocation; reloading changed source text
// produces a new Recipe value with a new checksum.
type Recipe struct {
	Name     string
	Location string // directory the artifacts were loaded from; empty for synthetic recipes

	Requirements *RequirementSet
	Design       *Design
	Metadata     *Metadata

	// Raw source texts, kept for correction and decomposition requests
	// that hand the original documents to the oracle.
	RequirementsText string
	DesignText       string
	MetadataText     string

	// ContentChecksum is the sha256 of the three source texts concatenated.
	ContentChecksum string

	LoadedAt time.Time
}

// Validate checks structural validity of the fully assembled recipe.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe name is required")
	}
	if r.Metadata == nil {
		return fmt.Errorf("recipe %s: metadata is required", r.Name)
	}
	if err := r.Metadata.Validate(); err != nil {
		return fmt.Errorf("recipe %s: %w", r.Name, err)
	}
	if r.Metadata.Name != r.Name {
		return fmt.Errorf("recipe %s: metadata name %q does not match", r.Name, r.Metadata.Name)
	}
	if r.Requirements == nil || len(r.Requirements.Requirements) == 0 {
		return fmt.Errorf("recipe %s: at least one requirement is required", r.Name)
	}
	seen := make(map[string]bool)
	for i := range r.Requirements.Requirements {
		req := &r.Requirements.Requirements[i]
		if err := req.Validate(); err != nil {
			return fmt.Errorf("recipe %s: %w", r.Name, err)
		}
		if seen[req.ID] {
			return fmt.Errorf("recipe %s: duplicate requirement id %s", r.Name, req.ID)
		}
		seen[req.ID] = true
	}
	if r.Design == nil {
		return fmt.Errorf("recipe %s: design is required", r.Name)
	}
	return nil
}

// ParseError reports a malformed or missing recipe artifact. It names the
// offending artifact and location so failures are actionable without
// re-running in verbose mode.
type ParseError struct {
	Recipe   string // recipe name if known, else the directory
	Artifact string // "requirements.md", "design.md", or "recipe.yaml"
	Location string // line or section within the artifact, if known
	Msg      string
	Err      error
}

func (e *ParseError) Error() string {
	loc := e.Artifact
	if e.Location != "" {
		loc = fmt.Sprintf("%s (%s)", e.Artifact, e.Location)
	}
	if e.Err != nil {
		return fmt.Sprintf("parse error in %s, %s: %s: %v", e.Recipe, loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse error in %s, %s: %s", e.Recipe, loc, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }
