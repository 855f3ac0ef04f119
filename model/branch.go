// Package model - Components, branches and the dependency pattern rules attached to branches.
package model

// ComponentType distinguishes buildable components from products.
type ComponentType string

// Component types.
const (
	ComponentTypeComponent ComponentType = "COMPONENT"
	ComponentTypeProduct   ComponentType = "PRODUCT"
)

// Status is the lifecycle status of a component or branch.
type Status string

// Statuses.
const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// BranchType classifies a branch.
type BranchType string

// Branch types. Every component has exactly one BASE branch.
const (
	BranchTypeBase       BranchType = "BASE"
	BranchTypeRegular    BranchType = "REGULAR"
	BranchTypeFeatureSet BranchType = "FEATURE_SET"
)

// DependencyStatus is the requirement level of a child component.
type DependencyStatus string

// Dependency statuses.
const (
	DependencyRequired DependencyStatus = "REQUIRED"
	DependencyOptional DependencyStatus = "OPTIONAL"
	DependencyIgnored  DependencyStatus = "IGNORED"
)

// FallbackMode controls what happens when a pattern's target branch is missing.
type FallbackMode string

// Fallback modes. An empty mode behaves as FallbackEnabled.
const (
	FallbackEnabled  FallbackMode = "ENABLED"
	FallbackDisabled FallbackMode = "DISABLED"
)

// Component is a buildable unit or a product.
type Component struct {
	Key    string        `json:"_key,omitempty"`
	Org    string        `json:"org"`
	Name   string        `json:"name"`
	Type   ComponentType `json:"type"`
	Status Status        `json:"status,omitempty"`
}

// Archived reports whether the component is archived.
func (c Component) Archived() bool {
	return c.Status == StatusArchived
}

// DependencyPattern maps every component whose name fully matches Pattern to a
// dependency on its TargetBranchName branch.
type DependencyPattern struct {
	Key              string           `json:"key,omitempty"`
	Pattern          string           `json:"pattern"`
	TargetBranchName string           `json:"target_branch_name,omitempty"`
	FallbackToBase   FallbackMode     `json:"fallback_to_base,omitempty"`
	DefaultStatus    DependencyStatus `json:"default_status,omitempty"`
}

// Status returns the pattern's default status, REQUIRED when unset.
func (p DependencyPattern) Status() DependencyStatus {
	if p.DefaultStatus == "" {
		return DependencyRequired
	}
	return p.DefaultStatus
}

// ChildComponent is a resolved dependency of a branch.
type ChildComponent struct {
	Component string           `json:"component"`
	Branch    string           `json:"branch"`
	Release   string           `json:"release,omitempty"`
	Status    DependencyStatus `json:"status"`
}

// Branch is a line of development of a component.
type Branch struct {
	Key                string              `json:"_key,omitempty"`
	Org                string              `json:"org"`
	Component          string              `json:"component"`
	Name               string              `json:"name"`
	Type               BranchType          `json:"type,omitempty"`
	Status             Status              `json:"status,omitempty"`
	Dependencies       []ChildComponent    `json:"dependencies,omitempty"`
	DependencyPatterns []DependencyPattern `json:"dependency_patterns,omitempty"`
}

// Archived reports whether the branch is archived.
func (b Branch) Archived() bool {
	return b.Status == StatusArchived
}
