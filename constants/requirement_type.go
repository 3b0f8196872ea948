package constants

import (
	"strings"
)

type RequirementType string

const (
	Functional    RequirementType = "functional"
	NonFunctional RequirementType = "non_functional"
	Business      RequirementType = "business"
	Technical     RequirementType = "technical"
	Constraint    RequirementType = "constraint"
	Interface     RequirementType = "interface"
	Data          RequirementType = "data"
	Security      RequirementType = "security"
)

// DefaultRequirementType is what the extractor is told to use when unsure.
const DefaultRequirementType = Functional

var allRequirementTypes = []RequirementType{
	Functional,
	NonFunctional,
	Business,
	Technical,
	Constraint,
	Interface,
	Data,
	Security,
}

func RequirementTypes() []string {
	result := make([]string, len(allRequirementTypes))
	for i, t := range allRequirementTypes {
		result[i] = string(t)
	}
	return result
}

// CanonicalizeType maps a provider or reviewer label onto the vocabulary.
// The boolean is false when the label is not recognized.
func CanonicalizeType(input string) (RequirementType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	synonyms := map[string]RequirementType{
		"nfr":            NonFunctional,
		"nonfunctional":  NonFunctional,
		"quality":        NonFunctional,
		"performance":    NonFunctional,
		"fr":             Functional,
		"feature":        Functional,
		"user_story":     Functional,
		"business_rule":  Business,
		"regulatory":     Constraint,
		"compliance":     Constraint,
		"api":            Interface,
		"integration":    Interface,
		"ui":             Interface,
		"data_retention": Data,
		"privacy":        Security,
	}
	if t, ok := synonyms[normalized]; ok {
		return t, true
	}
	for _, t := range allRequirementTypes {
		if normalized == string(t) {
			return t, true
		}
	}
	return "", false
}

// RequirementPriority is stored on promoted requirements.
type RequirementPriority string

const (
	PriorityLow      RequirementPriority = "low"
	PriorityMedium   RequirementPriority = "medium"
	PriorityHigh     RequirementPriority = "high"
	PriorityCritical RequirementPriority = "critical"
)

func ParsePriority(s string) (RequirementPriority, bool) {
	switch p := RequirementPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, true
	case "":
		return PriorityMedium, true
	}
	return "", false
}

// RequirementStatus is the initial workflow state of a promoted requirement.
type RequirementStatus string

const (
	RequirementDraft    RequirementStatus = "draft"
	RequirementInReview RequirementStatus = "in_review"
	RequirementApproved RequirementStatus = "approved"
)

func ParseRequirementStatus(s string) (RequirementStatus, bool) {
	switch st := RequirementStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case RequirementDraft, RequirementInReview, RequirementApproved:
		return st, true
	case "":
		return RequirementDraft, true
	}
	return "", false
}
