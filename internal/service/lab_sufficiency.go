package service

import (
	"github.com/ckd-screening-service/internal/domain"
)

// routingRule is one step of the lab-sufficiency decision.
type routingRule struct {
	Name    string
	Branch  domain.Branch
	Matches func(t domain.TriageResult, s domain.LabCompletenessSnapshot) bool
}

// routingRules is evaluated top-down; the first match decides the branch.
// Rules 1-3 cover every input, so falling through is an internal-logic fault.
var routingRules = []routingRule{
	{
		Name:   "kidney_panel_incomplete",
		Branch: domain.BranchMissingData,
		Matches: func(_ domain.TriageResult, s domain.LabCompletenessSnapshot) bool {
			return !s.Present(domain.LabEGFR) || !s.Present(domain.LabUACR)
		},
	},
	{
		Name:   "diabetic_without_hba1c",
		Branch: domain.BranchMissingData,
		Matches: func(t domain.TriageResult, s domain.LabCompletenessSnapshot) bool {
			return t.Patient.RiskFactors.Diabetes && !s.Present(domain.LabHbA1c)
		},
	},
	{
		Name:   "kidney_panel_complete",
		Branch: domain.BranchLabsAvailable,
		Matches: func(_ domain.TriageResult, s domain.LabCompletenessSnapshot) bool {
			return s.Present(domain.LabEGFR) && s.Present(domain.LabUACR)
		},
	},
}

// LabSufficiencyRouter decides whether a triaged patient can be risk-classified
// from labs or needs baseline testing first.
type LabSufficiencyRouter struct {
	rules []routingRule
}

// NewLabSufficiencyRouter creates a router over the standard rule order
func NewLabSufficiencyRouter() *LabSufficiencyRouter {
	return &LabSufficiencyRouter{rules: routingRules}
}

// Route returns the branch decision for the patient.
func (r *LabSufficiencyRouter) Route(triage domain.TriageResult, snapshot domain.LabCompletenessSnapshot) (domain.BranchDecision, error) {
	decision := domain.BranchDecision{MissingLabs: MissingLabs(triage, snapshot)}

	for _, rule := range r.rules {
		if rule.Matches(triage, snapshot) {
			decision.Branch = rule.Branch
			return decision, nil
		}
	}

	return decision, domain.InvariantError("lab sufficiency router", triage.Patient.ID,
		"no routing rule matched (eGFR present=%t, uACR present=%t)",
		snapshot.Present(domain.LabEGFR), snapshot.Present(domain.LabUACR))
}

// MissingLabs lists the absent labs in fixed order: eGFR, uACR, then HbA1c for diabetics.
// It is computed independently of the branch decision.
func MissingLabs(triage domain.TriageResult, snapshot domain.LabCompletenessSnapshot) []domain.LabType {
	missing := make([]domain.LabType, 0, 3)
	if !snapshot.Present(domain.LabEGFR) {
		missing = append(missing, domain.LabEGFR)
	}
	if !snapshot.Present(domain.LabUACR) {
		missing = append(missing, domain.LabUACR)
	}
	if triage.Patient.RiskFactors.Diabetes && !snapshot.Present(domain.LabHbA1c) {
		missing = append(missing, domain.LabHbA1c)
	}
	return missing
}
