package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(leadStructLevel, Lead{})
	v.RegisterStructValidation(subscriptionStructLevel, Subscription{})
	return v
}

// Validatable is implemented by every persisted record.
type Validatable interface {
	Validate() error
}

// leadStructLevel enforces the cross-field lead invariants: an accepted
// proposal only exists on a completed lead, and an active lead always has a
// deadline.
func leadStructLevel(sl validator.StructLevel) {
	l := sl.Current().Interface().(Lead)
	if l.AcceptedProposalID != nil && l.Status != LeadStatusCompleted {
		sl.ReportError(l.AcceptedProposalID, "AcceptedProposalID", "accepted_proposal_id", "completed_only", "")
	}
	if l.Status == LeadStatusActive && l.ProposalDeadline == nil {
		sl.ReportError(l.ProposalDeadline, "ProposalDeadline", "proposal_deadline", "required_while_active", "")
	}
	if l.BudgetMax > 0 && l.BudgetMax < l.BudgetMin {
		sl.ReportError(l.BudgetMax, "BudgetMax", "budget_max", "gtefield", "BudgetMin")
	}
}

func subscriptionStructLevel(sl validator.StructLevel) {
	s := sl.Current().Interface().(Subscription)
	if s.PlanType != PlanFree && s.ProposalsLimit != UnlimitedProposals {
		sl.ReportError(s.ProposalsLimit, "ProposalsLimit", "proposals_limit", "unlimited_for_paid", "")
	}
	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(*s.CurrentPeriodStart) {
		sl.ReportError(s.CurrentPeriodEnd, "CurrentPeriodEnd", "current_period_end", "after_start", "")
	}
}
