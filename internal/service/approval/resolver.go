package approval

import (
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
)

// Eligibility says whether a viewer may approve or reject a request now, and which stage
// field the decision writes.
type Eligibility struct {
	CanAct bool               `json:"can_act"`
	Field  request.StageField `json:"field,omitempty"`
}

type Resolver struct {
	rules []Rule
}

// NewResolver builds a resolver over rules. A nil slice selects the default table.
func NewResolver(rules []Rule) *Resolver {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Resolver{rules: rules}
}

// Rules returns a copy of the table the resolver evaluates, in evaluation order.
func (r *Resolver) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ResolveOverallStatus collapses the present stage values into one display status.
// Rejection anywhere wins; all-approved is Approved; otherwise the manager stage, or Pending.
func ResolveOverallStatus(req request.Request) request.Status {
	var present []request.Status
	for _, field := range request.StageFields() {
		if s, ok := req.StageStatus(field); ok {
			present = append(present, s)
		}
	}
	if len(present) == 0 {
		return request.StatusPending
	}

	allApproved := true
	for _, s := range present {
		if s == request.StatusRejected {
			return request.StatusRejected
		}
		if s != request.StatusApproved {
			allApproved = false
		}
	}
	if allApproved {
		return request.StatusApproved
	}

	if s, ok := req.StageStatus(request.FieldStatus); ok {
		return s
	}
	return request.StatusPending
}

func (r *Resolver) ResolveOverallStatus(req request.Request) request.Status {
	return ResolveOverallStatus(req)
}

// CanAct evaluates the routing table for the viewer. Nothing is actionable outside the
// assigned view.
func (r *Resolver) CanAct(req request.Request, viewer request.Viewer) Eligibility {
	if !viewer.AssignedView {
		return Eligibility{}
	}
	role := request.NormalizeRole(string(viewer.Role))
	for _, rule := range r.rules {
		if rule.matches(req, role) {
			return Eligibility{CanAct: true, Field: rule.Acts}
		}
	}
	return Eligibility{}
}

// ApplyDecision resolves an approve/reject into the stage write the caller must persist.
// The request itself is never modified.
func (r *Resolver) ApplyDecision(req request.Request, viewer request.Viewer, action string) (request.Decision, error) {
	a, ok := request.ParseAction(action)
	if !ok {
		return request.Decision{}, request.ErrInvalidAction
	}
	e := r.CanAct(req, viewer)
	if !e.CanAct {
		return request.Decision{}, request.ErrInvalidTransition
	}

	value := request.StatusApproved
	if a == request.ActionReject {
		value = request.StatusRejected
	}
	return request.Decision{Field: e.Field, Value: value}, nil
}

// CanCancel allows the submitter to withdraw from their own view while no stage has been
// decided and the request is still pending overall.
func (r *Resolver) CanCancel(req request.Request, viewer request.Viewer) bool {
	if viewer.AssignedView {
		return false
	}
	if ResolveOverallStatus(req) != request.StatusPending {
		return false
	}
	for _, field := range request.StageFields() {
		if s, ok := req.StageStatus(field); ok && s.IsDecided() {
			return false
		}
	}
	return true
}
