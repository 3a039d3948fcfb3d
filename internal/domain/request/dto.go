package request

import (
	"strings"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/validator"
)

// View selects between the "assigned to me" queue and the viewer's own submissions.
type View string

const (
	ViewAssigned View = "assigned"
	ViewMine     View = "mine"
)

// ParseView defaults to ViewMine for an empty value.
func ParseView(s string) (View, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mine":
		return ViewMine, true
	case "assigned":
		return ViewAssigned, true
	default:
		return "", false
	}
}

func (v View) IsAssigned() bool {
	return v == ViewAssigned
}

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve":
		return ActionApprove, true
	case "reject":
		return ActionReject, true
	default:
		return "", false
	}
}

// Viewer is who is looking at a request and from which list.
type Viewer struct {
	Role         Role
	AssignedView bool
}

// Decision is the stage write an approve/reject resolves to.
type Decision struct {
	Field StageField `json:"field"`
	Value Status     `json:"status"`
}

type DecisionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (r *DecisionRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.Action) {
		errs = append(errs, validator.ValidationError{
			Field:   "action",
			Message: "action is required",
		})
	} else if _, ok := ParseAction(r.Action); !ok {
		errs = append(errs, validator.ValidationError{
			Field:   "action",
			Message: "action must be one of: approve, reject",
		})
	}
	if len(r.Reason) > 500 {
		errs = append(errs, validator.ValidationError{
			Field:   "reason",
			Message: "reason must not exceed 500 characters",
		})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// StatusUpdate is the body sent to an upstream status-transition endpoint.
type StatusUpdate struct {
	Field  StageField `json:"field"`
	Status Status     `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// RequestResponse is a Request decorated with the resolved approval state.
type RequestResponse struct {
	Request
	OverallStatus Status     `json:"overall_status"`
	CanAct        bool       `json:"can_act"`
	ActionField   StageField `json:"action_field,omitempty"`
	CanCancel     bool       `json:"can_cancel"`
}

type ListRequestResponse struct {
	View     View              `json:"view"`
	Requests []RequestResponse `json:"requests"`
}

// BreakdownResponse holds per-status counts; Available is false when the upstream fetch failed.
type BreakdownResponse struct {
	Available bool           `json:"available"`
	Counts    map[string]int `json:"counts,omitempty"`
}
