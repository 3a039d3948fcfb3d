package approval

import "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"

// Condition requires a stage to hold a status. Absent stages count as Pending.
type Condition struct {
	Field  request.StageField `json:"field"`
	Status request.Status     `json:"status"`
}

// Rule lets Role act on field Acts for any of Types once every condition in When holds.
type Rule struct {
	Role  request.Role          `json:"role"`
	Types []request.RequestType `json:"request_types"`
	When  []Condition           `json:"when"`
	Acts  request.StageField    `json:"acts_on"`
}

// managerFirst are the request types whose pipeline starts with the line manager.
var managerFirst = []request.RequestType{
	request.TypeLeave,
	request.TypeMisc,
	request.TypeBusinessTrip,
	request.TypeResignation,
	request.TypePersonalDataChange,
}

var defaultRules = []Rule{
	{
		Role:  request.RoleManager,
		Types: managerFirst,
		When:  []Condition{{request.FieldStatus, request.StatusPending}},
		Acts:  request.FieldStatus,
	},
	{
		Role:  request.RoleHRAdmin,
		Types: []request.RequestType{request.TypeBank, request.TypeFinanceClaim, request.TypeLoan},
		When:  []Condition{{request.FieldHRStatus, request.StatusPending}},
		Acts:  request.FieldHRStatus,
	},
	{
		Role:  request.RoleHRAdmin,
		Types: managerFirst,
		When: []Condition{
			{request.FieldStatus, request.StatusApproved},
			{request.FieldHRStatus, request.StatusPending},
		},
		Acts: request.FieldHRStatus,
	},
	{
		Role:  request.RoleFinanceCoordinator,
		Types: []request.RequestType{request.TypeFinanceClaim},
		When: []Condition{
			{request.FieldHRStatus, request.StatusApproved},
			{request.FieldFinanceCoordinatorStatus, request.StatusPending},
		},
		Acts: request.FieldFinanceCoordinatorStatus,
	},
	{
		Role:  request.RoleFinance,
		Types: []request.RequestType{request.TypeFinanceClaim},
		When: []Condition{
			{request.FieldFinanceCoordinatorStatus, request.StatusApproved},
			{request.FieldFinanceStatus, request.StatusPending},
		},
		Acts: request.FieldFinanceStatus,
	},
	{
		Role:  request.RoleFinance,
		Types: []request.RequestType{request.TypeLoan},
		When: []Condition{
			{request.FieldHRStatus, request.StatusApproved},
			{request.FieldFinanceStatus, request.StatusPending},
		},
		Acts: request.FieldFinanceStatus,
	},
	{
		Role:  request.RoleCEO,
		Types: []request.RequestType{request.TypeLoan},
		When: []Condition{
			{request.FieldFinanceStatus, request.StatusApproved},
			{request.FieldCEOStatus, request.StatusPending},
		},
		Acts: request.FieldCEOStatus,
	},
}

// DefaultRules returns a copy of the organisational routing table.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

func (r Rule) matches(req request.Request, role request.Role) bool {
	if r.Role != role {
		return false
	}
	t, ok := req.Type()
	if !ok || !containsType(r.Types, t) {
		return false
	}
	for _, c := range r.When {
		if req.StageOrPending(c.Field) != c.Status {
			return false
		}
	}
	return true
}

func containsType(types []request.RequestType, t request.RequestType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
