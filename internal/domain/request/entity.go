package request

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Status is the outcome of one approval stage.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

// ParseStatus normalises an upstream stage value. Unknown or empty values report ok=false.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "approved":
		return StatusApproved, true
	case "rejected":
		return StatusRejected, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// IsDecided reports whether the status is a terminal approval outcome.
func (s Status) IsDecided() bool {
	return s == StatusApproved || s == StatusRejected
}

type RequestType string

const (
	TypeLeave              RequestType = "leave"
	TypeLoan               RequestType = "loan"
	TypeFinanceClaim       RequestType = "finance_claim"
	TypeMisc               RequestType = "misc"
	TypeBusinessTrip       RequestType = "business_trip"
	TypeBank               RequestType = "bank"
	TypeResignation        RequestType = "resignation"
	TypePersonalDataChange RequestType = "personal_data_change"
)

var requestTypeAliases = map[string]RequestType{
	"leave":                TypeLeave,
	"to_leave":             TypeLeave,
	"loan":                 TypeLoan,
	"loans":                TypeLoan,
	"finance_claim":        TypeFinanceClaim,
	"misc":                 TypeMisc,
	"business_trip":        TypeBusinessTrip,
	"bank":                 TypeBank,
	"resignation":          TypeResignation,
	"personal_data_change": TypePersonalDataChange,
}

// ParseRequestType maps upstream spellings (including "to_leave" and "loans") onto the
// canonical request types.
func ParseRequestType(s string) (RequestType, bool) {
	t, ok := requestTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// AllRequestTypes lists the canonical request types.
func AllRequestTypes() []RequestType {
	return []RequestType{
		TypeLeave,
		TypeLoan,
		TypeFinanceClaim,
		TypeMisc,
		TypeBusinessTrip,
		TypeBank,
		TypeResignation,
		TypePersonalDataChange,
	}
}

type Role string

const (
	RoleEmployee           Role = "employee"
	RoleManager            Role = "manager"
	RoleHRAdmin            Role = "hr_admin"
	RoleFinanceCoordinator Role = "finance_coordinator"
	RoleFinance            Role = "finance"
	RoleCEO                Role = "ceo"
)

// NormalizeRole lowercases and trims a role name from a session or token claim.
func NormalizeRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// StageField names one of the per-stage status fields of a Request.
type StageField string

const (
	FieldNone                     StageField = ""
	FieldStatus                   StageField = "status"
	FieldHRStatus                 StageField = "hr_status"
	FieldFinanceCoordinatorStatus StageField = "finance_coordinator_status"
	FieldFinanceStatus            StageField = "finance_status"
	FieldCEOStatus                StageField = "ceo_status"
)

// StageFields returns the stage fields in pipeline order.
func StageFields() []StageField {
	return []StageField{
		FieldStatus,
		FieldHRStatus,
		FieldFinanceCoordinatorStatus,
		FieldFinanceStatus,
		FieldCEOStatus,
	}
}

// ID accepts both JSON strings and numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Submitter is the denormalised employee summary attached to a request.
type Submitter struct {
	ID         ID     `json:"id,omitempty"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`
}

// Request is an upstream HR request record. Stage fields hold the raw upstream value;
// an empty string means the stage is absent.
type Request struct {
	ID                       ID         `json:"id"`
	RequestType              string     `json:"request_type"`
	Status                   string     `json:"status,omitempty"`
	HRStatus                 string     `json:"hr_status,omitempty"`
	FinanceCoordinatorStatus string     `json:"finance_coordinator_status,omitempty"`
	FinanceStatus            string     `json:"finance_status,omitempty"`
	CEOStatus                string     `json:"ceo_status,omitempty"`
	User                     *Submitter `json:"user,omitempty"`
	AttachmentPath           string     `json:"attachment_path,omitempty"`
	Attachments              []string   `json:"attachments,omitempty"`
	CreatedAt                string     `json:"created_at,omitempty"`
}

// Type returns the canonical request type, if known.
func (r Request) Type() (RequestType, bool) {
	return ParseRequestType(r.RequestType)
}

// Stage returns the raw value of a stage field.
func (r Request) Stage(field StageField) string {
	switch field {
	case FieldStatus:
		return r.Status
	case FieldHRStatus:
		return r.HRStatus
	case FieldFinanceCoordinatorStatus:
		return r.FinanceCoordinatorStatus
	case FieldFinanceStatus:
		return r.FinanceStatus
	case FieldCEOStatus:
		return r.CEOStatus
	default:
		return ""
	}
}

// StageStatus returns the parsed stage value; absent or unknown values report ok=false.
func (r Request) StageStatus(field StageField) (Status, bool) {
	return ParseStatus(r.Stage(field))
}

// StageOrPending treats an absent stage as Pending, as the routing rules require.
func (r Request) StageOrPending(field StageField) Status {
	if s, ok := r.StageStatus(field); ok {
		return s
	}
	return StatusPending
}
