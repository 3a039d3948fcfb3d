package fixtures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
)

// Password is shared by every seeded account.
const Password = "password123"

// ==========================================
// SEEDED ACCOUNTS
// ==========================================

var Users = map[string]session.User{
	"employee@example.com": {ID: "1", Name: "Dewi Lestari", Email: "employee@example.com", Role: "employee", Department: "Engineering", JobTitle: "Engineer"},
	"manager@example.com":  {ID: "2", Name: "Budi Santoso", Email: "manager@example.com", Role: "manager", Department: "Engineering", JobTitle: "Engineering Manager"},
	"hr@example.com":       {ID: "3", Name: "Rina Wijaya", Email: "hr@example.com", Role: "hr_admin", Department: "People", JobTitle: "HR Admin"},
	"fc@example.com":       {ID: "4", Name: "Agus Pratama", Email: "fc@example.com", Role: "finance_coordinator", Department: "Finance", JobTitle: "Finance Coordinator"},
	"finance@example.com":  {ID: "5", Name: "Sari Utami", Email: "finance@example.com", Role: "finance", Department: "Finance", JobTitle: "Finance Officer"},
	"ceo@example.com":      {ID: "6", Name: "Hendra Kusuma", Email: "ceo@example.com", Role: "ceo", Department: "Board", JobTitle: "CEO"},
}

// ==========================================
// SEEDED REQUESTS
// ==========================================

// DefaultRequests returns a fresh copy of the seeded requests, all submitted by the employee.
func DefaultRequests() []request.Request {
	submitter := &request.Submitter{ID: "1", Name: "Dewi Lestari", Department: "Engineering", JobTitle: "Engineer"}
	return []request.Request{
		{ID: "101", RequestType: "to_leave", Status: "Pending", User: submitter, CreatedAt: "2026-09-01T08:00:00Z"},
		{ID: "102", RequestType: "to_leave", Status: "Approved", HRStatus: "Pending", User: submitter, CreatedAt: "2026-09-02T08:00:00Z"},
		{ID: "103", RequestType: "finance_claim", HRStatus: "Approved", FinanceCoordinatorStatus: "Approved", FinanceStatus: "Pending", User: submitter, Attachments: []string{"receipts/103.pdf"}},
		{ID: "104", RequestType: "loans", User: submitter},
		{ID: "105", RequestType: "business_trip", Status: "Rejected", HRStatus: "Pending", User: submitter},
		{ID: "106", RequestType: "bank", User: submitter},
	}
}

// ==========================================
// FAKE UPSTREAM
// ==========================================

// Upstream is an in-process stand-in for the HR REST API.
type Upstream struct {
	Server *httptest.Server

	// AccessTTL is the lifetime stamped into issued access tokens.
	AccessTTL time.Duration
	// FailBreakdown makes the breakdown endpoint return 500.
	FailBreakdown atomic.Bool
	// RejectRefresh makes /refresh answer 401.
	RejectRefresh atomic.Bool

	Logins       atomic.Int32
	RefreshCalls atomic.Int32

	signer *jwtauth.JWTAuth

	mu       sync.Mutex
	seq      int
	access   map[string]session.User
	refresh  map[string]session.User
	requests map[string]*request.Request
	order    []string
}

// NewUpstream starts the fake API. It is closed when the test ends.
func NewUpstream(t interface{ Cleanup(func()) }) *Upstream {
	u := &Upstream{
		AccessTTL: 15 * time.Minute,
		signer:    jwtauth.New("HS256", []byte("fixture-upstream-secret"), nil),
		access:    make(map[string]session.User),
		refresh:   make(map[string]session.User),
		requests:  make(map[string]*request.Request),
	}
	for _, r := range DefaultRequests() {
		u.requests[r.ID.String()] = &r
		u.order = append(u.order, r.ID.String())
	}
	u.Server = httptest.NewServer(u.routes())
	t.Cleanup(u.Server.Close)
	return u
}

func (u *Upstream) URL() string {
	return u.Server.URL
}

// ExpireAccessTokens invalidates every issued access token; refresh tokens stay valid.
func (u *Upstream) ExpireAccessTokens() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.access = make(map[string]session.User)
}

// Request returns a copy of the stored request.
func (u *Upstream) Request(id string) (request.Request, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.requests[id]
	if !ok {
		return request.Request{}, false
	}
	return *r, true
}

func (u *Upstream) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/login", u.login)
	r.Post("/refresh", u.refreshToken)

	r.Group(func(r chi.Router) {
		r.Use(u.authenticate)
		r.Get("/hr-requests", u.list)
		r.Get("/hr-requests/breakdown", u.breakdown)
		r.Get("/hr-requests/{id}", u.get)
		r.Patch("/{typePath}/{id}/status", u.updateStatus)
		r.Post("/{typePath}/{id}/cancel", u.cancel)
	})
	return r
}

func (u *Upstream) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u.mu.Lock()
		user, ok := u.access[tok]
		u.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (u *Upstream) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	user, ok := Users[strings.ToLower(body.Email)]
	if !ok || body.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	u.Logins.Add(1)

	access, refresh, err := u.issue(user)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          user,
	})
}

func (u *Upstream) refreshToken(w http.ResponseWriter, r *http.Request) {
	u.RefreshCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	u.mu.Lock()
	user, ok := u.refresh[body.RefreshToken]
	u.mu.Unlock()
	if !ok || u.RejectRefresh.Load() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh token invalid"})
		return
	}

	access, _, err := u.issue(user)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"access_token": access}})
}

func (u *Upstream) issue(user session.User) (string, string, error) {
	u.mu.Lock()
	u.seq++
	seq := u.seq
	u.mu.Unlock()

	claims := map[string]any{"sub": user.ID, "role": user.Role, "jti": fmt.Sprintf("a-%d", seq)}
	jwtauth.SetExpiry(claims, time.Now().Add(u.AccessTTL))
	_, access, err := u.signer.Encode(claims)
	if err != nil {
		return "", "", err
	}
	refresh := fmt.Sprintf("refresh-%s-%d", user.ID, seq)

	u.mu.Lock()
	u.access[access] = user
	u.refresh[refresh] = user
	u.mu.Unlock()
	return access, refresh, nil
}

func (u *Upstream) list(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	mine := r.URL.Query().Get("view") != "assigned"

	u.mu.Lock()
	out := make([]request.Request, 0, len(u.order))
	for _, id := range u.order {
		req := u.requests[id]
		own := req.User != nil && req.User.ID.String() == user.ID
		if own == mine {
			out = append(out, *req)
		}
	}
	u.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (u *Upstream) get(w http.ResponseWriter, r *http.Request) {
	req, ok := u.Request(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "request not found"})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (u *Upstream) breakdown(w http.ResponseWriter, r *http.Request) {
	if u.FailBreakdown.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "breakdown failed"})
		return
	}
	counts := map[string]int{}
	u.mu.Lock()
	for _, req := range u.requests {
		counts[strings.ToLower(string(approval.ResolveOverallStatus(*req)))]++
	}
	u.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": counts})
}

func (u *Upstream) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body request.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	req, ok := u.requests[chi.URLParam(r, "id")]
	if !ok || !u.ownsPath(req, chi.URLParam(r, "typePath")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "request not found"})
		return
	}
	value := string(body.Status)
	switch body.Field {
	case request.FieldStatus:
		req.Status = value
	case request.FieldHRStatus:
		req.HRStatus = value
	case request.FieldFinanceCoordinatorStatus:
		req.FinanceCoordinatorStatus = value
	case request.FieldFinanceStatus:
		req.FinanceStatus = value
	case request.FieldCEOStatus:
		req.CEOStatus = value
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "unknown field"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": req})
}

func (u *Upstream) cancel(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	req, ok := u.requests[chi.URLParam(r, "id")]
	if !ok || !u.ownsPath(req, chi.URLParam(r, "typePath")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "request not found"})
		return
	}
	req.Status = string(request.StatusCancelled)
	w.WriteHeader(http.StatusNoContent)
}

var typePaths = map[request.RequestType]string{
	request.TypeLeave:        "leave-requests",
	request.TypeLoan:         "loans",
	request.TypeFinanceClaim: "finance-claims",
	request.TypeMisc:         "misc-requests",
	request.TypeBusinessTrip: "business-trips",
	request.TypeBank:         "bank-details",
}

func (u *Upstream) ownsPath(req *request.Request, typePath string) bool {
	t, ok := req.Type()
	return ok && typePaths[t] == typePath
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
