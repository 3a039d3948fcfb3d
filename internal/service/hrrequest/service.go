package hrrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/apiclient"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/validator"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
)

// typePaths names the upstream collection owning each type's transition endpoints.
var typePaths = map[request.RequestType]string{
	request.TypeLeave:              "leave-requests",
	request.TypeLoan:               "loans",
	request.TypeFinanceClaim:       "finance-claims",
	request.TypeMisc:               "misc-requests",
	request.TypeBusinessTrip:       "business-trips",
	request.TypeBank:               "bank-details",
	request.TypeResignation:        "resignations",
	request.TypePersonalDataChange: "personal-data-changes",
}

// TypePath returns the upstream path segment for t.
func TypePath(t request.RequestType) (string, bool) {
	p, ok := typePaths[t]
	return p, ok
}

// UserSource yields the signed-in user whose role drives eligibility.
type UserSource interface {
	Current(ctx context.Context) (session.Session, error)
}

type RequestServiceImpl struct {
	client   *apiclient.Client
	users    UserSource
	resolver *approval.Resolver
}

func NewRequestService(client *apiclient.Client, users UserSource, resolver *approval.Resolver) request.RequestService {
	if resolver == nil {
		resolver = approval.NewResolver(nil)
	}
	return &RequestServiceImpl{client: client, users: users, resolver: resolver}
}

// List implements request.RequestService.
func (s *RequestServiceImpl) List(ctx context.Context, view request.View) (request.ListRequestResponse, error) {
	viewer, err := s.viewer(ctx, view)
	if err != nil {
		return request.ListRequestResponse{}, err
	}

	var records []request.Request
	q := url.Values{"view": {string(view)}}
	if err := s.getJSON(ctx, "/hr-requests", q, &records); err != nil {
		return request.ListRequestResponse{}, fmt.Errorf("failed to list requests: %w", err)
	}

	out := request.ListRequestResponse{View: view, Requests: make([]request.RequestResponse, 0, len(records))}
	for _, r := range records {
		out.Requests = append(out.Requests, s.decorate(r, viewer))
	}
	return out, nil
}

// Get implements request.RequestService.
func (s *RequestServiceImpl) Get(ctx context.Context, id string, view request.View) (request.RequestResponse, error) {
	viewer, err := s.viewer(ctx, view)
	if err != nil {
		return request.RequestResponse{}, err
	}
	r, err := s.fetch(ctx, id, view)
	if err != nil {
		return request.RequestResponse{}, err
	}
	return s.decorate(r, viewer), nil
}

// Decide implements request.RequestService.
func (s *RequestServiceImpl) Decide(ctx context.Context, id string, view request.View, req request.DecisionRequest) (request.RequestResponse, error) {
	if err := req.Validate(); err != nil {
		return request.RequestResponse{}, err
	}
	viewer, err := s.viewer(ctx, view)
	if err != nil {
		return request.RequestResponse{}, err
	}
	r, err := s.fetch(ctx, id, view)
	if err != nil {
		return request.RequestResponse{}, err
	}

	decision, err := s.resolver.ApplyDecision(r, viewer, req.Action)
	if err != nil {
		return request.RequestResponse{}, err
	}
	typePath, err := s.typePath(r)
	if err != nil {
		return request.RequestResponse{}, err
	}

	update := request.StatusUpdate{Field: decision.Field, Status: decision.Value, Reason: req.Reason}
	if err := s.client.DoJSON(ctx, http.MethodPatch, path.Join("/", typePath, id, "status"), update, nil); err != nil {
		return request.RequestResponse{}, fmt.Errorf("failed to update %s: %w", decision.Field, err)
	}
	slog.Info("request decided", "request_id", id, "type", r.RequestType, "field", decision.Field, "status", decision.Value)

	return s.Get(ctx, id, view)
}

// Cancel implements request.RequestService.
func (s *RequestServiceImpl) Cancel(ctx context.Context, id string) (request.RequestResponse, error) {
	viewer, err := s.viewer(ctx, request.ViewMine)
	if err != nil {
		return request.RequestResponse{}, err
	}
	r, err := s.fetch(ctx, id, request.ViewMine)
	if err != nil {
		return request.RequestResponse{}, err
	}
	if !s.resolver.CanCancel(r, viewer) {
		return request.RequestResponse{}, request.ErrCannotCancel
	}
	typePath, err := s.typePath(r)
	if err != nil {
		return request.RequestResponse{}, err
	}

	if err := s.client.DoJSON(ctx, http.MethodPost, path.Join("/", typePath, id, "cancel"), nil, nil); err != nil {
		return request.RequestResponse{}, fmt.Errorf("failed to cancel request: %w", err)
	}
	slog.Info("request cancelled", "request_id", id, "type", r.RequestType)

	return s.Get(ctx, id, request.ViewMine)
}

// Breakdown implements request.RequestService.
func (s *RequestServiceImpl) Breakdown(ctx context.Context) request.BreakdownResponse {
	counts := map[string]int{}
	if err := s.getJSON(ctx, "/hr-requests/breakdown", nil, &counts); err != nil {
		slog.Warn("request breakdown unavailable", "error", err)
		return request.BreakdownResponse{Available: false}
	}
	return request.BreakdownResponse{Available: true, Counts: counts}
}

func (s *RequestServiceImpl) viewer(ctx context.Context, view request.View) (request.Viewer, error) {
	current, err := s.users.Current(ctx)
	if err != nil {
		return request.Viewer{}, err
	}
	return request.Viewer{
		Role:         request.NormalizeRole(current.User.Role),
		AssignedView: view.IsAssigned(),
	}, nil
}

func (s *RequestServiceImpl) fetch(ctx context.Context, id string, view request.View) (request.Request, error) {
	if !validator.IsValidRequestID(id) {
		return request.Request{}, request.ErrRequestNotFound
	}

	var r request.Request
	q := url.Values{"view": {string(view)}}
	if err := s.getJSON(ctx, path.Join("/hr-requests", id), q, &r); err != nil {
		if errors.Is(err, apiclient.ErrNotFound) {
			return request.Request{}, fmt.Errorf("%w: %w", request.ErrRequestNotFound, err)
		}
		return request.Request{}, fmt.Errorf("failed to get request %s: %w", id, err)
	}
	return r, nil
}

func (s *RequestServiceImpl) getJSON(ctx context.Context, p string, q url.Values, out any) error {
	resp, err := s.client.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: p, Query: q})
	if err != nil {
		return err
	}
	return apiclient.DecodeData(resp.Body, out)
}

func (s *RequestServiceImpl) typePath(r request.Request) (string, error) {
	t, ok := r.Type()
	if !ok {
		return "", fmt.Errorf("%w: %q", request.ErrUnknownRequestType, r.RequestType)
	}
	p, ok := TypePath(t)
	if !ok {
		return "", fmt.Errorf("%w: %q", request.ErrUnknownRequestType, r.RequestType)
	}
	return p, nil
}

func (s *RequestServiceImpl) decorate(r request.Request, viewer request.Viewer) request.RequestResponse {
	e := s.resolver.CanAct(r, viewer)
	return request.RequestResponse{
		Request:       r,
		OverallStatus: s.resolver.ResolveOverallStatus(r),
		CanAct:        e.CanAct,
		ActionField:   e.Field,
		CanCancel:     s.resolver.CanCancel(r, viewer),
	}
}
