package hrrequest

import (
	"context"
	"testing"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/fixtures"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/apiclient"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/memory"
	authsvc "github.com/cmlabs-hris/hris-selfservice-go/internal/service/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginAs(t *testing.T, up *fixtures.Upstream, email string) request.RequestService {
	t.Helper()
	manager := session.NewManager(memory.NewKV().Namespace(email), nil)
	client, err := apiclient.New(apiclient.Config{BaseURL: up.URL(), Timeout: 5 * time.Second}, manager)
	require.NoError(t, err)

	_, err = authsvc.NewAuthService(client, manager).Login(context.Background(), auth.LoginRequest{Email: email, Password: fixtures.Password})
	require.NoError(t, err)

	return NewRequestService(client, manager, nil)
}

func byID(t *testing.T, list request.ListRequestResponse, id string) request.RequestResponse {
	t.Helper()
	for _, r := range list.Requests {
		if r.ID.String() == id {
			return r
		}
	}
	t.Fatalf("request %s not in list", id)
	return request.RequestResponse{}
}

func TestRequestService_ListDecorates(t *testing.T) {
	up := fixtures.NewUpstream(t)
	ctx := context.Background()

	t.Run("manager assigned view", func(t *testing.T) {
		svc := loginAs(t, up, "manager@example.com")
		list, err := svc.List(ctx, request.ViewAssigned)
		require.NoError(t, err)
		assert.Len(t, list.Requests, len(fixtures.DefaultRequests()))

		leave := byID(t, list, "101")
		assert.True(t, leave.CanAct)
		assert.Equal(t, request.FieldStatus, leave.ActionField)
		assert.Equal(t, request.StatusPending, leave.OverallStatus)
		assert.False(t, leave.CanCancel)

		trip := byID(t, list, "105")
		assert.Equal(t, request.StatusRejected, trip.OverallStatus)
		assert.False(t, trip.CanAct)
	})

	t.Run("finance acts on coordinated claim", func(t *testing.T) {
		svc := loginAs(t, up, "finance@example.com")
		list, err := svc.List(ctx, request.ViewAssigned)
		require.NoError(t, err)

		claim := byID(t, list, "103")
		assert.True(t, claim.CanAct)
		assert.Equal(t, request.FieldFinanceStatus, claim.ActionField)
	})

	t.Run("own view never acts", func(t *testing.T) {
		svc := loginAs(t, up, "employee@example.com")
		list, err := svc.List(ctx, request.ViewMine)
		require.NoError(t, err)
		require.NotEmpty(t, list.Requests)
		for _, r := range list.Requests {
			assert.False(t, r.CanAct, "request %s", r.ID)
		}
		assert.True(t, byID(t, list, "101").CanCancel)
		assert.False(t, byID(t, list, "102").CanCancel)
	})
}

func TestRequestService_Decide(t *testing.T) {
	up := fixtures.NewUpstream(t)
	ctx := context.Background()
	svc := loginAs(t, up, "hr@example.com")

	got, err := svc.Decide(ctx, "102", request.ViewAssigned, request.DecisionRequest{Action: "approve"})
	require.NoError(t, err)
	assert.Equal(t, "Approved", got.HRStatus)
	assert.Equal(t, request.StatusApproved, got.OverallStatus)
	assert.False(t, got.CanAct)

	stored, _ := up.Request("102")
	assert.Equal(t, "Approved", stored.HRStatus)

	_, err = svc.Decide(ctx, "101", request.ViewAssigned, request.DecisionRequest{Action: "approve"})
	assert.ErrorIs(t, err, request.ErrInvalidTransition, "hr waits for the manager on leave")

	_, err = svc.Decide(ctx, "104", request.ViewMine, request.DecisionRequest{Action: "approve"})
	assert.ErrorIs(t, err, request.ErrInvalidTransition)

	_, err = svc.Decide(ctx, "104", request.ViewAssigned, request.DecisionRequest{Action: "maybe"})
	assert.Error(t, err)

	_, err = svc.Decide(ctx, "999", request.ViewAssigned, request.DecisionRequest{Action: "reject"})
	assert.ErrorIs(t, err, request.ErrRequestNotFound)
	assert.ErrorIs(t, err, apiclient.ErrNotFound)
}

func TestRequestService_LoanPipeline(t *testing.T) {
	up := fixtures.NewUpstream(t)
	ctx := context.Background()

	for _, email := range []string{"hr@example.com", "finance@example.com", "ceo@example.com"} {
		_, err := loginAs(t, up, email).Decide(ctx, "104", request.ViewAssigned, request.DecisionRequest{Action: "approve"})
		require.NoError(t, err, email)
	}

	stored, _ := up.Request("104")
	assert.Equal(t, "Approved", stored.HRStatus)
	assert.Equal(t, "Approved", stored.FinanceStatus)
	assert.Equal(t, "Approved", stored.CEOStatus)
}

func TestRequestService_Cancel(t *testing.T) {
	up := fixtures.NewUpstream(t)
	ctx := context.Background()
	svc := loginAs(t, up, "employee@example.com")

	got, err := svc.Cancel(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, got.OverallStatus)
	assert.False(t, got.CanCancel)

	_, err = svc.Cancel(ctx, "102")
	assert.ErrorIs(t, err, request.ErrCannotCancel)
}

func TestRequestService_Breakdown(t *testing.T) {
	up := fixtures.NewUpstream(t)
	ctx := context.Background()
	svc := loginAs(t, up, "manager@example.com")

	b := svc.Breakdown(ctx)
	assert.True(t, b.Available)
	assert.Equal(t, 1, b.Counts["rejected"])

	up.FailBreakdown.Store(true)
	b = svc.Breakdown(ctx)
	assert.False(t, b.Available)
	assert.Nil(t, b.Counts)
}

func TestRequestService_RefreshesExpiredToken(t *testing.T) {
	up := fixtures.NewUpstream(t)
	ctx := context.Background()
	svc := loginAs(t, up, "manager@example.com")

	up.ExpireAccessTokens()
	_, err := svc.List(ctx, request.ViewAssigned)
	require.NoError(t, err)
	assert.EqualValues(t, 1, up.RefreshCalls.Load())
}

func TestTypePath(t *testing.T) {
	for _, rt := range request.AllRequestTypes() {
		p, ok := TypePath(rt)
		assert.True(t, ok, rt)
		assert.NotEmpty(t, p)
	}
}
