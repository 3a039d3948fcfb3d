package request

import "context"

type RequestService interface {
	List(ctx context.Context, view View) (ListRequestResponse, error)
	Get(ctx context.Context, id string, view View) (RequestResponse, error)
	Decide(ctx context.Context, id string, view View, req DecisionRequest) (RequestResponse, error)
	Cancel(ctx context.Context, id string) (RequestResponse, error)
	// Breakdown never fails; an upstream error yields Available=false.
	Breakdown(ctx context.Context) BreakdownResponse
}
