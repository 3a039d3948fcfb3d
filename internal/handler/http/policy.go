package http

import (
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/response"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/hrrequest"
)

type PolicyHandler interface {
	Get(w http.ResponseWriter, r *http.Request)
}

type policyHandlerImpl struct {
	resolver *approval.Resolver
}

func NewPolicyHandler(resolver *approval.Resolver) PolicyHandler {
	return &policyHandlerImpl{resolver: resolver}
}

type policyResponse struct {
	Rules     []approval.Rule                `json:"rules"`
	TypePaths map[request.RequestType]string `json:"type_paths"`
}

// Get implements PolicyHandler.
func (h *policyHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	paths := make(map[request.RequestType]string)
	for _, t := range request.AllRequestTypes() {
		if p, ok := hrrequest.TypePath(t); ok {
			paths[t] = p
		}
	}
	response.Success(w, policyResponse{Rules: h.resolver.Rules(), TypePaths: paths})
}
