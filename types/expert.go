package types

import "time"

// ExpertRequest is the uniform request every expert collaborator accepts.
// The deadline travels on the context; Deadline mirrors it for transports
// that serialize the request.
type ExpertRequest struct {
	ExpertID string         `json:"expert_id"`
	OwnerID  string         `json:"owner_id"`
	Input    map[string]any `json:"input"`
	Deadline time.Time      `json:"deadline,omitempty"`
}

// ExpertStatus is the outcome reported by an expert.
type ExpertStatus string

const (
	ExpertSuccess ExpertStatus = "success"
	ExpertFailure ExpertStatus = "failure"
)

// ExpertResponse is the uniform response every expert collaborator returns.
type ExpertResponse struct {
	Status      ExpertStatus   `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// OK reports whether the expert reported success.
func (r *ExpertResponse) OK() bool {
	return r != nil && r.Status == ExpertSuccess
}
