package api

// DispatchRequest is the body of POST /api/dispatch.
type DispatchRequest struct {
	ClientID string `json:"client_id"`
	Request  string `json:"request"`
	TaskName string `json:"task_name"`
}

// DispatchResponse confirms a dispatched task.
type DispatchResponse struct {
	Status    string `json:"status"`
	TaskName  string `json:"task_name"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
}

// ErrorResponse carries a human-readable failure detail.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ClientsResponse lists the ids of currently connected clients.
type ClientsResponse struct {
	OnlineClients []string `json:"online_clients"`
}

// TaskResultResponse reports a task's recorded outcome. Status is "pending"
// until a result lands, then "done" with the result payload.
type TaskResultResponse struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
}

// HealthResponse is the health probe body.
type HealthResponse struct {
	Status        string   `json:"status"`
	OnlineClients []string `json:"online_clients"`
}
