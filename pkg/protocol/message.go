// Package protocol defines the wire messages exchanged between the hub and
// its clients. Every message is a flat JSON object with an uppercase-snake
// "type" discriminator; the remaining fields depend on the type.
package protocol

// Kind discriminates wire messages.
type Kind string

const (
	KindRegister           Kind = "REGISTER"
	KindRegisterConfirm    Kind = "REGISTER_CONFIRM"
	KindRegisterError      Kind = "REGISTER_ERROR"
	KindHeartbeat          Kind = "HEARTBEAT"
	KindHeartbeatAck       Kind = "HEARTBEAT_ACK"
	KindTask               Kind = "TASK"
	KindTaskAssignment     Kind = "TASK_ASSIGNMENT"
	KindAck                Kind = "ACK"
	KindCommand            Kind = "COMMAND"
	KindCommandResults     Kind = "COMMAND_RESULTS"
	KindTaskEnd            Kind = "TASK_END"
	KindDeviceInfoRequest  Kind = "DEVICE_INFO_REQUEST"
	KindDeviceInfoResponse Kind = "DEVICE_INFO_RESPONSE"
	KindError              Kind = "ERROR"
)

// ClientType identifies what a connecting peer is.
type ClientType string

const (
	ClientTypeDevice        ClientType = "device"
	ClientTypeConstellation ClientType = "constellation"
)

// Valid reports whether t is a known client type.
func (t ClientType) Valid() bool {
	return t == ClientTypeDevice || t == ClientTypeConstellation
}

// TaskStatus is the terminal status carried by TASK_END.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Message is implemented by every wire message.
type Message interface {
	MessageKind() Kind
}

// Register is the first message a client sends after connecting.
type Register struct {
	Type       Kind           `json:"type"`
	ClientID   string         `json:"client_id"`
	ClientType ClientType     `json:"client_type"`
	Platform   string         `json:"platform"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// TargetID names the device a constellation intends to orchestrate.
	TargetID string `json:"target_id,omitempty"`
}

func (*Register) MessageKind() Kind { return KindRegister }

// RegisterConfirm acknowledges a successful registration.
type RegisterConfirm struct {
	Type     Kind   `json:"type"`
	ClientID string `json:"client_id"`
}

func (*RegisterConfirm) MessageKind() Kind { return KindRegisterConfirm }

// NewRegisterConfirm builds a REGISTER_CONFIRM for the given client.
func NewRegisterConfirm(clientID string) *RegisterConfirm {
	return &RegisterConfirm{Type: KindRegisterConfirm, ClientID: clientID}
}

// RegisterError rejects a registration attempt; the connection is closed after it.
type RegisterError struct {
	Type   Kind   `json:"type"`
	Detail string `json:"detail"`
}

func (*RegisterError) MessageKind() Kind { return KindRegisterError }

// NewRegisterError builds a REGISTER_ERROR with a human-readable detail.
func NewRegisterError(detail string) *RegisterError {
	return &RegisterError{Type: KindRegisterError, Detail: detail}
}

// Heartbeat is a client keepalive. Timestamp is optional epoch seconds.
type Heartbeat struct {
	Type      Kind    `json:"type"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

func (*Heartbeat) MessageKind() Kind { return KindHeartbeat }

// NewHeartbeat builds a HEARTBEAT stamped with the given epoch seconds.
func NewHeartbeat(timestamp float64) *Heartbeat {
	return &Heartbeat{Type: KindHeartbeat, Timestamp: timestamp}
}

// HeartbeatAck answers a Heartbeat. It echoes the client timestamp and
// carries the server receive time so clients can estimate skew.
type HeartbeatAck struct {
	Type       Kind    `json:"type"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	ServerTime float64 `json:"server_time,omitempty"`
}

func (*HeartbeatAck) MessageKind() Kind { return KindHeartbeatAck }

// NewHeartbeatAck builds a HEARTBEAT_ACK echoing the client timestamp.
func NewHeartbeatAck(clientTimestamp, serverTime float64) *HeartbeatAck {
	return &HeartbeatAck{Type: KindHeartbeatAck, Timestamp: clientTimestamp, ServerTime: serverTime}
}

// Task is a client-submitted task request. Devices omit TargetID and run the
// task themselves; constellations set TargetID to route it to a device.
type Task struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TaskName  string `json:"task_name,omitempty"`
	Request   string `json:"request"`
	TargetID  string `json:"target_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (*Task) MessageKind() Kind { return KindTask }

// TaskAssignment delivers a task to the executing device. ResponseID
// correlates the device's first COMMAND_RESULTS back to the session loop.
type TaskAssignment struct {
	Type       Kind   `json:"type"`
	SessionID  string `json:"session_id"`
	ResponseID string `json:"response_id"`
	TaskName   string `json:"task_name"`
	Request    string `json:"request"`
}

func (*TaskAssignment) MessageKind() Kind { return KindTaskAssignment }

// NewTaskAssignment builds a TASK_ASSIGNMENT.
func NewTaskAssignment(sessionID, responseID, taskName, request string) *TaskAssignment {
	return &TaskAssignment{
		Type:       KindTaskAssignment,
		SessionID:  sessionID,
		ResponseID: responseID,
		TaskName:   taskName,
		Request:    request,
	}
}

// Ack confirms that a TASK was accepted and names the session created for it.
type Ack struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
}

func (*Ack) MessageKind() Kind { return KindAck }

// NewAck builds an ACK for the given session.
func NewAck(sessionID string) *Ack {
	return &Ack{Type: KindAck, SessionID: sessionID}
}

// Command asks a device to execute one structured command. ResponseID is the
// correlation token the device must echo in its COMMAND_RESULTS.
type Command struct {
	Type       Kind           `json:"type"`
	SessionID  string         `json:"session_id"`
	ResponseID string         `json:"response_id"`
	Payload    map[string]any `json:"payload"`
}

func (*Command) MessageKind() Kind { return KindCommand }

// NewCommand builds a COMMAND.
func NewCommand(sessionID, responseID string, payload map[string]any) *Command {
	return &Command{Type: KindCommand, SessionID: sessionID, ResponseID: responseID, Payload: payload}
}

// CommandResults carries a device's result for one command, correlated by
// PrevResponseID.
type CommandResults struct {
	Type           Kind           `json:"type"`
	SessionID      string         `json:"session_id"`
	PrevResponseID string         `json:"prev_response_id"`
	Payload        map[string]any `json:"payload"`
}

func (*CommandResults) MessageKind() Kind { return KindCommandResults }

// NewCommandResults builds a COMMAND_RESULTS echoing the given correlation id.
func NewCommandResults(sessionID, prevResponseID string, payload map[string]any) *CommandResults {
	return &CommandResults{
		Type:           KindCommandResults,
		SessionID:      sessionID,
		PrevResponseID: prevResponseID,
		Payload:        payload,
	}
}

// TaskEnd reports the terminal outcome of a session, from either side.
type TaskEnd struct {
	Type      Kind           `json:"type"`
	SessionID string         `json:"session_id"`
	Status    TaskStatus     `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
}

func (*TaskEnd) MessageKind() Kind { return KindTaskEnd }

// NewTaskEnd builds a TASK_END.
func NewTaskEnd(sessionID string, status TaskStatus, result map[string]any) *TaskEnd {
	return &TaskEnd{Type: KindTaskEnd, SessionID: sessionID, Status: status, Result: result}
}

// DeviceInfoRequest asks the hub for a device's current system info.
type DeviceInfoRequest struct {
	Type      Kind   `json:"type"`
	TargetID  string `json:"target_id"`
	RequestID string `json:"request_id"`
}

func (*DeviceInfoRequest) MessageKind() Kind { return KindDeviceInfoRequest }

// NewDeviceInfoRequest builds a DEVICE_INFO_REQUEST.
func NewDeviceInfoRequest(targetID, requestID string) *DeviceInfoRequest {
	return &DeviceInfoRequest{Type: KindDeviceInfoRequest, TargetID: targetID, RequestID: requestID}
}

// DeviceInfoResponse answers a DeviceInfoRequest. SystemInfo is the hub's
// cached view and may be empty when the device reported nothing.
type DeviceInfoResponse struct {
	Type       Kind           `json:"type"`
	RequestID  string         `json:"request_id"`
	SystemInfo map[string]any `json:"system_info"`
}

func (*DeviceInfoResponse) MessageKind() Kind { return KindDeviceInfoResponse }

// NewDeviceInfoResponse builds a DEVICE_INFO_RESPONSE.
func NewDeviceInfoResponse(requestID string, systemInfo map[string]any) *DeviceInfoResponse {
	if systemInfo == nil {
		systemInfo = map[string]any{}
	}
	return &DeviceInfoResponse{Type: KindDeviceInfoResponse, RequestID: requestID, SystemInfo: systemInfo}
}

// Error is the catch-all peer-reported failure.
type Error struct {
	Type      Kind   `json:"type"`
	Detail    string `json:"detail"`
	SessionID string `json:"session_id,omitempty"`
}

func (*Error) MessageKind() Kind { return KindError }

// NewError builds an ERROR. sessionID may be empty when the failure is not
// tied to a session.
func NewError(detail, sessionID string) *Error {
	return &Error{Type: KindError, Detail: detail, SessionID: sessionID}
}

// Unknown preserves a syntactically valid message whose type the hub does not
// recognize (or that omitted the type field entirely). Handlers must surface
// these (reply with ERROR), never drop them.
type Unknown struct {
	Type Kind   `json:"type"`
	Raw  []byte `json:"-"`
}

func (u *Unknown) MessageKind() Kind { return u.Type }
