package protocol

import "time"

// Sender is the one transport capability the sub-protocols need.
type Sender interface {
	Send(msg Message) error
}

// Registration answers REGISTER messages.
type Registration struct {
	conn Sender
}

// NewRegistration binds the registration sub-protocol to a connection.
func NewRegistration(conn Sender) Registration {
	return Registration{conn: conn}
}

// Confirm accepts the registration.
func (r Registration) Confirm(clientID string) error {
	return r.conn.Send(NewRegisterConfirm(clientID))
}

// Reject refuses the registration; the caller closes the connection after.
func (r Registration) Reject(detail string) error {
	return r.conn.Send(NewRegisterError(detail))
}

// Keepalive answers HEARTBEAT messages.
type Keepalive struct {
	conn Sender
}

// NewKeepalive binds the heartbeat sub-protocol to a connection.
func NewKeepalive(conn Sender) Keepalive {
	return Keepalive{conn: conn}
}

// Ack echoes the client timestamp and stamps the server receive time.
func (k Keepalive) Ack(clientTimestamp float64) error {
	serverTime := float64(time.Now().UnixNano()) / 1e9
	return k.conn.Send(NewHeartbeatAck(clientTimestamp, serverTime))
}

// DeviceInfo serves DEVICE_INFO_REQUEST round-trips.
type DeviceInfo struct {
	conn Sender
}

// NewDeviceInfo binds the device-info sub-protocol to a connection.
func NewDeviceInfo(conn Sender) DeviceInfo {
	return DeviceInfo{conn: conn}
}

// Respond returns the hub's cached system info for the requested device.
func (d DeviceInfo) Respond(requestID string, systemInfo map[string]any) error {
	return d.conn.Send(NewDeviceInfoResponse(requestID, systemInfo))
}

// TaskExecution carries the end-to-end task lifecycle messages.
type TaskExecution struct {
	conn Sender
}

// NewTaskExecution binds the task-execution sub-protocol to a connection.
func NewTaskExecution(conn Sender) TaskExecution {
	return TaskExecution{conn: conn}
}

// Assign delivers a task to the executing device.
func (t TaskExecution) Assign(sessionID, responseID, taskName, request string) error {
	return t.conn.Send(NewTaskAssignment(sessionID, responseID, taskName, request))
}

// Accept acknowledges a TASK submission with its session id.
func (t TaskExecution) Accept(sessionID string) error {
	return t.conn.Send(NewAck(sessionID))
}

// Command sends one structured command to the device.
func (t TaskExecution) Command(sessionID, responseID string, payload map[string]any) error {
	return t.conn.Send(NewCommand(sessionID, responseID, payload))
}

// End reports a session's terminal outcome to the peer.
func (t TaskExecution) End(sessionID string, status TaskStatus, result map[string]any) error {
	return t.conn.Send(NewTaskEnd(sessionID, status, result))
}

// Faults reports protocol-level failures to the peer.
type Faults struct {
	conn Sender
}

// NewFaults binds the error sub-protocol to a connection.
func NewFaults(conn Sender) Faults {
	return Faults{conn: conn}
}

// Report sends an ERROR with a human-readable detail.
func (f Faults) Report(detail string) error {
	return f.conn.Send(NewError(detail, ""))
}

// ReportSession sends an ERROR tied to a session.
func (f Faults) ReportSession(detail, sessionID string) error {
	return f.conn.Send(NewError(detail, sessionID))
}
