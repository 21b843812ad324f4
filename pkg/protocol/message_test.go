package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("register", func(t *testing.T) {
		data := []byte(`{"type":"REGISTER","client_id":"dev-A","client_type":"device","platform":"linux","metadata":{"os":"ubuntu"}}`)

		msg, err := Decode(data)
		require.NoError(t, err)

		reg, ok := msg.(*Register)
		require.True(t, ok, "expected *Register, got %T", msg)
		assert.Equal(t, "dev-A", reg.ClientID)
		assert.Equal(t, ClientTypeDevice, reg.ClientType)
		assert.Equal(t, "linux", reg.Platform)
		assert.Equal(t, "ubuntu", reg.Metadata["os"])
		assert.Empty(t, reg.TargetID)
	})

	t.Run("constellation register carries target_id", func(t *testing.T) {
		data := []byte(`{"type":"REGISTER","client_id":"orc-1","client_type":"constellation","platform":"linux","target_id":"dev-A"}`)

		msg, err := Decode(data)
		require.NoError(t, err)

		reg := msg.(*Register)
		assert.Equal(t, ClientTypeConstellation, reg.ClientType)
		assert.Equal(t, "dev-A", reg.TargetID)
	})

	t.Run("command results", func(t *testing.T) {
		data := []byte(`{"type":"COMMAND_RESULTS","session_id":"s1","prev_response_id":"r1","payload":{"ok":true}}`)

		msg, err := Decode(data)
		require.NoError(t, err)

		res := msg.(*CommandResults)
		assert.Equal(t, "s1", res.SessionID)
		assert.Equal(t, "r1", res.PrevResponseID)
		assert.Equal(t, true, res.Payload["ok"])
	})

	t.Run("task end", func(t *testing.T) {
		data := []byte(`{"type":"TASK_END","session_id":"s1","status":"completed","result":{"out":"42"}}`)

		msg, err := Decode(data)
		require.NoError(t, err)

		end := msg.(*TaskEnd)
		assert.Equal(t, TaskStatusCompleted, end.Status)
		assert.Equal(t, "42", end.Result["out"])
	})

	t.Run("unknown type is surfaced, not dropped", func(t *testing.T) {
		data := []byte(`{"type":"SHUTDOWN_EVERYTHING","reason":"why not"}`)

		msg, err := Decode(data)
		require.NoError(t, err)

		unk, ok := msg.(*Unknown)
		require.True(t, ok, "expected *Unknown, got %T", msg)
		assert.Equal(t, Kind("SHUTDOWN_EVERYTHING"), unk.MessageKind())
		assert.JSONEq(t, string(data), string(unk.Raw))
	})

	t.Run("missing type is surfaced as unknown", func(t *testing.T) {
		msg, err := Decode([]byte(`{"client_id":"dev-A"}`))
		require.NoError(t, err)

		unk, ok := msg.(*Unknown)
		require.True(t, ok)
		assert.Empty(t, unk.MessageKind())
	})

	t.Run("invalid json fails", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":`))
		assert.Error(t, err)
	})
}

func TestEncode(t *testing.T) {
	t.Run("task assignment round trip", func(t *testing.T) {
		orig := NewTaskAssignment("s1", "r1", "t1", "ls /tmp")

		data, err := Encode(orig)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "TASK_ASSIGNMENT", raw["type"])
		assert.Equal(t, "s1", raw["session_id"])
		assert.Equal(t, "r1", raw["response_id"])
		assert.Equal(t, "t1", raw["task_name"])
		assert.Equal(t, "ls /tmp", raw["request"])
	})

	t.Run("constructors stamp the discriminator", func(t *testing.T) {
		assert.Equal(t, KindRegisterConfirm, NewRegisterConfirm("c").Type)
		assert.Equal(t, KindRegisterError, NewRegisterError("d").Type)
		assert.Equal(t, KindAck, NewAck("s").Type)
		assert.Equal(t, KindCommand, NewCommand("s", "r", nil).Type)
		assert.Equal(t, KindTaskEnd, NewTaskEnd("s", TaskStatusFailed, nil).Type)
		assert.Equal(t, KindError, NewError("d", "").Type)
	})

	t.Run("device info response never sends null info", func(t *testing.T) {
		data, err := Encode(NewDeviceInfoResponse("req-1", nil))
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		info, ok := raw["system_info"].(map[string]any)
		require.True(t, ok, "system_info must be an object, got %v", raw["system_info"])
		assert.Empty(t, info)
	})
}

func TestClientTypeValid(t *testing.T) {
	assert.True(t, ClientTypeDevice.Valid())
	assert.True(t, ClientTypeConstellation.Valid())
	assert.False(t, ClientType("toaster").Valid())
	assert.False(t, ClientType("").Valid())
}
