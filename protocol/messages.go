package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol-level command types. Everything else is forwarded opaquely to
// the composing application's executor.
const (
	// CmdPing is the approval probe. It carries the device display name
	// and is the only command serviced before approval.
	CmdPing = "ping"
	// CmdSyncMeta queries a resource's sync metadata (updatedAt or fingerprint).
	CmdSyncMeta = "sync_meta"
	// CmdSyncPull fetches a resource's full payload.
	CmdSyncPull = "sync_pull"
	// CmdSyncPush uploads a resource's full payload.
	CmdSyncPush = "sync_push"
)

// Well-known parameter keys.
const (
	ParamDeviceID   = "device_id"
	ParamDeviceName = "device_name"
	ParamResource   = "resource"
	ParamDocument   = "document"
	ParamUpdatedAt  = "updated_at"
)

// ErrAwaitingApproval is the distinguishable error string returned while a
// probe's device sits in the pending approval queue.
const ErrAwaitingApproval = "awaiting approval"

var (
	// ErrInvalidMessage indicates a frame that is neither a Command nor a Response.
	ErrInvalidMessage = errors.New("protocol: invalid message")
	// ErrMissingID indicates a message without a correlation id.
	ErrMissingID = errors.New("protocol: missing message id")
)

// Command is a request routed by commandType. Parameters are flat string
// pairs; structured arguments ride as JSON document strings.
type Command struct {
	ID          string            `json:"id"`
	CommandType string            `json:"commandType"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// PayloadKind discriminates the optional binary carrier on a Response.
type PayloadKind string

const (
	PayloadNone     PayloadKind = "none"
	PayloadImage    PayloadKind = "image"
	PayloadFileBlob PayloadKind = "fileBlob"
)

// Payload is a typed binary attachment. Data marshals as base64.
type Payload struct {
	Kind PayloadKind `json:"kind"`
	Data []byte      `json:"data,omitempty"`
}

// Response resolves exactly one Command, matched by ID.
type Response struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Result  string   `json:"result"`
	Error   string   `json:"error,omitempty"`
	Payload *Payload `json:"payload,omitempty"`
}

// Failure builds an unsuccessful Response for a command id.
func Failure(id, errMsg string) Response {
	return Response{ID: id, Success: false, Error: errMsg}
}

// Ok builds a successful Response for a command id.
func Ok(id, result string) Response {
	return Response{ID: id, Success: true, Result: result}
}

// EncodeCommand marshals a Command for framing.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd.ID == "" {
		return nil, ErrMissingID
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return payload, nil
}

// EncodeResponse marshals a Response for framing.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.ID == "" {
		return nil, ErrMissingID
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return payload, nil
}

// envelope peeks at the fields that distinguish a Command from a Response.
type envelope struct {
	ID          string  `json:"id"`
	CommandType *string `json:"commandType"`
	Success     *bool   `json:"success"`
}

// Message is a decoded inbound frame: exactly one of Command or Response
// is set.
type Message struct {
	Command  *Command
	Response *Response
}

// DecodeMessage parses one frame payload. A frame carrying commandType is
// a Command; a frame carrying success is a Response. Anything else is
// ErrInvalidMessage.
func DecodeMessage(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.ID == "" {
		return Message{}, ErrMissingID
	}

	switch {
	case env.CommandType != nil:
		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return Message{}, fmt.Errorf("decode command: %w", err)
		}
		return Message{Command: &cmd}, nil
	case env.Success != nil:
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return Message{}, fmt.Errorf("decode response: %w", err)
		}
		return Message{Response: &resp}, nil
	default:
		return Message{}, ErrInvalidMessage
	}
}
