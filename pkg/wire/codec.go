// Package wire encodes and decodes the JSON-RPC envelopes exchanged with MCP
// servers. It holds no state: every outbound call gets a fresh correlation
// identifier, and every inbound frame is classified as a response, a
// notification, or a server-initiated request.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// ProtocolVersion is the MCP protocol revision advertised during initialize.
const ProtocolVersion = "2025-06-18"

// Standard JSON-RPC error codes used by this package.
const (
	CodeMethodNotFound int64 = -32601
	CodeInternalError  int64 = -32603
)

// ErrMalformedFrame is returned when an inbound frame cannot be classified.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// FrameKind classifies a decoded inbound message.
type FrameKind int

const (
	FrameResponse FrameKind = iota + 1
	FrameNotification
	FrameRequest
)

func (k FrameKind) String() string {
	switch k {
	case FrameResponse:
		return "response"
	case FrameNotification:
		return "notification"
	case FrameRequest:
		return "request"
	default:
		return "unknown"
	}
}

// Frame is the decoded form of one inbound message.
type Frame struct {
	Kind FrameKind
	// ID is set for responses and server-initiated requests.
	ID jsonrpc.ID
	// Key is CallKey(ID); empty for notifications.
	Key string
	// Method is set for notifications and requests.
	Method string
	// Params carries the raw parameters of a notification or request.
	Params json.RawMessage
	// Result is the raw result of a successful response.
	Result json.RawMessage
	// Err is the error object of a failed response.
	Err *RemoteError
}

// RemoteError is the error object carried by a JSON-RPC response.
type RemoteError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// NewCallID returns a process-unique correlation identifier.
func NewCallID() jsonrpc.ID {
	// MakeID only fails for unsupported Go types; strings are always valid.
	id, _ := jsonrpc.MakeID(uuid.New().String())
	return id
}

// CallKey renders an ID as a stable map key. String and numeric IDs never
// collide because numeric keys carry a "#" prefix.
func CallKey(id jsonrpc.ID) string {
	switch v := id.Raw().(type) {
	case string:
		return v
	case int64:
		return "#" + strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("#%v", v)
	}
}

// EncodeRequest builds a call envelope. params is marshaled as-is; the codec
// does not inspect it.
func EncodeRequest(id jsonrpc.ID, method string, params any) (*jsonrpc.Request, error) {
	if !id.IsValid() {
		return nil, fmt.Errorf("wire: request %q needs a valid id", method)
	}
	if method == "" {
		return nil, fmt.Errorf("wire: method is required")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding params for %q: %w", method, err)
	}
	return &jsonrpc.Request{ID: id, Method: method, Params: raw}, nil
}

// EncodeNotification builds an envelope without an id.
func EncodeNotification(method string, params any) (*jsonrpc.Request, error) {
	if method == "" {
		return nil, fmt.Errorf("wire: method is required")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding params for %q: %w", method, err)
	}
	return &jsonrpc.Request{Method: method, Params: raw}, nil
}

// EncodeResult builds a successful response to a server-initiated request.
func EncodeResult(id jsonrpc.ID, result any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding result: %w", err)
	}
	return &jsonrpc.Response{ID: id, Result: raw}, nil
}

// EncodeError builds a failed response to a server-initiated request. The
// envelope goes through the SDK decoder so the error code survives encoding.
func EncodeError(id jsonrpc.ID, code int64, message string) (*jsonrpc.Response, error) {
	data, err := json.Marshal(struct {
		Version string      `json:"jsonrpc"`
		ID      any         `json:"id"`
		Error   RemoteError `json:"error"`
	}{"2.0", id.Raw(), RemoteError{Code: code, Message: message}})
	if err != nil {
		return nil, fmt.Errorf("wire: encoding error response: %w", err)
	}
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding error response: %w", err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("wire: encoding error response: got %T", msg)
	}
	return resp, nil
}

// Marshal renders any message in its wire format.
func Marshal(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// Unmarshal decodes raw bytes into a Frame.
func Unmarshal(data []byte) (Frame, error) {
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return Decode(msg)
}

// Decode classifies a message already parsed by a transport.
func Decode(msg jsonrpc.Message) (Frame, error) {
	switch m := msg.(type) {
	case *jsonrpc.Response:
		if m == nil || !m.ID.IsValid() {
			return Frame{}, fmt.Errorf("%w: response without id", ErrMalformedFrame)
		}
		f := Frame{Kind: FrameResponse, ID: m.ID, Key: CallKey(m.ID)}
		if m.Error != nil {
			f.Err = toRemoteError(m.Error)
			return f, nil
		}
		f.Result = m.Result
		return f, nil
	case *jsonrpc.Request:
		if m == nil || m.Method == "" {
			return Frame{}, fmt.Errorf("%w: request without method", ErrMalformedFrame)
		}
		if m.IsCall() {
			return Frame{Kind: FrameRequest, ID: m.ID, Key: CallKey(m.ID), Method: m.Method, Params: m.Params}, nil
		}
		return Frame{Kind: FrameNotification, Method: m.Method, Params: m.Params}, nil
	default:
		return Frame{}, fmt.Errorf("%w: unexpected message type %T", ErrMalformedFrame, msg)
	}
}

// toRemoteError recovers the code and message of a response error. Transports
// decode error objects into an SDK-internal type that marshals back to the
// wire shape, so a JSON round trip is enough.
func toRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	out := &RemoteError{}
	if data, mErr := json.Marshal(err); mErr == nil {
		_ = json.Unmarshal(data, out)
	}
	if out.Message == "" {
		out.Message = err.Error()
	}
	return out
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
