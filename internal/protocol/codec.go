package protocol

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// EncodeRequest serializes a Request to JSON.
func EncodeRequest(req *Request) ([]byte, error) {
	if req.Protocol != Version {
		return nil, fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("request missing command")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// DecodeRequest deserializes a Request and validates the envelope.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.Protocol != Version {
		return nil, fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("request missing required field: command")
	}
	return &req, nil
}

// EncodeResponse serializes a Response to JSON.
func EncodeResponse(resp *Response) ([]byte, error) {
	if err := validateResponse(resp); err != nil {
		return nil, err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}

// DecodeResponse deserializes a Response.
// Returns an error if unmarshaling fails, or if the response is invalid.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	var resp Response

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func validateResponse(resp *Response) error {
	if resp.Status == "" {
		return fmt.Errorf("response missing required field: status")
	}

	if resp.Status != "ok" && resp.Status != "error" {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}

	// If status is error, error message should be present
	if resp.Status == "error" && resp.Error == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	return nil
}
