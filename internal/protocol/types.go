package protocol

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Version is the hub envelope version spoken by this host.
const Version = 1

// Request is the envelope sent to a named hub endpoint.
type Request struct {
	Protocol   int                        `json:"protocol"`
	RequestID  string                     `json:"request_id"`
	Command    string                     `json:"command"`
	Kwargs     map[string]json.RawMessage `json:"kwargs,omitempty"`
	DeadlineAt time.Time                  `json:"deadline_at"`
}

// Response is the envelope returned by the endpoint that served a request.
type Response struct {
	Status string          `json:"status"` // ok | error
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// NewRequest builds a Request, encoding each keyword argument to JSON.
func NewRequest(id, command string, kwargs map[string]any, deadline time.Time) (*Request, error) {
	req := &Request{
		Protocol:   Version,
		RequestID:  id,
		Command:    command,
		DeadlineAt: deadline.UTC(),
	}
	if len(kwargs) > 0 {
		req.Kwargs = make(map[string]json.RawMessage, len(kwargs))
		for k, v := range kwargs {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode kwarg %q: %w", k, err)
			}
			req.Kwargs[k] = raw
		}
	}
	return req, nil
}

// OK builds a success response carrying result.
func OK(result any) (*Response, error) {
	if result == nil {
		return &Response{Status: "ok"}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{Status: "ok", Result: raw}, nil
}

// Fail builds an error response.
func Fail(err error) *Response {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Response{Status: "error", Error: msg}
}

// IsNull reports whether the response carried no result or an explicit JSON null.
func (r *Response) IsNull() bool {
	return len(r.Result) == 0 || string(r.Result) == "null"
}
