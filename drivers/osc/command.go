package osc

import (
	"encoding/json"
)

// Command names understood by the camera.
const (
	CmdSetOptions   = "camera.setOptions"
	CmdGetOptions   = "camera.getOptions"
	CmdTakePicture  = "camera.takePicture"
	CmdStartCapture = "camera.startCapture"
	CmdStopCapture  = "camera.stopCapture"
	CmdListFiles    = "camera.listFiles"
)

type State string

const (
	StateDone       State = "done"
	StateInProgress State = "inProgress"
	StateError      State = "error"
	StateUnknown    State = ""
)

func ParseState(s string) State {
	switch State(s) {
	case StateDone, StateInProgress, StateError:
		return State(s)
	}
	return StateUnknown
}

// Options is the "options" object of camera.setOptions.
type Options map[string]interface{}

// Command is a single named remote operation. Build it with NewCommand and don't modify it afterwards.
type Command struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

func NewCommand(name string, params map[string]interface{}) Command {
	p := make(map[string]interface{}, len(params))
	for k, v := range params {
		p[k] = v
	}
	return Command{Name: name, Parameters: p}
}

type statusRequest struct {
	ID string `json:"id"`
}

// Response is the parsed body of a successful execute or status exchange.
type Response struct {
	State   State
	ID      string
	Results json.RawMessage
	Raw     string
}

type responseBody struct {
	State   *string         `json:"state"`
	ID      string          `json:"id"`
	Results json.RawMessage `json:"results"`
}

// ParseResponse decodes a command response body. A missing or unrecognized state is reported as StateUnknown.
func ParseResponse(body string) (*Response, error) {
	var rb responseBody
	if err := json.Unmarshal([]byte(body), &rb); err != nil {
		return nil, &ProtocolError{Message: "malformed command response: " + err.Error()}
	}
	resp := &Response{ID: rb.ID, Results: rb.Results, Raw: body}
	if rb.State != nil {
		resp.State = ParseState(*rb.State)
	}
	return resp, nil
}

// Expect returns nil when the response is in one of the given states,
// otherwise a ProtocolError built from the error object of the body.
func (r *Response) Expect(states ...State) error {
	for _, s := range states {
		if r.State == s && s != StateUnknown {
			return nil
		}
	}
	return &ProtocolError{State: r.State, Message: ExtractErrorMessage(r.Raw)}
}

// HasResults reports whether the response carries a non-null results object.
func (r *Response) HasResults() bool {
	return len(r.Results) > 0 && string(r.Results) != "null"
}
