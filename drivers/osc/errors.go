package osc

import (
	"encoding/json"
	"fmt"
)

// TimeoutAdvisory is reported when a long running command doesn't finish within the poll budget.
const TimeoutAdvisory = `Timeout. Please use command "camera.listFiles" to get the result.`

// TransportError is returned when the request sender reports a failed exchange.
// Message is the raw text produced by the sender.
type TransportError struct {
	Message string
}

func (e *TransportError) Error() string {
	return e.Message
}

// ProtocolError covers responses whose state is "error" or unexpected, and bodies that can't be parsed.
type ProtocolError struct {
	State   State
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

type TimeoutError struct {
	ID       string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return TimeoutAdvisory
}

// ExtractErrorMessage formats the "error" object of an OSC response body as "<code>. <message>.".
// Bodies that aren't JSON objects or carry no error object are returned unchanged.
func ExtractErrorMessage(body string) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return body
	}
	rawErr, ok := envelope["error"]
	if !ok {
		return body
	}
	var errObj map[string]interface{}
	if err := json.Unmarshal(rawErr, &errObj); err != nil || errObj == nil {
		return body
	}
	msg := ""
	if code, ok := errObj["code"]; ok && code != nil {
		msg += errorField(code) + ". "
	}
	if message, ok := errObj["message"]; ok && message != nil {
		msg += errorField(message) + "."
	}
	return msg
}

// errorField renders non-string values as their JSON text.
func errorField(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
