package osc

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// Executor sends single commands to the camera. It never retries.
type Executor struct {
	sender Sender
	urls   URLProvider
	log    *log.Entry
}

func NewExecutor(sender Sender, urls URLProvider) *Executor {
	return &Executor{sender: sender, urls: urls, log: log.WithField("component", "osc-executor")}
}

func (e *Executor) url(path string) string {
	return e.urls.HttpPrefix() + path
}

// Execute posts the named command to /osc/commands/execute and parses the response.
// The caller decides which states are acceptable, see Response.Expect.
func (e *Executor) Execute(name string, params map[string]interface{}) (*Response, error) {
	body, err := json.Marshal(NewCommand(name, params))
	if err != nil {
		return nil, &ProtocolError{Message: err.Error()}
	}
	e.log.Debugf("execute %s", body)
	return e.post(ExecutePath, body)
}

// Status queries the state of an in-progress command.
func (e *Executor) Status(id string) (*Response, error) {
	body, err := json.Marshal(statusRequest{ID: id})
	if err != nil {
		return nil, &ProtocolError{Message: err.Error()}
	}
	return e.post(StatusPath, body)
}

// Raw sends a request to an arbitrary OSC path and returns the body without interpreting it.
// A nil body issues a GET, anything else a POST.
func (e *Executor) Raw(path string, body []byte) (string, error) {
	var res Result
	if body == nil {
		res = e.sender.SendByGet(e.url(path), Headers())
	} else {
		res = e.sender.SendByPost(e.url(path), body, Headers())
	}
	if !res.Successful {
		return "", &TransportError{Message: res.Body}
	}
	return res.Body, nil
}

func (e *Executor) post(path string, body []byte) (*Response, error) {
	res := e.sender.SendByPost(e.url(path), body, Headers())
	if !res.Successful {
		e.log.Debugf("%s transport failure: %s", path, res.Body)
		return nil, &TransportError{Message: res.Body}
	}
	e.log.Debugf("%s response: %s", path, res.Body)
	return ParseResponse(res.Body)
}
