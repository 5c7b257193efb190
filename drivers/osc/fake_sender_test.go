package osc

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type sentRequest struct {
	method  string
	url     string
	body    string
	headers map[string]string
}

// command returns the command name of an execute request, or "" for other requests.
func (r sentRequest) command() string {
	var c struct {
		Name string `json:"name"`
	}
	json.Unmarshal([]byte(r.body), &c)
	return c.Name
}

// scriptedSender answers requests from per-path response queues. The last
// response of a queue is repeated once the queue runs dry.
type scriptedSender struct {
	mu        sync.Mutex
	responses map[string][]Result
	requests  []sentRequest
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{responses: map[string][]Result{}}
}

func (s *scriptedSender) on(key string, results ...Result) *scriptedSender {
	s.responses[key] = append(s.responses[key], results...)
	return s
}

func ok(body string) Result {
	return Result{Successful: true, Body: body}
}

func fail(body string) Result {
	return Result{Body: body}
}

func (s *scriptedSender) SendByGet(url string, headers map[string]string) Result {
	return s.record(sentRequest{method: "GET", url: url, headers: headers})
}

func (s *scriptedSender) SendByPost(url string, body []byte, headers map[string]string) Result {
	return s.record(sentRequest{method: "POST", url: url, body: string(body), headers: headers})
}

func (s *scriptedSender) record(req sentRequest) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	key := req.url
	if i := strings.Index(req.url, "/osc"); i >= 0 {
		key = req.url[i:]
	}
	if name := req.command(); name != "" {
		key = name
	}
	queue := s.responses[key]
	if len(queue) == 0 {
		return fail("no scripted response for " + key)
	}
	res := queue[0]
	if len(queue) > 1 {
		s.responses[key] = queue[1:]
	}
	return res
}

func (s *scriptedSender) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, r := range s.requests {
		if name := r.command(); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (s *scriptedSender) requestsTo(path string) []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentRequest
	for _, r := range s.requests {
		if strings.HasSuffix(r.url, path) {
			out = append(out, r)
		}
	}
	return out
}

func newTestDriver(s *scriptedSender, cfg DriverConfig) *Driver {
	d := NewDriver(s, StaticURL("http://camera.local/"), cfg)
	d.Poller().SetSleep(func(_ time.Duration) {})
	return d
}
