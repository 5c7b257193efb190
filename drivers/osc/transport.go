package osc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	dac "github.com/xinsnake/go-http-digest-auth-client"
)

const (
	ExecutePath = "/osc/commands/execute"
	StatusPath  = "/osc/commands/status"
	InfoPath    = "/osc/info"
	StatePath   = "/osc/state"
)

// Result is the outcome of one HTTP exchange. Body holds the response body
// on success and the transport error text otherwise.
type Result struct {
	Successful bool
	Body       string
}

// Sender performs a single synchronous HTTP exchange.
type Sender interface {
	SendByGet(url string, headers map[string]string) Result
	SendByPost(url string, body []byte, headers map[string]string) Result
}

// URLProvider resolves the HTTP prefix of the camera, e.g. "http://192.168.42.1".
type URLProvider interface {
	HttpPrefix() string
}

type StaticURL string

func (u StaticURL) HttpPrefix() string {
	return strings.TrimRight(string(u), "/")
}

// Headers returns the fixed header set sent with every OSC request.
func Headers() map[string]string {
	return map[string]string{
		"Content-Type":     "application/json; charset=utf-8",
		"Accept":           "application/json",
		"X-XSRF-Protected": "1",
	}
}

// HttpSender is the net/http implementation of Sender. When a username is set
// requests are sent as digest auth requests carrying the same headers.
type HttpSender struct {
	httpClient http.Client
	username   string
	password   string
}

func NewHttpSender(timeout time.Duration, username, password string) *HttpSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HttpSender{httpClient: http.Client{Timeout: timeout}, username: username, password: password}
}

func (s *HttpSender) SendByGet(url string, headers map[string]string) Result {
	return s.send(http.MethodGet, url, nil, headers)
}

func (s *HttpSender) SendByPost(url string, body []byte, headers map[string]string) Result {
	return s.send(http.MethodPost, url, body, headers)
}

func (s *HttpSender) send(method, url string, body []byte, headers map[string]string) Result {
	resp, err := s.do(method, url, body, headers)
	if err != nil {
		log.Debugf("%s %s failed: %s", method, url, err.Error())
		return Result{Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Body: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(respBody) > 0 {
			return Result{Body: string(respBody)}
		}
		return Result{Body: fmt.Sprintf("camera api returned error code %s", resp.Status)}
	}
	return Result{Successful: true, Body: string(respBody)}
}

func (s *HttpSender) do(method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	if s.username != "" {
		dr := dac.NewRequest(s.username, s.password, method, url, string(body))
		for k, v := range headers {
			dr.Header.Set(k, v)
		}
		dr.HTTPClient = &s.httpClient
		return dr.Execute()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return s.httpClient.Do(req)
}
