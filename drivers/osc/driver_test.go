package osc

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

const (
	doneBody       = `{"name":"camera.setOptions","state":"done"}`
	errorBody      = `{"name":"camera.setOptions","state":"error","error":{"code":"invalidParameterValue","message":"Parameter options contains unsupported option"}}`
	inProgressBody = `{"name":"camera.takePicture","state":"inProgress","id":"42","progress":{"completion":0}}`
	pictureDone    = `{"name":"camera.takePicture","state":"done","results":{"_fileGroup":"[\"http:\\/\\/cam\\/IMG_00_1.insp\",\"http:\\/\\/cam\\/IMG_10_1.insp\"]"}}`
)

func TestSingleStepOperationsSucceedWithoutPayload(t *testing.T) {
	s := newScriptedSender().
		on(CmdSetOptions, ok(doneBody)).
		on(CmdStartCapture, ok(`{"name":"camera.startCapture","state":"done"}`)).
		on(CmdStopCapture, ok(`{"name":"camera.stopCapture","state":"done"}`))
	d := newTestDriver(s, DriverConfig{})

	if err := d.SetOptions(Options{"captureMode": "image"}); err != nil {
		t.Errorf("SetOptions: %v", err)
	}
	if err := d.StartRecord(nil); err != nil {
		t.Errorf("StartRecord: %v", err)
	}
	files, err := d.StopRecord()
	if err != nil {
		t.Errorf("StopRecord: %v", err)
	}
	if files != nil {
		t.Errorf("StopRecord without files should return nil, got %q", files)
	}
	want := []string{CmdSetOptions, CmdStartCapture, CmdStopCapture}
	if got := s.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestRequestsCarryFixedHeadersAndEnvelope(t *testing.T) {
	s := newScriptedSender().on(CmdSetOptions, ok(doneBody))
	d := newTestDriver(s, DriverConfig{})
	if err := d.SetOptions(Options{"hdr": "off"}); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}
	req := s.requests[0]
	if req.url != "http://camera.local/osc/commands/execute" {
		t.Errorf("unexpected url %s", req.url)
	}
	for k, v := range map[string]string{
		"Content-Type":     "application/json; charset=utf-8",
		"Accept":           "application/json",
		"X-XSRF-Protected": "1",
	} {
		if req.headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, req.headers[k], v)
		}
	}
	var cmd struct {
		Name       string `json:"name"`
		Parameters struct {
			Options map[string]string `json:"options"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(req.body), &cmd); err != nil {
		t.Fatalf("body isn't json: %v", err)
	}
	if cmd.Name != CmdSetOptions || cmd.Parameters.Options["hdr"] != "off" {
		t.Errorf("unexpected body %s", req.body)
	}
}

func TestCommandWithoutParametersSendsEmptyObject(t *testing.T) {
	body, err := json.Marshal(NewCommand(CmdTakePicture, nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"name":"camera.takePicture","parameters":{}}` {
		t.Errorf("unexpected command body %s", body)
	}
}

func TestSetOptionsErrorState(t *testing.T) {
	s := newScriptedSender().on(CmdSetOptions, ok(errorBody))
	d := newTestDriver(s, DriverConfig{})
	err := d.SetOptions(Options{"foo": 1})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.Message != "invalidParameterValue. Parameter options contains unsupported option." {
		t.Errorf("unexpected message %q", perr.Message)
	}
}

func TestTransportErrorIsSurfacedRaw(t *testing.T) {
	s := newScriptedSender().on(CmdStartCapture, fail("dial tcp 192.168.42.1:80: connect: no route to host"))
	d := newTestDriver(s, DriverConfig{})
	err := d.StartRecord(nil)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if err.Error() != "dial tcp 192.168.42.1:80: connect: no route to host" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestMissingStateIsProtocolError(t *testing.T) {
	s := newScriptedSender().on(CmdStartCapture, ok(`{"name":"camera.startCapture"}`))
	d := newTestDriver(s, DriverConfig{})
	var perr *ProtocolError
	if err := d.StartRecord(nil); !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestMalformedBodyIsProtocolError(t *testing.T) {
	s := newScriptedSender().on(CmdTakePicture, ok(`<html>oops`))
	d := newTestDriver(s, DriverConfig{})
	_, err := d.TakePicture(nil)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestTakePicturePollsUntilDone(t *testing.T) {
	const polls = 4
	s := newScriptedSender().
		on(CmdSetOptions, ok(doneBody)).
		on(CmdTakePicture, ok(inProgressBody))
	for i := 1; i < polls; i++ {
		if i == 2 {
			s.on(StatusPath, fail("connection reset by peer"))
			continue
		}
		s.on(StatusPath, ok(`{"name":"camera.takePicture","state":"inProgress","id":"42"}`))
	}
	s.on(StatusPath, ok(pictureDone))

	var slept []time.Duration
	d := newTestDriver(s, DriverConfig{})
	d.Poller().SetSleep(func(dur time.Duration) { slept = append(slept, dur) })

	files, err := d.TakePicture(Options{"captureMode": "image"})
	if err != nil {
		t.Fatalf("TakePicture: %v", err)
	}
	want := []string{"http://cam/IMG_00_1.insp", "http://cam/IMG_10_1.insp"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %q, want %q", files, want)
	}

	status := s.requestsTo(StatusPath)
	if len(status) != polls {
		t.Fatalf("status queried %d times, want %d", len(status), polls)
	}
	for i, r := range status {
		if r.body != `{"id":"42"}` {
			t.Errorf("status request %d body = %s", i, r.body)
		}
	}
	if len(slept) != polls-1 {
		t.Errorf("slept %d times, want %d", len(slept), polls-1)
	}
	for _, dur := range slept {
		if dur != DefaultPollPolicy.Interval {
			t.Errorf("slept %v, want %v", dur, DefaultPollPolicy.Interval)
		}
	}
}

func TestTakePictureTimeout(t *testing.T) {
	s := newScriptedSender().
		on(CmdTakePicture, ok(inProgressBody)).
		on(StatusPath, ok(`{"state":"inProgress","id":"42"}`), ok(`{"state":"error","error":{"code":"x"}}`), ok(`{"state":"inProgress","id":"42"}`))
	d := newTestDriver(s, DriverConfig{})

	_, err := d.TakePicture(nil)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !strings.Contains(err.Error(), "camera.listFiles") {
		t.Errorf("timeout message should point to listFiles, got %q", err.Error())
	}
	if n := len(s.requestsTo(StatusPath)); n != 60 {
		t.Errorf("status queried %d times, want 60", n)
	}
}

func TestCustomPollPolicy(t *testing.T) {
	s := newScriptedSender().
		on(CmdTakePicture, ok(inProgressBody)).
		on(StatusPath, ok(`{"state":"inProgress","id":"42"}`))
	d := newTestDriver(s, DriverConfig{Poll: PollPolicy{MaxAttempts: 3, Interval: time.Millisecond}})
	if _, err := d.TakePicture(nil); err == nil {
		t.Fatal("expected timeout")
	}
	if n := len(s.requestsTo(StatusPath)); n != 3 {
		t.Errorf("status queried %d times, want 3", n)
	}
}

func TestConfigureErrorShortCircuitsCapture(t *testing.T) {
	s := newScriptedSender().
		on(CmdSetOptions, ok(errorBody)).
		on(CmdTakePicture, ok(inProgressBody))
	d := newTestDriver(s, DriverConfig{})

	_, err := d.TakePicture(Options{"captureMode": "image"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range s.commands() {
		if name == CmdTakePicture {
			t.Fatal("takePicture must not be sent after a failed configure step")
		}
	}
}

func TestConfigureTransportErrorShortCircuitsRecord(t *testing.T) {
	s := newScriptedSender().
		on(CmdSetOptions, fail("timeout")).
		on(CmdStartCapture, ok(`{"state":"done"}`))
	d := newTestDriver(s, DriverConfig{})
	if err := d.StartRecord(Options{"captureMode": "video"}); err == nil || err.Error() != "timeout" {
		t.Fatalf("expected raw transport error, got %v", err)
	}
	if got := s.commands(); !reflect.DeepEqual(got, []string{CmdSetOptions}) {
		t.Errorf("commands = %q", got)
	}
}

func TestTakePictureInProgressWithoutID(t *testing.T) {
	s := newScriptedSender().on(CmdTakePicture, ok(`{"state":"inProgress"}`))
	d := newTestDriver(s, DriverConfig{})
	if _, err := d.TakePicture(nil); err == nil {
		t.Fatal("expected error for missing command id")
	}
	if n := len(s.requestsTo(StatusPath)); n != 0 {
		t.Errorf("status must not be queried without id, got %d calls", n)
	}
}

func TestTakePictureDoneSynchronously(t *testing.T) {
	s := newScriptedSender().on(CmdTakePicture, ok(`{"state":"done","results":{"fileUrl":"http:\/\/cam\/IMG.jpg"}}`))
	d := newTestDriver(s, DriverConfig{})
	files, err := d.TakePicture(nil)
	if err != nil {
		t.Fatalf("TakePicture: %v", err)
	}
	if !reflect.DeepEqual(files, []string{"http://cam/IMG.jpg"}) {
		t.Errorf("files = %q", files)
	}
}

func TestStopRecordOrdersFiles(t *testing.T) {
	s := newScriptedSender().on(CmdStopCapture, ok(`{"state":"done","results":{"fileUrls":"[\"http:\\/\\/cam\\/VID_10_1.insv\",\"http:\\/\\/cam\\/VID_00_1.insv\"]"}}`))
	d := newTestDriver(s, DriverConfig{})
	files, err := d.StopRecord()
	if err != nil {
		t.Fatalf("StopRecord: %v", err)
	}
	want := []string{"http://cam/VID_00_1.insv", "http://cam/VID_10_1.insv"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %q, want %q", files, want)
	}
}

func TestCustomRequestMethod(t *testing.T) {
	s := newScriptedSender().
		on(InfoPath, ok(`{"manufacturer":"Arashi Vision"}`)).
		on(StatePath, ok(`{"fingerprint":"1"}`))
	d := newTestDriver(s, DriverConfig{})

	body, err := d.CustomRequest(InfoPath, nil)
	if err != nil || body != `{"manufacturer":"Arashi Vision"}` {
		t.Fatalf("CustomRequest GET = %q, %v", body, err)
	}
	body, err = d.CustomRequest(StatePath, []byte(`{}`))
	if err != nil || body != `{"fingerprint":"1"}` {
		t.Fatalf("CustomRequest POST = %q, %v", body, err)
	}
	if s.requests[0].method != "GET" || s.requests[1].method != "POST" {
		t.Errorf("methods = %s, %s", s.requests[0].method, s.requests[1].method)
	}
}

func TestCustomRequestBodyIsNotInterpreted(t *testing.T) {
	s := newScriptedSender().on("/osc/commands/execute", ok(`{"state":"error","error":{"code":"x"}}`))
	d := newTestDriver(s, DriverConfig{})
	body, err := d.CustomRequest(ExecutePath, []byte(`not a command`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != `{"state":"error","error":{"code":"x"}}` {
		t.Errorf("body = %q", body)
	}
}

func TestListFiles(t *testing.T) {
	s := newScriptedSender().on(CmdListFiles, ok(`{"state":"done","results":{"entries":[{"name":"IMG_1.insp","fileUrl":"http://cam/IMG_1.insp","size":1024,"dateTimeZone":"2024:01:01 10:00:00+00:00"}],"totalEntries":1}}`))
	d := newTestDriver(s, DriverConfig{})
	list, err := d.ListFiles(ListFilesParams{EntryCount: 10})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if list.TotalEntries != 1 || len(list.Entries) != 1 || list.Entries[0].FileURL != "http://cam/IMG_1.insp" {
		t.Errorf("unexpected list %+v", list)
	}
	var cmd struct {
		Parameters map[string]interface{} `json:"parameters"`
	}
	json.Unmarshal([]byte(s.requests[0].body), &cmd)
	if cmd.Parameters["fileType"] != "all" || cmd.Parameters["entryCount"] != float64(10) {
		t.Errorf("unexpected parameters %v", cmd.Parameters)
	}
}
