package osc_timelapse

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognitedata/edge-osc/connectors/inputs"
	"github.com/cognitedata/edge-osc/drivers/osc"
	"github.com/cognitedata/edge-osc/integrations"
	"github.com/cognitedata/edge-osc/internal"
)

// pictureSender answers camera.takePicture synchronously and records the sent options.
type pictureSender struct {
	mu       sync.Mutex
	fail     bool
	pictures int
	options  []string
}

func (s *pictureSender) SendByGet(url string, headers map[string]string) osc.Result {
	return osc.Result{Body: "unexpected GET"}
}

func (s *pictureSender) SendByPost(url string, body []byte, headers map[string]string) osc.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cmd osc.Command
	json.Unmarshal(body, &cmd)
	switch cmd.Name {
	case osc.CmdSetOptions:
		b, _ := json.Marshal(cmd.Parameters)
		s.options = append(s.options, string(b))
		return osc.Result{Successful: true, Body: `{"state":"done"}`}
	case osc.CmdTakePicture:
		s.pictures++
		if s.fail {
			return osc.Result{Body: "connection refused"}
		}
		return osc.Result{Successful: true, Body: `{"state":"done","results":{"fileUrl":"http:\/\/cam\/IMG.jpg"}}`}
	}
	return osc.Result{Body: "unexpected command " + cmd.Name}
}

func (s *pictureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pictures
}

func newTimelapse(t *testing.T, s *pictureSender, cameras ...internal.CameraConfig) *OscTimelapse {
	t.Helper()
	clients := map[string]*inputs.OscCamera{}
	intgr := NewOscTimelapse(func(cfg internal.CameraConfig) (Camera, error) {
		if cam, ok := clients[cfg.Name]; ok {
			return cam, nil
		}
		return nil, errors.New("camera not connected")
	})
	for _, c := range cameras {
		if c.Address != "" {
			cam := inputs.NewOscCameraWithSender(inputs.OscCameraConfig{Name: c.Name}, s, osc.StaticURL(c.Address))
			clients[c.Name] = cam
			t.Cleanup(func() { cam.Close() })
		}
	}
	intgr.MonitorInterval = 20 * time.Millisecond
	intgr.ErrorBackoff = 10 * time.Millisecond
	intgr.waitStep = 5 * time.Millisecond
	intgr.StopTimeout = 2 * time.Second
	intgr.SetConfig(IntegrationConfig{Cameras: cameras})
	return intgr
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTimelapseTakesPicturesUntilStopped(t *testing.T) {
	s := &pictureSender{}
	intgr := newTimelapse(t, s, internal.CameraConfig{
		ID: 1, Name: "front", Address: "http://cam", PollingInterval: 3600,
		CaptureOptions: map[string]interface{}{"iso": 100},
	})
	if err := intgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, func() bool { return s.count() == 1 }, "first picture not taken")

	start := time.Now()
	intgr.Stop()
	if time.Since(start) > time.Second {
		t.Errorf("Stop took %s", time.Since(start))
	}
	if st := intgr.StateTracker.GetState(1); st.CurrentState != internal.WorkerStateStopped {
		t.Errorf("processor state = %+v", st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.options) != 1 || !strings.Contains(s.options[0], `"iso":100`) {
		t.Errorf("capture options not applied: %q", s.options)
	}
}

func TestTimelapseCountsFailures(t *testing.T) {
	s := &pictureSender{fail: true}
	intgr := newTimelapse(t, s, internal.CameraConfig{ID: 1, Name: "front", Address: "http://cam", PollingInterval: 3600})
	intgr.MonitorInterval = time.Hour
	if err := intgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer intgr.Stop()

	eventually(t, func() bool { _, failed := intgr.Counters(); return failed >= 2 }, "failed captures not retried after backoff")
	if st := intgr.LastRunStatus(); st.Status != integrations.RunStatusFailure || st.Camera != "front" || !strings.Contains(st.Message, "connection refused") {
		t.Errorf("last status = %+v", st)
	}
}

func TestTimelapseSkipsDisabledAndUnknownCameras(t *testing.T) {
	s := &pictureSender{}
	intgr := newTimelapse(t, s,
		internal.CameraConfig{ID: 1, Name: "off", Address: "http://cam", State: internal.CameraStateDisabled},
		internal.CameraConfig{ID: 2, Name: "ghost", PollingInterval: 1},
	)
	intgr.MonitorInterval = time.Hour
	if err := intgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer intgr.Stop()

	eventually(t, func() bool { return intgr.StateTracker.GetState(2).CurrentState == internal.WorkerStateStopped }, "processor without client did not stop")
	if st := intgr.StateTracker.GetState(1); st.CurrentState != internal.WorkerStateNotFound {
		t.Errorf("disabled camera got a processor: %+v", st)
	}
	if s.count() != 0 {
		t.Errorf("pictures taken = %d", s.count())
	}
}

func TestTimelapseApplyConfig(t *testing.T) {
	s := &pictureSender{}
	front := internal.CameraConfig{ID: 1, Name: "front", Address: "http://cam", PollingInterval: 3600}
	intgr := newTimelapse(t, s, front)
	intgr.MonitorInterval = time.Hour
	if err := intgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer intgr.Stop()
	eventually(t, func() bool { return s.count() == 1 }, "first picture not taken")

	if intgr.ApplyConfig(IntegrationConfig{Cameras: []internal.CameraConfig{front}}) {
		t.Error("unchanged config must not restart processors")
	}
	changed := front
	changed.CaptureOptions = map[string]interface{}{"iso": 200}
	if !intgr.ApplyConfig(IntegrationConfig{Cameras: []internal.CameraConfig{changed}}) {
		t.Fatal("changed config not applied")
	}
	eventually(t, func() bool { return s.count() == 2 }, "processor not restarted")
}

func TestTimelapseReloadConfigFromJson(t *testing.T) {
	s := &pictureSender{}
	intgr := newTimelapse(t, s, internal.CameraConfig{ID: 1, Name: "front", Address: "http://cam", PollingInterval: 3600})
	intgr.MonitorInterval = time.Hour
	if err := intgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer intgr.Stop()
	eventually(t, func() bool { return s.count() == 1 }, "first picture not taken")

	same := `{"Cameras":[{"ID":1,"Name":"front","Address":"http://cam","PollingInterval":3600}]}`
	if changed, err := intgr.ReloadConfigFromJson(json.RawMessage(same)); err != nil || changed {
		t.Errorf("unchanged reload = %v, %v", changed, err)
	}
	if _, err := intgr.ReloadConfigFromJson(json.RawMessage(`{"Cameras":`)); err == nil {
		t.Error("expected error for malformed config")
	}
	withOptions := `{"Cameras":[{"ID":1,"Name":"front","Address":"http://cam","PollingInterval":3600,"CaptureOptions":{"iso":400}}]}`
	if changed, err := intgr.ReloadConfigFromJson(json.RawMessage(withOptions)); err != nil || !changed {
		t.Fatalf("changed reload = %v, %v", changed, err)
	}
	eventually(t, func() bool { return s.count() == 2 }, "processor not restarted after reload")
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.options) != 1 || !strings.Contains(s.options[0], `"iso":400`) {
		t.Errorf("reloaded capture options not applied: %q", s.options)
	}
}

func TestTimelapseRunReportingDisabled(t *testing.T) {
	s := &pictureSender{fail: true}
	intgr := newTimelapse(t, s, internal.CameraConfig{ID: 1, Name: "front", Address: "http://cam", PollingInterval: 3600})
	intgr.MonitorInterval = time.Hour
	local := `{"Cameras":[{"ID":1,"Name":"front","Address":"http://cam","PollingInterval":3600}],"DisableRunReporting":true}`
	if err := intgr.LoadConfigFromJson(json.RawMessage(local)); err != nil {
		t.Fatalf("LoadConfigFromJson: %v", err)
	}
	if err := intgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer intgr.Stop()

	eventually(t, func() bool { _, failed := intgr.Counters(); return failed >= 1 }, "capture not attempted")
	if st := intgr.LastRunStatus(); st.Status != "" {
		t.Errorf("run status reported while disabled: %+v", st)
	}
}

func TestTimelapseWithoutCameras(t *testing.T) {
	intgr := NewOscTimelapse(nil)
	if err := intgr.Start(); err == nil {
		t.Error("expected error without cameras")
	}
	if err := intgr.LoadConfigFromJson(json.RawMessage(`{"Cameras":`)); err == nil {
		t.Error("expected error for malformed config")
	}
	if err := intgr.LoadConfigFromJson(json.RawMessage(`{"Cameras":[{"ID":4,"Name":"x","Address":"http://x"}]}`)); err != nil {
		t.Errorf("LoadConfigFromJson: %v", err)
	}
}

func TestReportCounters(t *testing.T) {
	intgr := NewOscTimelapse(nil)
	cases := []struct {
		success, failure uint64
		status, message  string
	}{
		{1, 0, integrations.RunStatusSuccess, "all cameras operational"},
		{2, 1, integrations.RunStatusSuccess, "some cameras not operational"},
		{0, 3, integrations.RunStatusFailure, "no camera operational"},
		{0, 0, integrations.RunStatusSeen, ""},
	}
	for _, c := range cases {
		intgr.successCounter.Store(c.success)
		intgr.failureCounter.Store(c.failure)
		intgr.reportCounters()
		if st := intgr.LastRunStatus(); st.Status != c.status || st.Message != c.message {
			t.Errorf("counters %d/%d reported %+v", c.success, c.failure, st)
		}
		if s, f := intgr.Counters(); s != 0 || f != 0 {
			t.Errorf("counters not reset: %d/%d", s, f)
		}
	}
}
