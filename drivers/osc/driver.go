package osc

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Driver composes OSC commands into complete camera operations. Every
// operation stops at the first failing step and returns exactly one error.
// A Driver is not safe for concurrent use, the camera accepts one command
// chain at a time.
type Driver struct {
	exec    *Executor
	poller  *Poller
	cleanup ExposureCleanup
	log     *log.Entry
}

type DriverConfig struct {
	Poll            PollPolicy
	ExposureCleanup ExposureCleanup
}

func NewDriver(sender Sender, urls URLProvider, cfg DriverConfig) *Driver {
	exec := NewExecutor(sender, urls)
	return &Driver{
		exec:    exec,
		poller:  NewPoller(exec, cfg.Poll),
		cleanup: cfg.ExposureCleanup,
		log:     log.WithField("component", "osc-driver"),
	}
}

func (d *Driver) Poller() *Poller {
	return d.poller
}

// SetOptions applies camera options.
func (d *Driver) SetOptions(opts Options) error {
	resp, err := d.exec.Execute(CmdSetOptions, map[string]interface{}{"options": opts})
	if err != nil {
		return err
	}
	return resp.Expect(StateDone)
}

// configure is the optional first step of capture pipelines. Only an
// error or unexpected state fails the pipeline.
func (d *Driver) configure(opts Options) error {
	if opts == nil {
		return nil
	}
	resp, err := d.exec.Execute(CmdSetOptions, map[string]interface{}{"options": opts})
	if err != nil {
		return err
	}
	return resp.Expect(StateDone, StateInProgress)
}

// TakePicture applies opts when given, triggers a still capture and waits for the resulting files.
func (d *Driver) TakePicture(opts Options) ([]string, error) {
	if err := d.configure(opts); err != nil {
		return nil, err
	}
	return d.capture()
}

func (d *Driver) capture() ([]string, error) {
	resp, err := d.exec.Execute(CmdTakePicture, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(StateInProgress, StateDone); err != nil {
		return nil, err
	}
	if resp.State == StateInProgress {
		if resp.ID == "" {
			return nil, &ProtocolError{State: resp.State, Message: "in progress response without command id: " + resp.Raw}
		}
		d.log.Debugf("Capture %s in progress, polling status", resp.ID)
		resp, err = d.poller.PollUntilDone(resp.ID)
		if err != nil {
			return nil, err
		}
	}
	if !resp.HasResults() {
		return nil, &ProtocolError{State: resp.State, Message: "finished capture has no results: " + resp.Raw}
	}
	return ExtractFileURLs(resp.Results, FieldFileGroup, FieldFileURL)
}

// StartRecord applies opts when given and starts a video capture.
func (d *Driver) StartRecord(opts Options) error {
	if err := d.configure(opts); err != nil {
		return err
	}
	resp, err := d.exec.Execute(CmdStartCapture, nil)
	if err != nil {
		return err
	}
	return resp.Expect(StateDone)
}

// StopRecord stops the running capture. It returns the recorded files, or nil
// when the camera reports none.
func (d *Driver) StopRecord() ([]string, error) {
	resp, err := d.exec.Execute(CmdStopCapture, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(StateDone); err != nil {
		return nil, err
	}
	if !resp.HasResults() {
		return nil, nil
	}
	value, found, err := lookupFileList(resp.Results, FieldFileURLs)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return OrderRecordingFiles(SplitFileURLs(value)), nil
}

// CustomRequest sends body to an arbitrary OSC path (GET when body is nil)
// and returns the response body as is.
func (d *Driver) CustomRequest(path string, body []byte) (string, error) {
	return d.exec.Raw(path, body)
}

func (d *Driver) Info() (string, error) {
	return d.exec.Raw(InfoPath, nil)
}

func (d *Driver) State() (string, error) {
	return d.exec.Raw(StatePath, []byte("{}"))
}

// ListFiles lists files stored on the camera.
func (d *Driver) ListFiles(p ListFilesParams) (*FileList, error) {
	resp, err := d.exec.Execute(CmdListFiles, p.parameters())
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(StateDone); err != nil {
		return nil, err
	}
	if !resp.HasResults() {
		return &FileList{}, nil
	}
	return decodeFileList(resp.Results)
}

// GetCaptureExposure switches the camera to panoramic still mode, lets it compute
// the still exposure and reads the result back.
func (d *Driver) GetCaptureExposure() (*ExposureSnapshot, error) {
	if err := d.configure(stillModeOptions(sensorAll)); err != nil {
		return nil, err
	}
	if err := d.configure(Options{"_StillExpoCalc": 1}); err != nil {
		return nil, err
	}

	snap, readErr := d.readExposure()
	if readErr != nil && d.cleanup == CleanupOnSuccess {
		return nil, readErr
	}

	if err := d.configure(Options{"_StillExpoCalc": 0}); err != nil {
		if readErr != nil {
			d.log.Errorf("Can't disable still exposure calculation after failed read: %s", err.Error())
			return nil, readErr
		}
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	return snap, nil
}

func (d *Driver) readExposure() (*ExposureSnapshot, error) {
	resp, err := d.exec.Execute(CmdGetOptions, map[string]interface{}{"optionNames": exposureOptionNames})
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(StateDone, StateInProgress); err != nil {
		return nil, err
	}
	if !resp.HasResults() {
		return nil, &ProtocolError{State: resp.State, Message: "getOptions response has no results: " + resp.Raw}
	}
	return decodeExposure(resp.Results)
}

// TakeSingleSensorPicture captures with one lens using a previously read exposure.
func (d *Driver) TakeSingleSensorPicture(sensor Sensor, exposure ExposureSnapshot) ([]string, error) {
	if !sensor.validSingle() {
		return nil, errors.Wrapf(ErrInvalidSensor, "sensor %d", int(sensor))
	}
	if err := d.configure(stillModeOptions(sensor)); err != nil {
		return nil, err
	}
	if err := d.configure(exposure.Options()); err != nil {
		return nil, err
	}
	return d.capture()
}
