package osc_timelapse

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cognitedata/edge-osc/connectors/inputs"
	"github.com/cognitedata/edge-osc/drivers/osc"
	"github.com/cognitedata/edge-osc/integrations"
	"github.com/cognitedata/edge-osc/internal"
)

const IntegrationID = internal.IntegrationOscTimelapse

// Camera is the part of inputs.OscCamera the timelapse needs.
type Camera interface {
	Name() string
	TakePicture(opts osc.Options, cb inputs.Callbacks) *inputs.Pending
}

// CameraProvider returns the client for a configured camera.
type CameraProvider func(cfg internal.CameraConfig) (Camera, error)

// OscTimelapse periodically takes a picture with every enabled camera.
type OscTimelapse struct {
	*integrations.BaseIntegration
	successCounter    atomic.Uint64
	failureCounter    atomic.Uint64
	cameras           CameraProvider
	configMux         sync.Mutex
	integrationConfig IntegrationConfig
	MonitorInterval   time.Duration
	ErrorBackoff      time.Duration
	waitStep          time.Duration
}

func NewOscTimelapse(cameras CameraProvider) *OscTimelapse {
	return &OscTimelapse{
		BaseIntegration: integrations.NewIntegration(IntegrationID),
		cameras:         cameras,
		MonitorInterval: 60 * time.Second,
		ErrorBackoff:    60 * time.Second,
		waitStep:        100 * time.Millisecond,
	}
}

func (intgr *OscTimelapse) SetConfig(config IntegrationConfig) {
	intgr.configMux.Lock()
	defer intgr.configMux.Unlock()
	intgr.integrationConfig = config.Clone()
	intgr.DisableRunReporting(config.DisableRunReporting)
}

func (intgr *OscTimelapse) parseConfig(config json.RawMessage) (IntegrationConfig, error) {
	var localConfig IntegrationConfig
	if err := json.Unmarshal(config, &localConfig); err != nil {
		intgr.Log().Error("Failed to unmarshal local config with error : ", err.Error())
		return localConfig, err
	}
	return localConfig, nil
}

// LoadConfigFromJson sets the config before Start.
func (intgr *OscTimelapse) LoadConfigFromJson(config json.RawMessage) error {
	localConfig, err := intgr.parseConfig(config)
	if err != nil {
		return err
	}
	intgr.SetConfig(localConfig)
	intgr.Log().Info("Local config has been loaded successfully. Cameras count = ", len(localConfig.Cameras))
	return nil
}

// ReloadConfigFromJson applies a new config to the running integration and reports whether processors were restarted.
func (intgr *OscTimelapse) ReloadConfigFromJson(config json.RawMessage) (bool, error) {
	localConfig, err := intgr.parseConfig(config)
	if err != nil {
		return false, err
	}
	return intgr.ApplyConfig(localConfig), nil
}

func (intgr *OscTimelapse) Start() error {
	intgr.configMux.Lock()
	cameras := intgr.integrationConfig.Cameras
	intgr.configMux.Unlock()
	if len(cameras) == 0 {
		return fmt.Errorf("no cameras configured for %s", IntegrationID)
	}
	intgr.SetRunning(true)
	intgr.startProcessors(cameras)
	go intgr.startSelfMonitoring()
	return nil
}

func (intgr *OscTimelapse) Stop() {
	intgr.SetRunning(false)
	intgr.configMux.Lock()
	cameras := intgr.integrationConfig.Cameras
	intgr.configMux.Unlock()
	for _, camera := range cameras {
		intgr.StopProcessor(camera.ID)
	}
}

// ApplyConfig restarts all processors when config differs from the running one.
func (intgr *OscTimelapse) ApplyConfig(config IntegrationConfig) bool {
	intgr.DisableRunReporting(config.DisableRunReporting)
	intgr.configMux.Lock()
	intgr.integrationConfig.DisableRunReporting = config.DisableRunReporting
	if intgr.integrationConfig.IsEqual(&config) {
		intgr.configMux.Unlock()
		return false
	}
	old := intgr.integrationConfig.Cameras
	intgr.integrationConfig = config.Clone()
	cameras := intgr.integrationConfig.Cameras
	intgr.configMux.Unlock()

	intgr.Log().Info("Config has been changed . Restarting processors")
	for _, camera := range old {
		intgr.StopProcessor(camera.ID)
	}
	if intgr.IsRunning() {
		intgr.startProcessors(cameras)
	}
	return true
}

// Counters returns successful and failed captures since the last status report.
func (intgr *OscTimelapse) Counters() (uint64, uint64) {
	return intgr.successCounter.Load(), intgr.failureCounter.Load()
}

func (intgr *OscTimelapse) startProcessors(cameras []internal.CameraConfig) {
	for _, camera := range cameras {
		if !camera.IsEnabled() {
			intgr.Log().Infof("Camera %s is disabled , operation skipped", camera.Name)
			continue
		}
		intgr.StateTracker.SetCurrentState(camera.ID, internal.WorkerStateStarting)
		intgr.StateTracker.SetTargetState(camera.ID, internal.WorkerStateRunning)
		go intgr.startSingleCameraProcessorLoop(camera)
	}
}

// startSelfMonitoring periodically reports the run status based on capture counters.
func (intgr *OscTimelapse) startSelfMonitoring() {
	for intgr.IsRunning() {
		if !intgr.sleep(0, intgr.MonitorInterval) {
			return
		}
		intgr.reportCounters()
	}
}

// reportCounters reports the run status since the previous report and resets the counters.
func (intgr *OscTimelapse) reportCounters() {
	success := intgr.successCounter.Swap(0)
	failure := intgr.failureCounter.Swap(0)
	switch {
	case success > 0 && failure == 0:
		intgr.ReportRunStatus("", integrations.RunStatusSuccess, "all cameras operational")
	case success > 0 && failure > 0:
		intgr.ReportRunStatus("", integrations.RunStatusSuccess, "some cameras not operational")
	case failure > 0:
		intgr.ReportRunStatus("", integrations.RunStatusFailure, "no camera operational")
	default:
		intgr.ReportRunStatus("", integrations.RunStatusSeen, "")
	}
}

// sleep waits d in small steps and returns false as soon as the integration or processor procId is asked to stop.
func (intgr *OscTimelapse) sleep(procId uint64, d time.Duration) bool {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		if !intgr.IsRunning() || (procId != 0 && intgr.StateTracker.IsStopRequested(procId)) {
			return false
		}
		step := intgr.waitStep
		if left := time.Until(end); left < step {
			step = left
		}
		time.Sleep(step)
	}
	return intgr.IsRunning() && (procId == 0 || !intgr.StateTracker.IsStopRequested(procId))
}

// startSingleCameraProcessorLoop is blocking and must be started in its own goroutine.
func (intgr *OscTimelapse) startSingleCameraProcessorLoop(camera internal.CameraConfig) {
	log := intgr.Log().WithField("camera", camera.Name)
	log.Infof("Starting camera processor %s", camera.Name)
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			log.Error("Camera processor crashed with error : ", stack)
		}
		intgr.StateTracker.SetCurrentState(camera.ID, internal.WorkerStateStopped)
	}()

	pollingInterval := time.Duration(camera.PollingInterval) * time.Second
	if pollingInterval <= 0 {
		pollingInterval = 60 * time.Second
	}

	cam, err := intgr.cameras(camera)
	if err != nil {
		log.Errorf("Processor can't be started for camera %s . Error : %s", camera.Name, err.Error())
		intgr.failureCounter.Add(1)
		intgr.ReportRunStatus(camera.Name, integrations.RunStatusFailure, err.Error())
		return
	}
	intgr.StateTracker.SetCurrentState(camera.ID, internal.WorkerStateRunning)
	for {
		wait := pollingInterval
		if err := intgr.executeProcessorRun(camera, cam); err != nil {
			wait = intgr.ErrorBackoff
		}
		if !intgr.sleep(camera.ID, wait) {
			break
		}
	}
	log.Infof("Processor %d exited main loop ", camera.ID)
}

// executeProcessorRun takes one picture and waits for the outcome.
func (intgr *OscTimelapse) executeProcessorRun(camera internal.CameraConfig, cam Camera) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			intgr.failureCounter.Add(1)
			intgr.ReportRunStatus(camera.Name, integrations.RunStatusFailure, fmt.Sprintf("executeProcessorRun crashed with error :%s", stack))
			err = fmt.Errorf("processor run crashed: %v", r)
		}
	}()

	var opts osc.Options
	if len(camera.CaptureOptions) > 0 {
		opts = osc.Options(camera.CaptureOptions)
	}
	out := cam.TakePicture(opts, inputs.Callbacks{}).Outcome()
	if out.Err != nil {
		intgr.failureCounter.Add(1)
		intgr.ReportRunStatus(camera.Name, integrations.RunStatusFailure, fmt.Sprintf("failed to take picture, err :%s", out.Err.Error()))
		return out.Err
	}
	intgr.successCounter.Add(1)
	intgr.Log().WithField("camera", camera.Name).Debugf("Picture taken : %v", out.Value)
	return nil
}
