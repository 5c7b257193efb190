package integrations

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cognitedata/edge-osc/internal"
	log "github.com/sirupsen/logrus"
)

const (
	RunStatusSuccess = "success"
	RunStatusFailure = "failure"
	RunStatusSeen    = "seen"
)

type RunStatus struct {
	Camera    string
	Status    string
	Message   string
	Timestamp time.Time
}

// BaseIntegration is embedded by all integrations. Integrations are long running processes that internally run one or more processors (goroutines).
// All processors share the same logic but are configured differently. StateTracker is used to track the state of all processors and to control them.
type BaseIntegration struct {
	ID           string
	StateTracker *internal.StateTracker
	StopTimeout  time.Duration
	running      atomic.Bool

	statusMux           sync.Mutex
	lastStatus          RunStatus
	disableRunReporting bool
	log                 *log.Entry
}

func NewIntegration(id string) *BaseIntegration {
	return &BaseIntegration{
		ID:           id,
		StateTracker: internal.NewStateTracker(),
		StopTimeout:  120 * time.Second,
		log:          log.WithField("integration", id),
	}
}

func (intgr *BaseIntegration) Log() *log.Entry {
	return intgr.log
}

func (intgr *BaseIntegration) IsRunning() bool {
	return intgr.running.Load()
}

func (intgr *BaseIntegration) SetRunning(state bool) {
	intgr.running.Store(state)
}

func (intgr *BaseIntegration) DisableRunReporting(state bool) {
	intgr.statusMux.Lock()
	defer intgr.statusMux.Unlock()
	intgr.disableRunReporting = state
}

// StopProcessor asks the processor to stop and waits until it exits its loop.
func (intgr *BaseIntegration) StopProcessor(procId uint64) bool {
	procState := intgr.StateTracker.GetState(procId)
	if procState.CurrentState == internal.WorkerStateStopped || procState.CurrentState == internal.WorkerStateNotFound {
		intgr.log.Infof("Processor %d is already stopped or not found", procId)
		return true
	}
	intgr.log.Infof("Sending stop signal to processor %d ", procId)
	intgr.StateTracker.SetTargetState(procId, internal.WorkerStateStopped)
	if intgr.StateTracker.WaitForTargetState(procId, intgr.StopTimeout) {
		intgr.log.Infof("Processor %d has been stopped", procId)
		return true
	}
	intgr.log.Errorf("Failed to stop processor %d. Previous instance is still running", procId)
	return false
}

// ReportRunStatus logs the run status and keeps it as the integration's last known status.
func (intgr *BaseIntegration) ReportRunStatus(camera, status, msg string) {
	intgr.statusMux.Lock()
	defer intgr.statusMux.Unlock()
	if intgr.disableRunReporting {
		return
	}
	intgr.lastStatus = RunStatus{Camera: camera, Status: status, Message: msg, Timestamp: time.Now()}
	entry := intgr.log.WithField("status", status)
	if camera != "" {
		entry = entry.WithField("camera", camera)
	}
	if status == RunStatusFailure {
		entry.Error(msg)
	} else {
		entry.Info(msg)
	}
}

func (intgr *BaseIntegration) LastRunStatus() RunStatus {
	intgr.statusMux.Lock()
	defer intgr.statusMux.Unlock()
	return intgr.lastStatus
}
