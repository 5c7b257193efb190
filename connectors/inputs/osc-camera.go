package inputs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cognitedata/edge-osc/drivers/osc"
	"github.com/cognitedata/edge-osc/internal"
	"github.com/cskr/pubsub/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrCameraClosed = errors.New("camera client is closed")

const (
	workerID     uint64 = 1
	dispatcherID uint64 = 2
)

type Kind string

const (
	KindStarted   Kind = "started"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
)

// Event is published on the camera event bus under the camera name and under "<camera>/<kind>".
type Event struct {
	Topic        string      `json:"topic"`
	Camera       string      `json:"camera"`
	SubmissionID uint64      `json:"submissionId"`
	Operation    string      `json:"operation"`
	Kind         Kind        `json:"kind"`
	Value        interface{} `json:"value,omitempty"`
	Error        string      `json:"error,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Outcome is the single result of a submission. Value is nil, []string, *osc.ExposureSnapshot, *osc.FileList or string.
type Outcome struct {
	Value interface{}
	Err   error
}

// Callbacks are optional hooks invoked from the dispatcher goroutine, never concurrently.
// A callback may submit further operations but must not wait for their outcome.
type Callbacks struct {
	OnStart   func()
	OnSuccess func(value interface{})
	OnError   func(err error)
}

// Pending is the future returned for every submission.
type Pending struct {
	ID        uint64
	Operation string
	done      chan struct{}
	outcome   Outcome
}

func newPending(id uint64, operation string) *Pending {
	return &Pending{ID: id, Operation: operation, done: make(chan struct{})}
}

func (p *Pending) complete(o Outcome) {
	p.outcome = o
	close(p.done)
}

// Done is closed once the outcome is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Outcome blocks until the submission finished.
func (p *Pending) Outcome() Outcome {
	<-p.done
	return p.outcome
}

// Wait blocks until the submission finished or ctx is done. Cancelling ctx does not cancel the camera operation.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type job struct {
	pending *Pending
	cb      Callbacks
	run     func() (interface{}, error)
}

type notice struct {
	job  *job
	kind Kind
	out  Outcome
}

type OscCameraConfig struct {
	Name            string
	Address         string
	Username        string
	Password        string
	HttpTimeout     time.Duration
	Poll            osc.PollPolicy
	ExposureCleanup osc.ExposureCleanup
	// QueueSize is the initial queue capacity. Submit never blocks, the queue grows past it.
	QueueSize       int
	BusCapacity     int
	CloseTimeout    time.Duration
}

// OscCamera is the client of one OSC camera. Submissions are executed one at a time in submission order
// by a single worker goroutine, outcomes are delivered by a separate dispatcher goroutine.
type OscCamera struct {
	name         string
	driver       *osc.Driver
	queue        []*job
	wake         *sync.Cond
	notices      chan notice
	bus          *pubsub.PubSub[string, Event]
	busMux       sync.Mutex
	busDown      bool
	states       *internal.StateTracker
	closeTimeout time.Duration
	mux          sync.Mutex
	closed       bool
	lastID       uint64
	log          *log.Entry
}

func NewOscCamera(cfg OscCameraConfig) (*OscCamera, error) {
	if cfg.Address == "" {
		return nil, errors.Errorf("camera %s has no address", cfg.Name)
	}
	sender := osc.NewHttpSender(cfg.HttpTimeout, cfg.Username, cfg.Password)
	return NewOscCameraWithSender(cfg, sender, osc.StaticURL(cfg.Address)), nil
}

// NewOscCameraWithSender creates a client on top of a custom transport.
func NewOscCameraWithSender(cfg OscCameraConfig, sender osc.Sender, urls osc.URLProvider) *OscCamera {
	driver := osc.NewDriver(sender, urls, osc.DriverConfig{Poll: cfg.Poll, ExposureCleanup: cfg.ExposureCleanup})
	return newOscCamera(cfg, driver)
}

func newOscCamera(cfg OscCameraConfig, driver *osc.Driver) *OscCamera {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.BusCapacity <= 0 {
		cfg.BusCapacity = 16
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 120 * time.Second
	}
	cam := &OscCamera{
		name:         cfg.Name,
		driver:       driver,
		queue:        make([]*job, 0, cfg.QueueSize),
		notices:      make(chan notice, cfg.QueueSize*2),
		bus:          pubsub.New[string, Event](cfg.BusCapacity),
		states:       internal.NewStateTracker(),
		closeTimeout: cfg.CloseTimeout,
		log:          log.WithField("camera", cfg.Name),
	}
	cam.wake = sync.NewCond(&cam.mux)
	cam.states.SetTargetState(workerID, internal.WorkerStateRunning)
	cam.states.SetTargetState(dispatcherID, internal.WorkerStateRunning)
	cam.states.SetCurrentState(workerID, internal.WorkerStateStarting)
	cam.states.SetCurrentState(dispatcherID, internal.WorkerStateStarting)
	go cam.runWorker()
	go cam.runDispatcher()
	return cam
}

func (cam *OscCamera) Name() string {
	return cam.name
}

// Driver returns the underlying driver. Calling it directly bypasses the job queue.
func (cam *OscCamera) Driver() *osc.Driver {
	return cam.driver
}

// Subscribe returns a channel receiving all events of this camera, or only the given kinds.
// Subscribers must keep draining the channel. After Close the returned channel is already closed.
func (cam *OscCamera) Subscribe(kinds ...Kind) chan Event {
	topics := []string{cam.name}
	if len(kinds) > 0 {
		topics = topics[:0]
		for _, k := range kinds {
			topics = append(topics, KindTopic(cam.name, k))
		}
	}
	cam.busMux.Lock()
	defer cam.busMux.Unlock()
	if cam.busDown {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return cam.bus.Sub(topics...)
}

// Unsubscribe removes ch from all topics. The channel is drained until the bus confirms the removal.
func (cam *OscCamera) Unsubscribe(ch chan Event) {
	cam.busMux.Lock()
	defer cam.busMux.Unlock()
	if cam.busDown {
		return
	}
	go func() {
		for range ch {
		}
	}()
	cam.bus.Unsub(ch)
}

func KindTopic(camera string, kind Kind) string {
	return camera + "/" + string(kind)
}

// Submit enqueues run without blocking. The returned Pending always completes exactly once.
func (cam *OscCamera) Submit(operation string, cb Callbacks, run func() (interface{}, error)) *Pending {
	cam.mux.Lock()
	defer cam.mux.Unlock()
	cam.lastID++
	p := newPending(cam.lastID, operation)
	if cam.closed {
		cam.log.Errorf("Submission %d (%s) rejected, camera client is closed", p.ID, operation)
		p.complete(Outcome{Err: ErrCameraClosed})
		return p
	}
	cam.queue = append(cam.queue, &job{pending: p, cb: cb, run: run})
	cam.wake.Signal()
	return p
}

// next blocks until a job is queued. It returns nil once the client is closed and the queue is empty.
func (cam *OscCamera) next() *job {
	cam.mux.Lock()
	defer cam.mux.Unlock()
	for len(cam.queue) == 0 && !cam.closed {
		cam.wake.Wait()
	}
	if len(cam.queue) == 0 {
		return nil
	}
	j := cam.queue[0]
	cam.queue[0] = nil
	cam.queue = cam.queue[1:]
	return j
}

func (cam *OscCamera) runWorker() {
	defer cam.states.SetCurrentState(workerID, internal.WorkerStateStopped)
	cam.states.SetCurrentState(workerID, internal.WorkerStateRunning)
	for j := cam.next(); j != nil; j = cam.next() {
		cam.notices <- notice{job: j, kind: KindStarted}
		out := cam.execute(j)
		kind := KindSucceeded
		if out.Err != nil {
			kind = KindFailed
		}
		cam.notices <- notice{job: j, kind: kind, out: out}
	}
	close(cam.notices)
}

// execute runs one pipeline. A panic is converted into the submission's error.
func (cam *OscCamera) execute(j *job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			cam.log.Error("Camera operation crashed with error : ", stack)
			out = Outcome{Err: fmt.Errorf("%s crashed: %v", j.pending.Operation, r)}
		}
	}()
	cam.log.Debugf("Executing submission %d (%s)", j.pending.ID, j.pending.Operation)
	value, err := j.run()
	if err != nil {
		cam.log.Errorf("Submission %d (%s) failed : %s", j.pending.ID, j.pending.Operation, err.Error())
		return Outcome{Err: err}
	}
	return Outcome{Value: value}
}

func (cam *OscCamera) runDispatcher() {
	defer cam.states.SetCurrentState(dispatcherID, internal.WorkerStateStopped)
	cam.states.SetCurrentState(dispatcherID, internal.WorkerStateRunning)
	for n := range cam.notices {
		cam.deliver(n)
	}
}

func (cam *OscCamera) deliver(n notice) {
	j := n.job
	cam.invoke(j, func() {
		switch n.kind {
		case KindStarted:
			if j.cb.OnStart != nil {
				j.cb.OnStart()
			}
		case KindSucceeded:
			if j.cb.OnSuccess != nil {
				j.cb.OnSuccess(n.out.Value)
			}
		case KindFailed:
			if j.cb.OnError != nil {
				j.cb.OnError(n.out.Err)
			}
		}
	})

	ev := Event{
		Topic:        cam.name,
		Camera:       cam.name,
		SubmissionID: j.pending.ID,
		Operation:    j.pending.Operation,
		Kind:         n.kind,
		Value:        n.out.Value,
		Timestamp:    time.Now(),
	}
	if n.out.Err != nil {
		ev.Error = n.out.Err.Error()
	}
	cam.bus.Pub(ev, cam.name, KindTopic(cam.name, n.kind))

	if n.kind != KindStarted {
		j.pending.complete(n.out)
	}
}

func (cam *OscCamera) invoke(j *job, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			cam.log.Errorf("Callback of submission %d crashed with error : %s", j.pending.ID, stack)
		}
	}()
	fn()
}

// Close stops accepting submissions, lets the queued ones finish and shuts the event bus down.
func (cam *OscCamera) Close() error {
	cam.mux.Lock()
	if cam.closed {
		cam.mux.Unlock()
		return nil
	}
	cam.closed = true
	cam.wake.Broadcast()
	cam.mux.Unlock()

	cam.log.Info("Closing camera client, draining queued submissions")
	cam.states.SetTargetState(workerID, internal.WorkerStateStopped)
	cam.states.SetTargetState(dispatcherID, internal.WorkerStateStopped)
	if !cam.states.WaitForTargetState(workerID, cam.closeTimeout) || !cam.states.WaitForTargetState(dispatcherID, cam.closeTimeout) {
		return errors.Errorf("camera %s: queued submissions did not finish within %s", cam.name, cam.closeTimeout)
	}
	cam.busMux.Lock()
	cam.bus.Shutdown()
	cam.busDown = true
	cam.busMux.Unlock()
	cam.log.Info("Camera client closed")
	return nil
}

func (cam *OscCamera) SetOptions(opts osc.Options, cb Callbacks) *Pending {
	return cam.Submit("setOptions", cb, func() (interface{}, error) {
		return nil, cam.driver.SetOptions(opts)
	})
}

// TakePicture applies opts (skipped when nil), takes a picture and completes with the []string file URLs.
func (cam *OscCamera) TakePicture(opts osc.Options, cb Callbacks) *Pending {
	return cam.Submit("takePicture", cb, func() (interface{}, error) {
		return filesOutcome(cam.driver.TakePicture(opts))
	})
}

func (cam *OscCamera) StartRecord(opts osc.Options, cb Callbacks) *Pending {
	return cam.Submit("startRecord", cb, func() (interface{}, error) {
		return nil, cam.driver.StartRecord(opts)
	})
}

// StopRecord completes with the recorded []string file URLs, or a nil value when the camera reports none.
func (cam *OscCamera) StopRecord(cb Callbacks) *Pending {
	return cam.Submit("stopRecord", cb, func() (interface{}, error) {
		return filesOutcome(cam.driver.StopRecord())
	})
}

// CustomRequest completes with the raw response body.
func (cam *OscCamera) CustomRequest(path string, body []byte, cb Callbacks) *Pending {
	return cam.Submit("customRequest", cb, func() (interface{}, error) {
		return stringOutcome(cam.driver.CustomRequest(path, body))
	})
}

// GetCaptureExposure completes with *osc.ExposureSnapshot.
func (cam *OscCamera) GetCaptureExposure(cb Callbacks) *Pending {
	return cam.Submit("getCaptureExposure", cb, func() (interface{}, error) {
		snap, err := cam.driver.GetCaptureExposure()
		if err != nil {
			return nil, err
		}
		return snap, nil
	})
}

func (cam *OscCamera) TakeSingleSensorPicture(sensor osc.Sensor, exposure osc.ExposureSnapshot, cb Callbacks) *Pending {
	return cam.Submit("takeSingleSensorPicture", cb, func() (interface{}, error) {
		return filesOutcome(cam.driver.TakeSingleSensorPicture(sensor, exposure))
	})
}

// ListFiles completes with *osc.FileList.
func (cam *OscCamera) ListFiles(params osc.ListFilesParams, cb Callbacks) *Pending {
	return cam.Submit("listFiles", cb, func() (interface{}, error) {
		list, err := cam.driver.ListFiles(params)
		if err != nil {
			return nil, err
		}
		return list, nil
	})
}

func (cam *OscCamera) Info(cb Callbacks) *Pending {
	return cam.Submit("info", cb, func() (interface{}, error) {
		return stringOutcome(cam.driver.Info())
	})
}

func (cam *OscCamera) State(cb Callbacks) *Pending {
	return cam.Submit("state", cb, func() (interface{}, error) {
		return stringOutcome(cam.driver.State())
	})
}

// filesOutcome keeps a nil file list as an untyped nil value.
func filesOutcome(files []string, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if files == nil {
		return nil, nil
	}
	return files, nil
}

func stringOutcome(body string, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return body, nil
}
