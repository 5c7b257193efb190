package osc

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// PollPolicy bounds the status polling of a long running command.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

var DefaultPollPolicy = PollPolicy{MaxAttempts: 60, Interval: 500 * time.Millisecond}

type Poller struct {
	exec   *Executor
	policy PollPolicy
	sleep  func(time.Duration)
}

func NewPoller(exec *Executor, policy PollPolicy) *Poller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPollPolicy.MaxAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPollPolicy.Interval
	}
	return &Poller{exec: exec, policy: policy, sleep: time.Sleep}
}

// SetSleep replaces the function used to wait between attempts.
func (p *Poller) SetSleep(sleep func(time.Duration)) {
	p.sleep = sleep
}

func (p *Poller) Policy() PollPolicy {
	return p.policy
}

// PollUntilDone queries the status of command id until it reports "done" or
// the attempt budget runs out. Failed or unfinished attempts are not terminal.
// The calling goroutine is blocked for the whole duration.
func (p *Poller) PollUntilDone(id string) (*Response, error) {
	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		resp, err := p.exec.Status(id)
		if err == nil && resp.State == StateDone {
			log.Debugf("Command %s finished after %d status queries", id, attempt)
			return resp, nil
		}
		if err != nil {
			log.Debugf("Status query %d/%d for command %s failed: %s", attempt, p.policy.MaxAttempts, id, err.Error())
		}
		if attempt < p.policy.MaxAttempts {
			p.sleep(p.policy.Interval)
		}
	}
	log.Warnf("Command %s didn't finish after %d status queries", id, p.policy.MaxAttempts)
	return nil, &TimeoutError{ID: id, Attempts: p.policy.MaxAttempts}
}
