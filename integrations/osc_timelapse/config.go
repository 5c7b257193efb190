package osc_timelapse

import (
	"reflect"

	"github.com/cognitedata/edge-osc/internal"
)

type IntegrationConfig struct {
	Cameras []internal.CameraConfig
	// DisableRunReporting mutes run status reports, captures keep running.
	DisableRunReporting bool
}

func cameraEqual(c, other *internal.CameraConfig) bool {
	return c.ID == other.ID &&
		c.Name == other.Name &&
		c.Address == other.Address &&
		c.Username == other.Username &&
		c.Password == other.Password &&
		c.State == other.State &&
		c.PollingInterval == other.PollingInterval &&
		reflect.DeepEqual(c.CaptureOptions, other.CaptureOptions)
}

// IsEqual compares the cameras of IntegrationConfig with another IntegrationConfig
func (c *IntegrationConfig) IsEqual(other *IntegrationConfig) bool {
	if len(c.Cameras) != len(other.Cameras) {
		return false
	}
	for i := range c.Cameras {
		if !cameraEqual(&c.Cameras[i], &other.Cameras[i]) {
			return false
		}
	}
	return true
}

// Clone returns a copy of IntegrationConfig. Capture options are shared.
func (c *IntegrationConfig) Clone() IntegrationConfig {
	clone := IntegrationConfig{DisableRunReporting: c.DisableRunReporting}
	clone.Cameras = make([]internal.CameraConfig, len(c.Cameras))
	copy(clone.Cameras, c.Cameras)
	return clone
}
