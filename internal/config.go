package internal

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cognitedata/edge-osc/drivers/osc"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const (
	CameraStateEnabled  = "enabled"
	CameraStateDisabled = "disabled"

	IntegrationOscTimelapse = "osc_timelapse"
	IntegrationEventStream  = "event_stream"
)

type CameraConfig struct {
	ID              uint64
	Name            string
	Address         string // base url of the OSC API, e.g. http://192.168.42.1
	Username        string
	Password        string // name of a secret, env variable or the password itself
	State           string
	PollingInterval int // seconds between timelapse captures
	CaptureOptions  map[string]interface{}
}

func (c *CameraConfig) IsEnabled() bool {
	return c.State == "" || c.State == CameraStateEnabled
}

type StaticConfig struct {
	Cameras []CameraConfig

	PollMaxAttempts     int
	PollIntervalMs      int
	HttpTimeoutSec      int
	ExposureCalcCleanup string // always | on_success
	QueueSize           int

	EnabledIntegrations []string
	EventStreamAddr     string
	LogLevel            string
	LogDir              string

	// LocalIntegrationConfig holds per integration settings keyed by integration name.
	LocalIntegrationConfig map[string]json.RawMessage `json:",omitempty"`

	Secrets map[string]string
}

// envOverrides are read with the OSC prefix, e.g. OSC_CAMERA_ADDRESS.
type envOverrides struct {
	CameraAddress   string `envconfig:"CAMERA_ADDRESS"`
	CameraUsername  string `envconfig:"CAMERA_USERNAME"`
	CameraPassword  string `envconfig:"CAMERA_PASSWORD"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	LogDir          string `envconfig:"LOG_DIR"`
	EventStreamAddr string `envconfig:"EVENT_STREAM_ADDR"`
}

const EnvPrefix = "OSC"

func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		Cameras: []CameraConfig{{
			ID:              1,
			Name:            "camera1",
			Address:         "http://192.168.42.1",
			State:           CameraStateEnabled,
			PollingInterval: 60,
		}},
		PollMaxAttempts:     osc.DefaultPollPolicy.MaxAttempts,
		PollIntervalMs:      int(osc.DefaultPollPolicy.Interval / time.Millisecond),
		HttpTimeoutSec:      15,
		ExposureCalcCleanup: osc.CleanupAlways.String(),
		EnabledIntegrations: []string{IntegrationOscTimelapse},
		EventStreamAddr:     ":8089",
		LogLevel:            "info",
	}
}

// LoadStaticConfig reads the json config file and applies OSC_* environment overrides.
func LoadStaticConfig(path string) (*StaticConfig, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config file")
	}
	return ParseStaticConfig(body)
}

func ParseStaticConfig(body []byte) (*StaticConfig, error) {
	var config StaticConfig
	if err := json.Unmarshal(body, &config); err != nil {
		return nil, errors.Wrap(err, "incorrect config file format")
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *StaticConfig) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return errors.Wrap(err, "invalid environment overrides")
	}
	if env.CameraAddress != "" || env.CameraUsername != "" || env.CameraPassword != "" {
		if len(c.Cameras) == 0 {
			c.Cameras = append(c.Cameras, CameraConfig{ID: 1, Name: "camera1", State: CameraStateEnabled})
		}
		cam := &c.Cameras[0]
		if env.CameraAddress != "" {
			cam.Address = env.CameraAddress
		}
		if env.CameraUsername != "" {
			cam.Username = env.CameraUsername
		}
		if env.CameraPassword != "" {
			cam.Password = env.CameraPassword
		}
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.LogDir != "" {
		c.LogDir = env.LogDir
	}
	if env.EventStreamAddr != "" {
		c.EventStreamAddr = env.EventStreamAddr
	}
	return nil
}

func (c *StaticConfig) applyDefaults() {
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = osc.DefaultPollPolicy.MaxAttempts
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = int(osc.DefaultPollPolicy.Interval / time.Millisecond)
	}
	if c.HttpTimeoutSec <= 0 {
		c.HttpTimeoutSec = 15
	}
	if c.ExposureCalcCleanup == "" {
		c.ExposureCalcCleanup = osc.CleanupAlways.String()
	}
	for i := range c.Cameras {
		if c.Cameras[i].ID == 0 {
			c.Cameras[i].ID = uint64(i + 1)
		}
	}
}

func (c *StaticConfig) Validate() error {
	if _, ok := osc.ParseExposureCleanup(c.ExposureCalcCleanup); !ok {
		return errors.Errorf("unsupported ExposureCalcCleanup value %q, expected always or on_success", c.ExposureCalcCleanup)
	}
	names := map[string]bool{}
	for _, cam := range c.Cameras {
		if cam.Name == "" {
			return errors.Errorf("camera %d has no name", cam.ID)
		}
		if names[cam.Name] {
			return errors.Errorf("duplicate camera name %s", cam.Name)
		}
		names[cam.Name] = true
		if cam.IsEnabled() && cam.Address == "" {
			return errors.Errorf("camera %s has no address", cam.Name)
		}
	}
	return nil
}

// IntegrationConfig returns the local config of the integration as a json object.
// The top level Cameras list is used when the local config doesn't define its own.
func (c *StaticConfig) IntegrationConfig(name string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if raw, ok := c.LocalIntegrationConfig[name]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, errors.Wrapf(err, "local config of %s must be a json object", name)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	if _, ok := fields["Cameras"]; !ok {
		cameras, err := json.Marshal(c.Cameras)
		if err != nil {
			return nil, err
		}
		fields["Cameras"] = cameras
	}
	return json.Marshal(fields)
}

func (c *StaticConfig) PollPolicy() osc.PollPolicy {
	return osc.PollPolicy{MaxAttempts: c.PollMaxAttempts, Interval: time.Duration(c.PollIntervalMs) * time.Millisecond}
}

func (c *StaticConfig) HttpTimeout() time.Duration {
	return time.Duration(c.HttpTimeoutSec) * time.Second
}

func (c *StaticConfig) ExposureCleanup() osc.ExposureCleanup {
	cleanup, _ := osc.ParseExposureCleanup(c.ExposureCalcCleanup)
	return cleanup
}

func (c *StaticConfig) IsIntegrationEnabled(name string) bool {
	for _, n := range c.EnabledIntegrations {
		if n == name {
			return true
		}
	}
	return false
}

// Camera returns the camera with the given name, or the first camera when name is empty.
func (c *StaticConfig) Camera(name string) (*CameraConfig, error) {
	if len(c.Cameras) == 0 {
		return nil, errors.New("no cameras configured")
	}
	if name == "" {
		return &c.Cameras[0], nil
	}
	for i := range c.Cameras {
		if c.Cameras[i].Name == name {
			return &c.Cameras[i], nil
		}
	}
	return nil, errors.Errorf("camera %s not found in config", name)
}
