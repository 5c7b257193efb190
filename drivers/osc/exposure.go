package osc

import (
	"encoding/json"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ExposureSnapshot holds the still exposure computed by the camera so it can be
// replayed on a single sensor capture.
type ExposureSnapshot struct {
	ExposureProgram int     `json:"exposureProgram" mapstructure:"exposureProgram"`
	ISO             int     `json:"iso" mapstructure:"iso"`
	ShutterSpeed    float64 `json:"shutterSpeed" mapstructure:"shutterSpeed"`
	WhiteBalance    string  `json:"whiteBalance" mapstructure:"whiteBalance"`
	WbRGain         int     `json:"_WbRGain" mapstructure:"_WbRGain"`
	WbBGain         int     `json:"_WbBGain" mapstructure:"_WbBGain"`
}

var exposureOptionNames = []string{"exposureProgram", "iso", "shutterSpeed", "whiteBalance", "_WbRGain", "_WbBGain"}

// Options returns the snapshot as camera.setOptions options.
func (e ExposureSnapshot) Options() Options {
	return Options{
		"exposureProgram": e.ExposureProgram,
		"iso":             e.ISO,
		"shutterSpeed":    e.ShutterSpeed,
		"whiteBalance":    e.WhiteBalance,
		"_WbRGain":        e.WbRGain,
		"_WbBGain":        e.WbBGain,
	}
}

// ExposureCleanup decides whether _StillExpoCalc is switched off again when reading the snapshot fails.
type ExposureCleanup int

const (
	// CleanupAlways disables the calculation whenever it was enabled and reports the read error afterwards.
	CleanupAlways ExposureCleanup = iota
	// CleanupOnSuccess only disables the calculation after a successful read and leaves the camera untouched otherwise.
	CleanupOnSuccess
)

func ParseExposureCleanup(s string) (ExposureCleanup, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return CleanupAlways, true
	case "on_success":
		return CleanupOnSuccess, true
	}
	return CleanupAlways, false
}

func (c ExposureCleanup) String() string {
	if c == CleanupOnSuccess {
		return "on_success"
	}
	return "always"
}

// Sensor selects the lens used by single sensor captures.
type Sensor int

const (
	SensorFront Sensor = 1
	SensorRear  Sensor = 2
	sensorAll   Sensor = 3
)

var ErrInvalidSensor = errors.New("single sensor capture needs sensor 1 (front) or 2 (rear)")

func (s Sensor) validSingle() bool {
	return s == SensorFront || s == SensorRear
}

func (s Sensor) multiVideoMode() string {
	switch s {
	case SensorFront:
		return "front"
	case sensorAll:
		return "all"
	}
	return "rear"
}

func stillModeOptions(s Sensor) Options {
	return Options{
		"hdr":             "off",
		"captureMode":     "image",
		"_FocusSensor":    int(s),
		"_MultiVideoMode": s.multiVideoMode(),
	}
}

type getOptionsResults struct {
	Options map[string]interface{} `json:"options"`
}

func decodeExposure(results json.RawMessage) (*ExposureSnapshot, error) {
	var res getOptionsResults
	if err := json.Unmarshal(results, &res); err != nil {
		return nil, &ProtocolError{Message: "malformed getOptions results: " + err.Error()}
	}
	if res.Options == nil {
		return nil, &ProtocolError{Message: "getOptions results carry no options"}
	}
	for _, name := range exposureOptionNames {
		if v, ok := res.Options[name]; !ok || v == nil {
			return nil, &ProtocolError{Message: "getOptions results miss option " + name}
		}
	}

	var snap ExposureSnapshot
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &snap,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(res.Options); err != nil {
		return nil, &ProtocolError{Message: "can't decode exposure options: " + err.Error()}
	}
	return &snap, nil
}
