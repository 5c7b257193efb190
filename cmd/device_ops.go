package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cognitedata/edge-osc/connectors/inputs"
	"github.com/cognitedata/edge-osc/drivers/osc"
	"github.com/cognitedata/edge-osc/internal"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// deviceOps are one-shot camera operations executed from the command line.
var deviceOps = []string{"set_options", "take_picture", "start_record", "stop_record", "get_exposure",
	"single_sensor_picture", "list_files", "custom", "info", "state"}

type deviceFlags struct {
	camera     *string
	options    *string
	sensor     *int
	exposure   *string
	path       *string
	body       *string
	fileType   *string
	entryCount *int
	wait       *time.Duration
}

func registerDeviceFlags() deviceFlags {
	return deviceFlags{
		camera:     flag.String("camera", "", "Camera name from config, first camera when empty"),
		options:    flag.String("options", "", "Camera options as json object"),
		sensor:     flag.Int("sensor", 1, "Sensor for single_sensor_picture : 1 front, 2 rear"),
		exposure:   flag.String("exposure", "", "Exposure json for single_sensor_picture, read from the camera when empty"),
		path:       flag.String("path", osc.InfoPath, "OSC path for custom operation"),
		body:       flag.String("body", "", "Request body for custom operation, GET is used when empty"),
		fileType:   flag.String("file_type", "all", "File type for list_files : all, image or video"),
		entryCount: flag.Int("entry_count", 100, "Number of entries for list_files"),
		wait:       flag.Duration("wait", 2*time.Minute, "Maximum time to wait for the camera operation"),
	}
}

func deviceOpsList() string {
	return strings.Join(deviceOps, ",")
}

func isDeviceOp(op string) bool {
	for _, o := range deviceOps {
		if o == op {
			return true
		}
	}
	return false
}

func parseOptions(raw string) (osc.Options, error) {
	if raw == "" {
		return nil, nil
	}
	var opts osc.Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, errors.Wrap(err, "invalid -options json")
	}
	return opts, nil
}

func submitDeviceOp(cam *inputs.OscCamera, op string, flags deviceFlags) (*inputs.Pending, error) {
	opts, err := parseOptions(*flags.options)
	if err != nil {
		return nil, err
	}
	switch op {
	case "set_options":
		if opts == nil {
			return nil, errors.New("set_options requires -options")
		}
		return cam.SetOptions(opts, inputs.Callbacks{}), nil
	case "take_picture":
		return cam.TakePicture(opts, inputs.Callbacks{}), nil
	case "start_record":
		return cam.StartRecord(opts, inputs.Callbacks{}), nil
	case "stop_record":
		return cam.StopRecord(inputs.Callbacks{}), nil
	case "get_exposure":
		return cam.GetCaptureExposure(inputs.Callbacks{}), nil
	case "single_sensor_picture":
		return submitSingleSensorPicture(cam, osc.Sensor(*flags.sensor), *flags.exposure)
	case "list_files":
		return cam.ListFiles(osc.ListFilesParams{FileType: *flags.fileType, EntryCount: *flags.entryCount}, inputs.Callbacks{}), nil
	case "custom":
		var body []byte
		if *flags.body != "" {
			body = []byte(*flags.body)
		}
		return cam.CustomRequest(*flags.path, body, inputs.Callbacks{}), nil
	case "info":
		return cam.Info(inputs.Callbacks{}), nil
	case "state":
		return cam.State(inputs.Callbacks{}), nil
	}
	return nil, errors.Errorf("unsupported operation %s", op)
}

// submitSingleSensorPicture reads the exposure first when none is given. Both submissions run in order on the camera queue.
func submitSingleSensorPicture(cam *inputs.OscCamera, sensor osc.Sensor, rawExposure string) (*inputs.Pending, error) {
	if rawExposure != "" {
		var exposure osc.ExposureSnapshot
		if err := json.Unmarshal([]byte(rawExposure), &exposure); err != nil {
			return nil, errors.Wrap(err, "invalid -exposure json")
		}
		return cam.TakeSingleSensorPicture(sensor, exposure, inputs.Callbacks{}), nil
	}
	out := cam.GetCaptureExposure(inputs.Callbacks{}).Outcome()
	if out.Err != nil {
		return nil, errors.Wrap(out.Err, "can't read capture exposure")
	}
	exposure := out.Value.(*osc.ExposureSnapshot)
	log.Debugf("Using exposure %+v", *exposure)
	return cam.TakeSingleSensorPicture(sensor, *exposure, inputs.Callbacks{}), nil
}

func runDeviceOp(op, configPath string, flags deviceFlags, out io.Writer) error {
	config, err := internal.LoadStaticConfig(configPath)
	if err != nil {
		return err
	}
	configureLogger("-", config.LogLevel)
	camera, err := config.Camera(*flags.camera)
	if err != nil {
		return err
	}
	cam, err := newCameraClient(config, *camera, newSecretManager(config))
	if err != nil {
		return err
	}
	defer cam.Close()

	pending, err := submitDeviceOp(cam, op, flags)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *flags.wait)
	defer cancel()
	outcome, err := pending.Wait(ctx)
	if err != nil {
		return errors.Wrapf(err, "%s did not finish", op)
	}
	if outcome.Err != nil {
		return outcome.Err
	}
	return printValue(out, outcome.Value)
}

func printValue(out io.Writer, value interface{}) error {
	switch v := value.(type) {
	case nil:
		_, err := fmt.Fprintln(out, "OK")
		return err
	case string:
		_, err := fmt.Fprintln(out, v)
		return err
	}
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(body))
	return err
}
