package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cognitedata/edge-osc/connectors/inputs"
	"github.com/cognitedata/edge-osc/integrations/osc_timelapse"
	"github.com/cognitedata/edge-osc/internal"
	"github.com/cognitedata/edge-osc/internal/eventstream"
	"github.com/kardianos/service"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var Version string
var EncryptionKey = ""
var systemLog service.Logger
var fullConfigPath string

type Integration interface {
	Start() error
	Stop()
}

// ReloadableIntegration accepts a new local config while running.
type ReloadableIntegration interface {
	ReloadConfigFromJson(config json.RawMessage) (bool, error)
}

// app holds everything started by the run and service modes.
type app struct {
	mux           sync.Mutex
	camMux        sync.RWMutex
	cameras       map[string]*inputs.OscCamera
	cameraConfigs map[string]internal.CameraConfig
	integrReg     map[string]Integration
	eventServer   *eventstream.Server
}

var runningApp = &app{}

type program struct{}

func (p *program) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go p.run()
	return nil
}

func (p *program) run() {
	systemLog.Info("----Starting edge-osc service-------")
	systemLog.Infof("Loading configuration from file %s", fullConfigPath)
	if err := runningApp.start(fullConfigPath); err != nil {
		systemLog.Error("Failed to start edge-osc. Err:", err.Error())
		return
	}
	watchReload(runningApp, fullConfigPath)
}

func (p *program) Stop(s service.Service) error {
	// Stop should not block. Return with a few seconds.
	systemLog.Info("----Stopping edge-osc service-------")
	runningApp.stop()
	return nil
}

func configureService() service.Service {
	svcConfig := service.Config{
		Name:        "edge-osc",
		DisplayName: "Edge OSC camera service",
		Description: "Drives OSC cameras and streams capture events",
		Arguments:   []string{"-config", fullConfigPath},
	}
	var prg program
	appService, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}
	systemLog, err = appService.Logger(nil)
	if err != nil {
		fmt.Printf("Error initializing system logger %s", err.Error())
	}
	return appService
}

func configureLogger(logPath, level string) {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})
	if logPath != "" && logPath != "-" {
		logPath = filepath.Join(logPath, "edge-osc.log")
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
		if err != nil {
			fmt.Printf("error opening file: %v", err)
			if systemLog != nil {
				systemLog.Error("Failed to create log , err :" + err.Error())
			}
			return
		}
		log.SetOutput(f)
	}
}

func newSecretManager(config *internal.StaticConfig) *internal.SecretManager {
	secretManager := internal.NewSecretManager(EncryptionKey)
	if EncryptionKey == "" {
		secretManager.LoadSecrets(config.Secrets)
		return secretManager
	}
	if err := secretManager.LoadEncryptedSecrets(config.Secrets); err != nil {
		log.Error("Some secrets can't be decrypted : ", err.Error())
	}
	return secretManager
}

func newCameraClient(config *internal.StaticConfig, camera internal.CameraConfig, secrets *internal.SecretManager) (*inputs.OscCamera, error) {
	password := ""
	if camera.Password != "" {
		password = secrets.GetSecret(camera.Password)
	}
	return inputs.NewOscCamera(inputs.OscCameraConfig{
		Name:            camera.Name,
		Address:         camera.Address,
		Username:        camera.Username,
		Password:        password,
		HttpTimeout:     config.HttpTimeout(),
		Poll:            config.PollPolicy(),
		ExposureCleanup: config.ExposureCleanup(),
		QueueSize:       config.QueueSize,
	})
}

func encryptConfig(configPath string) error {
	body, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config file")
	}
	var config internal.StaticConfig
	if err = json.Unmarshal(body, &config); err != nil {
		return errors.Wrap(err, "incorrect config file format")
	}
	secretManager := internal.NewSecretManager(EncryptionKey)
	secretManager.LoadSecrets(config.Secrets)
	config.Secrets, err = secretManager.GetEncryptedSecrets()
	if err != nil {
		return err
	}
	body, _ = json.MarshalIndent(&config, " ", "  ")
	return os.WriteFile(configPath, body, 0644)
}

// watchReload re-reads the config file on SIGHUP and applies it to the running app.
func watchReload(a *app, mainConfigPath string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		for range c {
			log.Infof("Reloading configuration from file %s", mainConfigPath)
			if err := a.reload(mainConfigPath); err != nil {
				log.Error("Failed to reload configuration. Err: ", err.Error())
			}
		}
	}()
}

func (a *app) camera(name string) (*inputs.OscCamera, bool) {
	a.camMux.RLock()
	defer a.camMux.RUnlock()
	cam, ok := a.cameras[name]
	return cam, ok
}

func connectionChanged(c, other internal.CameraConfig) bool {
	return c.Address != other.Address || c.Username != other.Username || c.Password != other.Password
}

// syncCameras creates clients for new or changed cameras and returns the clients they replace.
// The replaced clients are still running and must be closed by the caller.
func (a *app) syncCameras(config *internal.StaticConfig, secrets *internal.SecretManager) []*inputs.OscCamera {
	a.camMux.Lock()
	defer a.camMux.Unlock()
	if a.cameras == nil {
		a.cameras = map[string]*inputs.OscCamera{}
		a.cameraConfigs = map[string]internal.CameraConfig{}
	}
	var replaced []*inputs.OscCamera
	wanted := map[string]bool{}
	for _, camera := range config.Cameras {
		if !camera.IsEnabled() {
			continue
		}
		wanted[camera.Name] = true
		if old, ok := a.cameras[camera.Name]; ok {
			if !connectionChanged(a.cameraConfigs[camera.Name], camera) {
				continue
			}
			replaced = append(replaced, old)
		}
		cam, err := newCameraClient(config, camera, secrets)
		if err != nil {
			log.Errorf("Camera %s can't be initialized . Error : %s", camera.Name, err.Error())
			delete(a.cameras, camera.Name)
			delete(a.cameraConfigs, camera.Name)
			continue
		}
		a.cameras[camera.Name] = cam
		a.cameraConfigs[camera.Name] = camera
		if a.eventServer != nil {
			a.eventServer.Attach(cam)
		}
	}
	for name, cam := range a.cameras {
		if !wanted[name] {
			replaced = append(replaced, cam)
			delete(a.cameras, name)
			delete(a.cameraConfigs, name)
		}
	}
	return replaced
}

func closeCameras(cameras []*inputs.OscCamera) {
	for _, cam := range cameras {
		if err := cam.Close(); err != nil {
			log.Errorf("Camera %s : %s", cam.Name(), err.Error())
		}
	}
}

// reload applies camera and integration changes of the config file. Integrations are neither started nor stopped.
func (a *app) reload(mainConfigPath string) error {
	config, err := internal.LoadStaticConfig(mainConfigPath)
	if err != nil {
		return err
	}
	a.mux.Lock()
	defer a.mux.Unlock()
	replaced := a.syncCameras(config, newSecretManager(config))
	for name, intgr := range a.integrReg {
		r, ok := intgr.(ReloadableIntegration)
		if !ok {
			continue
		}
		raw, err := config.IntegrationConfig(name)
		if err != nil {
			log.Errorf("%s config can't be reloaded . Error : %s", name, err.Error())
			continue
		}
		changed, err := r.ReloadConfigFromJson(raw)
		if err != nil {
			log.Errorf("%s config can't be reloaded . Error : %s", name, err.Error())
			continue
		}
		log.Infof("%s config reloaded, changed = %v", name, changed)
	}
	closeCameras(replaced)
	return nil
}

func (a *app) start(mainConfigPath string) error {
	config, err := internal.LoadStaticConfig(mainConfigPath)
	if err != nil {
		return err
	}
	logDir := internal.GetBinaryDir()
	if config.LogDir != "" {
		logDir = config.LogDir
	}
	configureLogger(logDir, config.LogLevel)
	log.Infof("Starting edge-osc service. Version = %s", Version)

	secretManager := newSecretManager(config)

	a.mux.Lock()
	defer a.mux.Unlock()
	a.integrReg = map[string]Integration{}
	a.syncCameras(config, secretManager)

	for _, integrName := range config.EnabledIntegrations {
		switch integrName {
		case internal.IntegrationOscTimelapse:
			intgr := osc_timelapse.NewOscTimelapse(func(cfg internal.CameraConfig) (osc_timelapse.Camera, error) {
				cam, ok := a.camera(cfg.Name)
				if !ok {
					return nil, errors.Errorf("camera %s is not initialized", cfg.Name)
				}
				return cam, nil
			})
			localConfig, err := config.IntegrationConfig(integrName)
			if err == nil {
				err = intgr.LoadConfigFromJson(localConfig)
			}
			if err != nil {
				log.Errorf(" %s integration config can't be loaded . Error : %s", integrName, err.Error())
				continue
			}
			if err := intgr.Start(); err != nil {
				log.Errorf(" %s integration can't be started . Error : %s", integrName, err.Error())
			} else {
				a.integrReg[integrName] = intgr
			}
		case internal.IntegrationEventStream:
			a.eventServer = eventstream.NewServer()
			a.camMux.RLock()
			for _, cam := range a.cameras {
				a.eventServer.Attach(cam)
			}
			a.camMux.RUnlock()
			a.eventServer.Start(config.EventStreamAddr)
		default:
			log.Errorf("Unknown integration %s", integrName)
		}
	}
	return nil
}

func (a *app) stop() {
	a.mux.Lock()
	defer a.mux.Unlock()
	for _, intgr := range a.integrReg {
		intgr.Stop()
	}
	if a.eventServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.eventServer.Stop(ctx); err != nil {
			log.Error("Event stream shutdown failed : ", err.Error())
		}
		cancel()
	}
	a.camMux.Lock()
	cameras := make([]*inputs.OscCamera, 0, len(a.cameras))
	for name, cam := range a.cameras {
		cameras = append(cameras, cam)
		delete(a.cameras, name)
		delete(a.cameraConfigs, name)
	}
	a.camMux.Unlock()
	closeCameras(cameras)
}

func main() {
	mainConfigPath := flag.String("config", "config.json", "Full path to main configuration file")
	base64encodedConfig := flag.String("bconfig", "", "Base64 encoded config")
	op := flag.String("op", "", "Supported operations : 'gen_config,version,encrypt_secret,encrypt_config,install,uninstall,run' "+
		"and camera operations '"+deviceOpsList()+"'")
	textToEncrypt := flag.String("secret", "", "Secret to encrypt")
	devFlags := registerDeviceFlags()
	flag.Parse()

	if *mainConfigPath == "config.json" {
		*mainConfigPath = filepath.Join(internal.GetBinaryDir(), *mainConfigPath)
	}
	fullConfigPath = *mainConfigPath

	// User can configure app by passing configurations as one base64 encoded string
	if *base64encodedConfig != "" {
		log.Info("Loading configuration from cmd line parameter")
		body, err := base64.StdEncoding.DecodeString(*base64encodedConfig)
		if err != nil {
			log.Errorf("Error decoding base64 encoded config: %s ", err.Error())
			return
		}
		if err := os.WriteFile(*mainConfigPath, body, 0644); err != nil {
			log.Errorf("Error writing config: %s ", err.Error())
			return
		}
	}

	if isDeviceOp(*op) {
		if err := runDeviceOp(*op, *mainConfigPath, devFlags, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "Error :", err.Error())
			os.Exit(1)
		}
		return
	}

	switch *op {
	case "gen_config":
		log.Info("Generating config file")
		config := internal.DefaultStaticConfig()
		body, _ := json.MarshalIndent(&config, " ", "  ")
		os.WriteFile("config.json", body, 0644)
	case "version":
		fmt.Println(Version)
	case "encrypt_config":
		if EncryptionKey == "" {
			fmt.Println("Please provide encryption key")
			return
		}
		if err := encryptConfig(*mainConfigPath); err != nil {
			fmt.Println("Failed to encrypt config file. Err:", err.Error())
			return
		}
		fmt.Println("Config file has been encrypted")
	case "encrypt_secret":
		if EncryptionKey == "" {
			fmt.Println("Please provide encryption key")
			return
		}
		if *textToEncrypt == "" {
			fmt.Println("Please provide text to encrypt")
			return
		}
		encrypted, err := internal.EncryptString(EncryptionKey, *textToEncrypt)
		if err != nil {
			fmt.Println("Failed to encrypt string. Err:", err.Error())
			return
		}
		fmt.Println("Encrypted string : ", encrypted)
	case "install":
		log.Info("Installing edge-osc service")
		if service.Platform() == "linux-systemd" {
			if err := internal.PrepareLinuxServiceEnv(); err != nil {
				log.Error("Failed to prepare service environment. Err: ", err.Error())
				return
			}
			fullConfigPath = internal.LINUX_CONFIG_FILE
		}
		appService := configureService()
		if err := appService.Install(); err != nil {
			log.Error("Failed to install service.Make sure you run installation as system administrator Err: ", err.Error())
		} else if err = appService.Start(); err != nil {
			log.Error("Failed to run service. Err: ", err.Error())
		}
	case "uninstall":
		log.Info("Uninstalling edge-osc service")
		appService := configureService()
		if err := appService.Uninstall(); err != nil {
			log.Error("Failed to uninstall service", err.Error())
		}
		if service.Platform() == "linux-systemd" {
			internal.RemoveLinuxServiceEnv()
		}
	case "run":
		// Should be used to start service from CLI
		if err := runningApp.start(*mainConfigPath); err != nil {
			log.Error("Failed to start edge-osc. Err: ", err.Error())
			return
		}
		watchReload(runningApp, *mainConfigPath)
		select {}
	default:
		// Used by OS service supervisor
		appService := configureService()
		if err := appService.Run(); err != nil {
			log.Error(err)
		}
	}
}
