package internal

import (
	"fmt"
	"os"
	"os/exec"
)

const (
	LINUX_USER        = "edge-osc"
	LINUX_BIN         = "/usr/local/bin/edge-osc"
	LINUX_CONFIG_DIR  = "/etc/edge-osc"
	LINUX_CONFIG_FILE = "/etc/edge-osc/config.json"
	LINUX_LOG_DIR     = "/var/log/edge-osc"
)

type setupStep struct {
	title    string
	args     []string
	optional bool // failure is reported but doesn't abort the sequence
}

var commandRunner = func(args ...string) error {
	return exec.Command(args[0], args[1:]...).Run()
}

func runSteps(steps []setupStep) error {
	for i, st := range steps {
		fmt.Printf("%d. %s\n", i+1, st.title)
		if err := commandRunner(st.args...); err != nil {
			fmt.Printf("%d. error : %s\n", i+1, err.Error())
			if !st.optional {
				return err
			}
		}
	}
	return nil
}

// PrepareLinuxServiceEnv creates the edge-osc system user, installs the binary into /usr/local/bin,
// copies config.json from the working directory into /etc/edge-osc and creates the log directory.
func PrepareLinuxServiceEnv() error {
	binary, err := os.Executable()
	if err != nil {
		return err
	}
	steps := []setupStep{
		{title: "creating edge-osc user and group", args: []string{"useradd", "-r", "-s", "/bin/false", LINUX_USER}, optional: true},
		{title: "copying " + binary + " to " + LINUX_BIN, args: []string{"cp", "-f", binary, LINUX_BIN}},
		{title: "creating config folder", args: []string{"mkdir", "-p", LINUX_CONFIG_DIR}},
	}
	if _, err := os.Stat("config.json"); err == nil {
		steps = append(steps, setupStep{title: "copying config file", args: []string{"cp", "config.json", LINUX_CONFIG_DIR}})
	} else {
		fmt.Println("config.json not found in working directory, create " + LINUX_CONFIG_FILE + " manually")
	}
	steps = append(steps,
		setupStep{title: "creating log directory", args: []string{"mkdir", "-p", LINUX_LOG_DIR}},
		setupStep{title: "changing owner of log directory", args: []string{"chown", "-R", LINUX_USER + ":" + LINUX_USER, LINUX_LOG_DIR}},
	)
	return runSteps(steps)
}

// RemoveLinuxServiceEnv reverts PrepareLinuxServiceEnv. Every step is attempted.
func RemoveLinuxServiceEnv() error {
	return runSteps([]setupStep{
		{title: "removing edge-osc user and group", args: []string{"userdel", "-r", LINUX_USER}, optional: true},
		{title: "removing edge-osc binary", args: []string{"rm", "-f", LINUX_BIN}, optional: true},
		{title: "removing config file", args: []string{"rm", "-f", LINUX_CONFIG_FILE}, optional: true},
		{title: "removing log directory", args: []string{"rm", "-rf", LINUX_LOG_DIR}, optional: true},
	})
}
