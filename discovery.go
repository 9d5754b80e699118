// discovery.go
package so_arm_hold

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var SO101HoldDiscoveryModel = resource.NewModel("devrel", "so101", "hold-discovery")

// SO101ArmModel is the arm model of the SO-101 arm module, which drives the
// servos the hold controller commands.
var SO101ArmModel = resource.NewModel("devrel", "so101", "arm")

const (
	probeBaudRate = 1000000
	probeTimeout  = 500 * time.Millisecond

	// Servo 1 drives shoulder_pan, servo 6 the gripper.
	armServoID     = 1
	gripperServoID = 6
)

func init() {
	resource.RegisterService(
		discovery.API,
		SO101HoldDiscoveryModel,
		resource.Registration[discovery.Service, *HoldDiscoveryConfig]{
			Constructor: newHoldDiscovery,
		})
}

// HoldDiscoveryConfig is the configuration for the discovery service
type HoldDiscoveryConfig struct {
	// Defaults to "so101-arm-<port suffix>".
	ArmNamePrefix string `json:"arm_name_prefix,omitempty"`
}

// Validate ensures the config is valid
func (cfg *HoldDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

type holdDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger        logging.Logger
	armNamePrefix string
}

func newHoldDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*HoldDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	prefix := cfg.ArmNamePrefix
	if prefix == "" {
		prefix = "so101-arm-"
	}
	return &holdDiscovery{
		Named:         conf.ResourceName().AsNamed(),
		logger:        logger,
		armNamePrefix: prefix,
	}, nil
}

// DiscoverResources scans serial ports for SO-101 arms and proposes each arm
// together with a hold controller commanding it.
func (dis *holdDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting SO-101 hold controller discovery")

	allPorts := enumerateSerialPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}

	var configs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return configs, ctx.Err()
		default:
		}

		result, err := ProbePort(ctx, portPath, probeTimeout)
		if err != nil {
			dis.logger.Debugf("Failed to open port %s: %v", portPath, err)
			continue
		}
		if !result.HasArm {
			dis.logger.Debugf("No SO-101 arm servos detected on %s", portPath)
			continue
		}

		portSuffix := extractPortSuffix(portPath)
		limitsFile := findJointLimitsFile(moduleDataDir, portSuffix, dis.logger)
		dis.logger.Infof("Discovered SO-101 arm on %s (gripper: %v)", portPath, result.HasGripper)
		armName := dis.armNamePrefix + portSuffix
		configs = append(configs,
			armConfig(armName, portPath),
			holdControllerConfig(armName, portSuffix, limitsFile))
	}

	if len(configs) == 0 {
		dis.logger.Info("No SO-101 arms discovered")
	}
	return configs, nil
}

// armConfig proposes the SO-101 arm on portPath. The model is provided by the
// SO-101 arm module, which must be installed next to this one.
func armConfig(armName, portPath string) resource.Config {
	return resource.Config{
		Name:  armName,
		API:   arm.API,
		Model: SO101ArmModel,
		Attributes: map[string]interface{}{
			"port": portPath,
		},
	}
}

// holdControllerConfig proposes a hold controller for the arm named armName.
// Without a joint limits file the controller is configured with unlimited joints.
func holdControllerConfig(armName, portSuffix, limitsFile string) resource.Config {
	attrs := map[string]interface{}{
		"arm": armName,
	}
	if limitsFile != "" {
		attrs["joint_limits_file"] = limitsFile
	} else {
		unlimited := map[string]interface{}{}
		for _, joint := range SO101Joints {
			unlimited[joint] = map[string]interface{}{"has_acceleration_limits": false}
		}
		attrs["joint_limits"] = unlimited
	}
	return resource.Config{
		Name:       "so101-hold-" + portSuffix,
		API:        generic.API,
		Model:      HoldControllerModel,
		Attributes: attrs,
	}
}

// ProbeResult reports which SO-101 servos answered a ping.
type ProbeResult struct {
	Port       string
	HasArm     bool
	HasGripper bool
}

// ProbePort opens portPath and pings the shoulder_pan and gripper servos.
func ProbePort(ctx context.Context, portPath string, timeout time.Duration) (ProbeResult, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     portPath,
		BaudRate: probeBaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  timeout,
	})
	if err != nil {
		return ProbeResult{Port: portPath}, err
	}
	defer bus.Close()

	result := ProbeResult{Port: portPath}
	if _, err := feetech.NewServo(bus, armServoID, &feetech.ModelSTS3215).Ping(ctx); err == nil {
		result.HasArm = true
	}
	if _, err := feetech.NewServo(bus, gripperServoID, &feetech.ModelSTS3215).Ping(ctx); err == nil {
		result.HasGripper = true
	}
	return result, nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches SO-101 serial port patterns
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS
	for _, prefix := range []string{"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// findJointLimitsFile looks for <port>_joint_limits.yaml, then so101_joint_limits.yaml,
// in moduleDataDir. Returns the file name or "" if neither exists.
func findJointLimitsFile(moduleDataDir, portSuffix string, logger logging.Logger) string {
	for _, name := range []string{portSuffix + "_joint_limits.yaml", "so101_joint_limits.yaml"} {
		if _, err := os.Stat(filepath.Join(moduleDataDir, name)); err == nil {
			logger.Debugf("Found joint limits file: %s", name)
			return name
		}
	}
	logger.Debug("No joint limits file found")
	return ""
}

// EnumerateCandidatePorts returns the serial ports that may host an SO-101.
func EnumerateCandidatePorts() []string {
	return filterCandidatePorts(enumerateSerialPorts())
}

func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
