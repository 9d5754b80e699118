package so_arm_hold

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	goutils "go.viam.com/utils"
)

var HoldControllerModel = resource.NewModel("devrel", "so101", "hold-controller")

const commandRetryDelay = 100 * time.Millisecond

func init() {
	resource.RegisterComponent(generic.API, HoldControllerModel,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newHoldController,
		},
	)
}

// HoldController runs the supervised trajectory control loop for one arm.
type HoldController struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	cfg        *Config
	hw         JointHardware
	engine     *TrajectoryEngine
	supervisor *HoldSupervisor
	writer     *commandWriter
	registry   *prometheus.Registry

	metricsServer *http.Server

	cancelCtx  context.Context
	cancelFunc func()
	workers    sync.WaitGroup
	closeOnce  sync.Once
}

func newHoldController(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	var hw JointHardware
	if conf.Arm != "" {
		res, err := deps.Lookup(resource.NewName(arm.API, conf.Arm))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to find arm %s", conf.Arm)
		}
		a, ok := res.(arm.Arm)
		if !ok {
			return nil, fmt.Errorf("resource %s is not an arm", conf.Arm)
		}
		hw = NewArmHardware(a)
	} else {
		logger.Info("No arm configured, using a simulated arm")
		hw = NewSimulatedHardware(make([]float64, len(conf.Joints)))
	}

	kin, err := NewSO101Kinematics()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load SO-101 kinematics")
	}

	return NewHoldController(ctx, rawConf.ResourceName(), conf, hw, kin, logger)
}

// NewHoldController starts a hold controller for hw. The control loop holds
// the positions read from hw at start.
func NewHoldController(
	ctx context.Context,
	name resource.Name,
	conf *Config,
	hw JointHardware,
	kin Kinematics,
	logger logging.Logger,
) (*HoldController, error) {
	limits, err := conf.LoadJointLimits()
	if err != nil {
		return nil, err
	}
	for i, l := range limits {
		if l.Limited {
			logger.Debugf("joint %s acceleration limit %.3f rad/s^2", conf.Joints[i], l.Max)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry, name.ShortName())

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	engine := NewTrajectoryEngine(len(conf.Joints), conf.GoalTimeTolerance(), logger)
	supervisor, err := NewHoldSupervisor(cancelCtx, engine, kin, SupervisorConfig{
		Joints:           conf.Joints,
		Limits:           limits,
		StopDuration:     conf.StopDuration(),
		ActiveSpeedLimit: conf.CartesianSpeedLimitMmPerSec,
		MonitorCartesian: conf.CartesianMonitoringEnabled(),
	}, logger, metrics)
	if err != nil {
		cancelFunc()
		return nil, err
	}

	positions, err := hw.JointPositions(ctx)
	if err != nil {
		cancelFunc()
		return nil, errors.Wrap(err, "failed to read start joint positions")
	}
	if err := engine.Start(positions, time.Now()); err != nil {
		cancelFunc()
		return nil, err
	}

	c := &HoldController{
		Named:      name.AsNamed(),
		logger:     logger,
		cfg:        conf,
		hw:         hw,
		engine:     engine,
		supervisor: supervisor,
		writer:     newCommandWriter(hw, logger),
		registry:   registry,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}

	c.workers.Add(2)
	goutils.PanicCapturingGo(func() {
		defer c.workers.Done()
		c.runControlLoop(cancelCtx, conf.ControlPeriod())
	})
	goutils.PanicCapturingGo(func() {
		defer c.workers.Done()
		c.writer.run(cancelCtx)
	})

	if conf.MetricsAddress != "" {
		c.startMetricsServer(conf.MetricsAddress)
	}

	logger.Infof("hold controller running at %.0f Hz, stop duration %v, cartesian limit %.0f mm/s (monitoring %v)",
		conf.ControlRateHz, conf.StopDuration(), conf.CartesianSpeedLimitMmPerSec, conf.CartesianMonitoringEnabled())
	return c, nil
}

// Supervisor returns the hold supervisor of the controller.
func (c *HoldController) Supervisor() *HoldSupervisor {
	return c.supervisor
}

// Registry returns the Prometheus registry holding the controller metrics.
func (c *HoldController) Registry() *prometheus.Registry {
	return c.registry
}

func (c *HoldController) runControlLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	c.logger.Debug("control loop started")
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("control loop stopped")
			return
		case now := <-ticker.C:
			positions := c.engine.Update(now, now.Sub(last))
			last = now
			if positions != nil {
				c.writer.publish(positions)
			}
		}
	}
}

func (c *HoldController) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	c.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer c.workers.Done()
		c.logger.Infof("serving metrics on %s/metrics", addr)
		if err := c.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Errorf("metrics server failed: %v", err)
		}
	})
}

// DoCommand exposes hold, unhold, trajectory and status commands.
func (c *HoldController) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "hold":
		return responseMap(c.supervisor.Hold(ctx)), nil

	case "unhold":
		return responseMap(c.supervisor.Unhold()), nil

	case "is_executing":
		return map[string]interface{}{"success": c.supervisor.IsExecuting()}, nil

	case "monitor_cartesian_speed":
		enable, ok := cmd["enable"].(bool)
		if !ok {
			return nil, fmt.Errorf("monitor_cartesian_speed command requires 'enable' boolean parameter")
		}
		return responseMap(c.supervisor.SetCartesianMonitoring(enable)), nil

	case "follow_trajectory":
		trajCmd, err := parseTrajectoryCommand(cmd)
		if err != nil {
			return nil, err
		}
		goal, err := c.supervisor.FollowTrajectory(trajCmd)
		if err != nil {
			return map[string]interface{}{"success": false, "message": err.Error()}, nil
		}
		return map[string]interface{}{"success": true, "goal_id": goal.ID().String()}, nil

	case "goal_status":
		idStr, ok := cmd["goal_id"].(string)
		if !ok {
			return nil, fmt.Errorf("goal_status command requires 'goal_id' string parameter")
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid goal_id %q", idStr)
		}
		goal, ok := c.engine.Goal(id)
		if !ok {
			return nil, fmt.Errorf("unknown goal %s", idStr)
		}
		status, reason := goal.Status()
		resp := map[string]interface{}{"goal_id": idStr, "status": status.String()}
		if reason != "" {
			resp["reason"] = reason
		}
		return resp, nil

	case "get_mode":
		return map[string]interface{}{
			"mode":                 c.supervisor.Mode().String(),
			"holding":              c.supervisor.IsHolding(),
			"cartesian_monitoring": c.supervisor.CartesianMonitoring(),
			"controller_state":     c.engine.State().String(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func responseMap(r Response) map[string]interface{} {
	return map[string]interface{}{"success": r.Success, "message": r.Message}
}

// Close stops the control loop and the arm.
func (c *HoldController) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("Closing hold controller")
		c.engine.Stop()
		c.cancelFunc()

		if c.metricsServer != nil {
			err = multierr.Append(err, c.metricsServer.Shutdown(ctx))
		}
		c.workers.Wait()
		err = multierr.Append(err, c.hw.Stop(ctx))
	})
	return err
}

// commandWriter hands the latest desired positions from the control loop to
// the hardware without blocking the loop. Positions not yet written are
// overwritten by newer ones.
type commandWriter struct {
	hw     JointHardware
	logger logging.Logger

	mu     sync.Mutex
	latest []float64
	wake   chan struct{}
}

func newCommandWriter(hw JointHardware, logger logging.Logger) *commandWriter {
	return &commandWriter{hw: hw, logger: logger, wake: make(chan struct{}, 1)}
}

func (w *commandWriter) publish(positions []float64) {
	w.mu.Lock()
	w.latest = positions
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *commandWriter) take() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.latest
	w.latest = nil
	return p
}

func (w *commandWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		positions := w.take()
		if positions == nil {
			continue
		}
		if err := w.hw.SetJointPositions(ctx, positions); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warnf("failed to command joint positions: %v", err)
			if !goutils.SelectContextOrWait(ctx, commandRetryDelay) {
				return
			}
		}
	}
}
