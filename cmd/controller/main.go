// The controller binary runs the supervisory torque control loop against a
// live state store shared with the dynamics simulator or the hardware driver.
package main

import (
	"context"
	"flag"

	crokinole "github.com/varununayak/robot-arm-crokinole"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

var (
	configPath = flag.String("config", "", "path to a JSON calibration file (default calibration when empty)")
	storeAddr  = flag.String("store", "", "state store address override, host:port")
	simulation = flag.Bool("sim", false, "run against the simulator key family")
)

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewLogger("crokinole-controller"))
}

func mainWithArgs(ctx context.Context, _ []string, logger logging.Logger) error {
	flag.Parse()

	cfg, fromFile := crokinole.LoadConfig(*configPath, logger)
	if *simulation && !fromFile {
		cfg.Simulation = true
		cfg.Keys = crokinole.SimulationStoreKeys
	}
	if *storeAddr != "" {
		cfg.StoreAddress = *storeAddr
	}

	registry := crokinole.NewStoreRegistry(logger)
	store, err := registry.GetStore(ctx, cfg.StoreAddress)
	if err != nil {
		return err
	}
	defer registry.ReleaseStore(cfg.StoreAddress)

	model, err := crokinole.NewPandaModel(cfg)
	if err != nil {
		return err
	}

	waiter := crokinole.NewIntervalWaiter(cfg.LoopHz)
	defer waiter.Stop()

	controller := crokinole.NewController(cfg, store, model, waiter, logger)
	return controller.Run(ctx)
}
