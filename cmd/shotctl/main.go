// shotctl is the operator tool for the crokinole controller: it stages shot
// parameters, fires the activation token, and inspects what the controller
// publishes.
//
//	shotctl shoot "100,50" 1.5708   stage a shot and activate
//	shotctl status                  show the activation token and joint state
//	shotctl torques                 show the last commanded torques
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"
	crokinole "github.com/varununayak/robot-arm-crokinole"
	"go.viam.com/rdk/logging"
)

var (
	storeAddr  = flag.String("store", "localhost:6379", "state store address, host:port")
	simulation = flag.Bool("sim", false, "use the simulator key family")
)

func main() {
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger("shotctl")

	cfg := crokinole.DefaultConfig()
	cfg.StoreAddress = *storeAddr
	if *simulation {
		cfg.Simulation = true
		cfg.Keys = crokinole.SimulationStoreKeys
	}

	registry := crokinole.NewStoreRegistry(logger)
	store, err := registry.GetStore(ctx, cfg.StoreAddress)
	if err != nil {
		return err
	}
	defer registry.ReleaseStore(cfg.StoreAddress)

	args := flag.Args()
	if len(args) == 0 {
		return errors.New("usage: shotctl [flags] shoot <x,y mm> <psi rad> | status | torques")
	}

	switch args[0] {
	case "shoot":
		if len(args) != 3 {
			return errors.New("usage: shotctl shoot <x,y mm> <psi rad>")
		}
		return shoot(ctx, store, cfg, logger, args[1], args[2])
	case "status":
		return status(ctx, store, cfg)
	case "torques":
		return torques(ctx, store, cfg)
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
}

func shoot(ctx context.Context, store crokinole.StateStore, cfg *crokinole.ControllerConfig, logger logging.Logger, posStr, angleStr string) error {
	// Validate locally before touching the store so a typo never leaves the
	// controller half-activated.
	shot, err := crokinole.ParseShotParameters(posStr, angleStr, cfg)
	if err != nil {
		return err
	}

	if err := store.WriteString(ctx, cfg.Keys.ShotPos, posStr); err != nil {
		return err
	}
	if err := store.WriteString(ctx, cfg.Keys.ShotAngle, angleStr); err != nil {
		return err
	}
	if err := store.WriteString(ctx, cfg.Keys.ModeChange, crokinole.TokenExecute); err != nil {
		return err
	}

	logger.Infof("Staged shot: drop-off (%.3f, %.3f) m, psi %.4f rad, straight=%t",
		shot.DropOff.X, shot.DropOff.Y, shot.StrikeAngle, shot.Straight)
	return nil
}

func status(ctx context.Context, store crokinole.StateStore, cfg *crokinole.ControllerConfig) error {
	token, err := store.ReadString(ctx, cfg.Keys.ModeChange)
	if err != nil {
		return err
	}
	q, err := store.ReadVector(ctx, cfg.Keys.JointAngles)
	if err != nil {
		return err
	}

	fmt.Printf("token: %q\n", token)
	if len(q) == 0 {
		fmt.Println("joint angles: (not published)")
		return nil
	}
	fmt.Printf("joint angles: %.4f\n", q)
	return nil
}

func torques(ctx context.Context, store crokinole.StateStore, cfg *crokinole.ControllerConfig) error {
	tau, err := store.ReadVector(ctx, cfg.Keys.TorquesCommanded)
	if err != nil {
		return err
	}
	if len(tau) == 0 {
		fmt.Println("torques: (not published)")
		return nil
	}
	fmt.Printf("torques: %.3f\n", tau)
	return nil
}
