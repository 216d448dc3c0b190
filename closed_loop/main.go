package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"traction-control-core/utils"
)

func main() {
	var (
		iface      = flag.String("iface", "", "SocketCAN interface name; empty writes a candump log instead")
		mapPath    = flag.String("map", "config/can/can_map.csv", "Path to can_map.csv")
		scenPath   = flag.String("scenario", "closed_loop/scenarios/station_stop.json", "Scenario JSON file")
		candump    = flag.String("candump", "", "candump log path used when -iface is empty")
		outDir     = flag.String("out", "", "Directory for the CSV trace and plots")
		checkpoint = flag.String("checkpoint", "", "Train state checkpoint, restored if present and saved on exit")
		logLevel   = flag.String("log", "info", "trace|debug|info|warn|error|critical")
	)
	flag.Parse()
	defer glog.Flush()

	level, err := utils.ParseLevel(*logLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(2)
	}

	fileLog, err := utils.NewFileLogger("closed_loop.log", level, true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open closed_loop.log: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer fileLog.Close()

	runID := uuid.NewString()
	log := fileLog.WithRun(runID[:8])

	cfg := RunnerConfig{
		Interface:      *iface,
		MapPath:        *mapPath,
		ScenarioPath:   *scenPath,
		CandumpPath:    *candump,
		OutDir:         *outDir,
		CheckpointPath: *checkpoint,
		RunID:          runID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		runner.Close()
		glog.Flush()
		os.Exit(1)
	}
}
