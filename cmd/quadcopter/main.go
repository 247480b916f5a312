// Command quadcopter runs the flight controller against the vehicle
// model for ground testing: stick commands come in over an iBus serial
// link, state streams out over websockets.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/David-OConnor/quadcopter/control"
	"github.com/David-OConnor/quadcopter/fc"
	"github.com/David-OConnor/quadcopter/fcconfig"
	"github.com/David-OConnor/quadcopter/rc"
	"github.com/David-OConnor/quadcopter/sim"
	"github.com/David-OConnor/quadcopter/telemetry"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "configuration file (yaml)")
		rcPort  = flag.String("rc", "", "serial port for the iBus command link (overrides config)")
		addr    = flag.String("addr", "", "telemetry listen address (overrides config)")
	)
	flag.Parse()

	cfg := fcconfig.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = fcconfig.Load(*cfgPath)
		if err != nil {
			log.Fatalln("FC:", err)
		}
	}
	if *rcPort != "" {
		cfg.RCPort = *rcPort
	}
	if *addr != "" {
		cfg.TelemetryAddr = *addr
	}

	room := telemetry.NewRoom()
	go room.Run()

	harness, err := sim.NewHarness(cfg, time.Now().UnixNano(), fc.Options{
		Telemetry: telemetry.NewExporter(room),
	})
	if err != nil {
		log.Fatalln("FC:", err)
	}
	go func() {
		if err := telemetry.Serve(cfg.TelemetryAddr, room); err != nil {
			log.Fatalln("TELEM:", err)
		}
	}()

	commands := make(chan rc.Command, 1)
	if cfg.RCPort != "" {
		link, err := rc.Open(cfg.RCPort, rc.DefaultInputMap())
		if err != nil {
			log.Println("RC: link unavailable, flying unarmed:", err)
		} else {
			defer link.Close()
			go func() {
				err := link.Run(func(c rc.Command) {
					select {
					case commands <- c:
					default:
					}
				})
				log.Println("RC:", err)
			}()
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	lawCfg := cfg.LawConfig()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	log.Println("FC: running")
	for {
		select {
		case <-sigs:
			log.Println("FC: shutting down")
			return
		case c := <-commands:
			harness.Command(control.Setpoint{
				Mode:      control.ModeRate,
				Source:    control.SourceStick,
				RollRate:  c.Roll * lawCfg.MaxRate[0],
				PitchRate: c.Pitch * lawCfg.MaxRate[1],
				YawRate:   c.Yaw * lawCfg.MaxRate[2],
				Throttle:  c.Throttle,
			}, c.Arm)
		case <-ticker.C:
			harness.Step()
		}
	}
}
