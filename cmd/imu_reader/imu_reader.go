// imu_reader calibrates the IMU at rest and logs its attitude estimate until interrupted.
// With -sim it reads from a simulated stick instead of the I2C bus.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/westphae/goahrs/ahrs"
	"github.com/westphae/goahrs/imu"
	"github.com/westphae/goahrs/sensors"
	"github.com/westphae/goahrs/sim"
)

const numRetries = 5

func openStick(bus byte) (stick *sensors.Stick, err error) {
	for i := 1; i <= numRetries && stick == nil; i++ {
		stick, err = sensors.OpenStick(bus)
		if err != nil {
			log.Printf("Couldn't initialize IMU stick, attempt %d of %d: %v\n", i, numRetries, err)
			time.Sleep(100 * time.Millisecond)
		}
	}
	return stick, err
}

func main() {
	var (
		configFile string
		scenario   string
		busNum     uint
		report     time.Duration
		src        sensors.SampleSource
		step       func()
	)

	flag.StringVar(&configFile, "config", "", "YAML configuration file")
	flag.StringVar(&scenario, "sim", "", "Simulate instead of reading the stick: still or turn")
	flag.UintVar(&busNum, "bus", 1, "I2C bus the stick is on")
	flag.DurationVar(&report, "report", time.Second, "How often to log the attitude")
	flag.Parse()

	cfg := imu.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = imu.LoadConfig(configFile); err != nil {
			log.Fatalf("IMU Error: %v\n", err)
		}
	}

	switch scenario {
	case "":
		stick, err := openStick(byte(busNum))
		if err != nil {
			log.Fatalf("IMU Error: couldn't initialize stick: %v\n", err)
		}
		defer stick.Close()
		src = stick
		step = func() {}
	case "still", "turn":
		sc := sim.Still
		if scenario == "turn" {
			sc = sim.Turn
		}
		s := sim.NewSource(sc, time.Now().UnixNano())
		s.AccelNoise, s.GyroNoise, s.MagNoise = 1, 1, 1
		src = s
		step = func() { s.Step(cfg.Filter.SamplePeriod) }
	default:
		log.Fatalf("IMU Error: unknown scenario %q\n", scenario)
	}

	m := imu.New(src, cfg)
	log.Println("IMU Info: calibrating, keep the sensor still")
	if err := m.Calibrate(); err != nil {
		log.Fatalf("IMU Error: %v\n", err)
	}
	p := m.Params()
	log.Printf("IMU Info: gyro bias %v, mag scales %v\n", p.GyroBias, p.MagScales)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var last time.Time
	err := m.Run(ctx, func(m *imu.IMU) {
		step()
		if time.Since(last) < report {
			return
		}
		last = time.Now()
		roll, pitch, yaw := m.RollPitchYaw()
		log.Printf("IMU Info: roll %6.1f pitch %6.1f yaw %6.1f\n",
			roll/ahrs.Deg, pitch/ahrs.Deg, yaw/ahrs.Deg)
	})
	if err != nil && err != context.Canceled {
		log.Printf("IMU Error: %v\n", err)
	}
}
