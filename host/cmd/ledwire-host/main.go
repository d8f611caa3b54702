// Command ledwire-host talks to a ledwire MCU over serial: it loads the
// board configuration, configures the MCU and offers an interactive
// prompt for driving the strip and watching the IR receiver.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"ledwire/config"
	"ledwire/host/mcu"
	"ledwire/host/serial"
)

var (
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config, ignored for USB CDC)")
	configPath = flag.String("config", "", "Board configuration file (JSON5)")
	oneShot    = flag.String("c", "", "Run one command line and exit")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger.Sugar()); err != nil {
		logger.Sugar().Errorw("exiting", "error", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func loadConfig() (*config.BoardConfig, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyACM0"
	}
	return cfg, nil
}

func run(log *zap.SugaredLogger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m := mcu.New(log)
	serialCfg := serial.DefaultConfig(cfg.Serial.Device)
	serialCfg.Baud = cfg.Serial.Baud
	if err := m.Connect(serialCfg); err != nil {
		return err
	}
	defer m.Close()

	if err := m.RetrieveDictionary(ctx); err != nil {
		return err
	}
	if err := m.Configure(ctx, cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	go func() {
		for ev := range m.IREvents() {
			valid, addr, cmd := ev.NEC()
			log.Infow("ir", "oid", ev.OID, "code", fmt.Sprintf("0x%08x", ev.Code),
				"bits", ev.Bits, "nec", valid, "address", addr, "command", cmd)
		}
	}()

	s := newSession(m, cfg, os.Stdout)
	if *oneShot != "" {
		_, err := s.execLine(ctx, *oneShot)
		return err
	}

	fmt.Println("Type 'help' for commands, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		quit, err := s.execLine(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}
