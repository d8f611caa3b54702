//go:build linux

// Command linux runs the ledwire firmware core on a Linux board, driving
// the strip through spidev and serving the host protocol on a serial
// device such as a USB gadget port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"periph.io/x/host/v3"

	"ledwire/config"
	"ledwire/core"
	"ledwire/host/serial"
	"ledwire/protocol"
)

var (
	configPath = flag.String("config", "/etc/ledwire.json5", "Board configuration file (JSON5)")
	device     = flag.String("device", "", "Serial device to serve the protocol on (overrides config)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

// pollInterval bounds how late timers and IR events can run.
const pollInterval = time.Millisecond

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.SugaredLogger) error {
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if cfg.Strip.Device == "" {
		return errors.New("config: strip.device must name a spidev port")
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph: %w", err)
	}
	bus, err := openSpidev(cfg.Strip.Device)
	if err != nil {
		return err
	}

	core.InitLedStripCommands()
	core.InitIRCommands()
	core.SetBoard(&core.Board{
		Bus:    func(core.SPIBusID) (core.SPIBus, error) { return bus, nil },
		DMA:    core.NewSoftDMA(bus),
		Memory: core.NewSoftMemory(0),
		IRQ:    core.NewSoftIRQ(),
	})
	core.GetGlobalDictionary().BuildDictionary()

	port, err := serial.Open(&serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return err
	}
	defer port.Close()

	log.Infow("serving", "serial", cfg.Serial.Device, "spi", cfg.Strip.Device,
		"chip", cfg.Strip.Chip, "rate", cfg.Strip.Frequency().String())
	return serve(ctx, log, port)
}

// serve runs the firmware loop: feed received bytes to the transport, run
// due timers, then write whatever was queued.
func serve(ctx context.Context, log *zap.SugaredLogger, port io.ReadWriter) error {
	start := time.Now()
	output := protocol.NewScratchOutput()
	flush := func() {
		if out := output.Result(); len(out) > 0 {
			if _, err := port.Write(out); err != nil {
				log.Warnw("write failed", "error", err)
			}
			output.Reset()
		}
	}

	transport := protocol.NewTransport(output, core.DispatchCommand)
	transport.SetResetCallback(core.ResetFirmwareState)
	transport.SetFlushCallback(flush)
	core.SetGlobalTransport(transport)
	core.SetResetHandler(func() {
		log.Infow("reset requested")
		core.ResetFirmwareState()
	})

	rx := make(chan []byte, 16)
	rxErr := make(chan error, 1)
	go func() {
		for {
			buf := make([]byte, protocol.MessageMax)
			n, err := port.Read(buf)
			if err != nil {
				rxErr <- err
				return
			}
			rx <- buf[:n]
		}
	}()

	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	pending := protocol.NewFifoBuffer(4 * protocol.MessageMax)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-rxErr:
			return err
		case data := <-rx:
			if pending.Write(data) < len(data) {
				log.Warnw("input overrun, resyncing")
				pending.Reset()
				break
			}
			core.SetTime(uint32(time.Since(start) / time.Microsecond))
			in := protocol.NewSliceInputBuffer(pending.Data())
			before := in.Available()
			transport.Receive(in)
			pending.Pop(before - in.Available())
		case <-tick.C:
		}

		core.SetTime(uint32(time.Since(start) / time.Microsecond))
		core.TimerDispatch()
		flush()
		core.CheckPendingReset()
	}
}
