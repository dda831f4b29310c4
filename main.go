// Command driftpursuit-client is the reference entry point wiring the
// engine together: config, logging, transport, and the client facade,
// driven on a fixed tick loop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driftpursuit/client/internal/client"
	"driftpursuit/client/internal/config"
	"driftpursuit/client/internal/logging"
	"driftpursuit/client/internal/replay"
	"driftpursuit/client/internal/schema"
	"driftpursuit/client/internal/transport"
)

// defaultCommandSchema describes the fixed-layout control packet this
// reference client uploads every tick: throttle, steer, brake (each a signed
// 12-bit fraction) and the selected gear (a small unsigned field).
func defaultCommandSchema() schema.Schema {
	return schema.Schema{Fields: []schema.FieldDescriptor{
		{BitWidth: 12, DeltaContext: "cmdThrottle", Signed: true, MaskBit: 0},
		{BitWidth: 12, DeltaContext: "cmdSteer", Signed: true, MaskBit: 1},
		{BitWidth: 12, DeltaContext: "cmdBrake", Signed: true, MaskBit: 2},
		{BitWidth: 4, DeltaContext: "cmdGear", Signed: false, MaskBit: 3},
	}}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ws := transport.NewWebSocketTransport(cfg.PingInterval, logger)
	c := client.New(cfg, ws, defaultCommandSchema(), nil, logger)
	c.EventConsumer = func(payload []byte) {
		logger.Debug("received event", logging.Int("bytes", len(payload)))
	}
	c.MapConsumer = func(payload []byte) {
		logger.Info("map reset", logging.Int("bytes", len(payload)))
	}

	if cfg.Debug {
		sessionID := fmt.Sprintf("session-%d", time.Now().UTC().Unix())
		tracer, err := replay.NewTracer(cfg.TraceDir, sessionID, nil)
		if err != nil {
			logger.Warn("failed to start trace capture", logging.Error(err))
		} else {
			c.SetTracer(tracer)
			defer func() {
				if err := tracer.Close(); err != nil {
					logger.Warn("failed to close trace capture", logging.Error(err))
				}
			}()
			logger.Info("trace capture enabled", logging.String("dir", tracer.Directory()))
		}
	}

	if err := c.Connect(); err != nil {
		logger.Fatal("failed to connect", logging.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()

	logger.Info("client started", logging.String("server", cfg.ServerAddr))
	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			c.Disconnect()
			return
		case <-ticker.C:
			c.Update()
			c.ProcessSnapshot()
			if err := c.Send(); err != nil {
				logger.Warn("send failed", logging.Error(err))
			}
		}
	}
}
