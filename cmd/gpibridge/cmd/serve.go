package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gpibridge/bootstrap"
	"gpibridge/config"
	"gpibridge/core"
	"gpibridge/host/serial"
	"gpibridge/hostlink"
	"gpibridge/interp"
)

var (
	serveDevice string
	serveBaud   int
	serveSim    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bus engine and the host-link ++-command interpreter",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveDevice, "device", "", "serial device path (overrides gpibridge.yaml)")
	serveCmd.Flags().IntVar(&serveBaud, "baud", 0, "serial baud rate (overrides gpibridge.yaml)")
	serveCmd.Flags().BoolVar(&serveSim, "sim", false, "use an in-memory loopback bus instead of the GPIO pins (the serial host link is still opened)")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, err := bootstrap.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if serveDevice != "" {
		opts.Serial.Device = serveDevice
	}
	if serveBaud != 0 {
		opts.Serial.Baud = serveBaud
	}
	if serveSim {
		opts.Sim.Enabled = true
	}

	logger, err := bootstrap.NewLogger(opts.Logging)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer logger.Sync()
	core.SetDebugWriter(bootstrap.DebugSink(logger))
	core.SetDebugEnabled(opts.Logging.Level == "debug")

	cfg := config.Load(recordStore(opts))

	portCfg := serial.DefaultConfig(opts.Serial.Device)
	if opts.Serial.Baud != 0 {
		portCfg.Baud = opts.Serial.Baud
	}
	port, err := serial.Open(portCfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer port.Close()

	engine, attn, err := buildEngine(opts, cfg, bootstrap.DebugSink(logger))
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	session := interp.NewSession(engine, cfg, interp.DefaultCommandTable())
	session.Store = recordStore(opts)
	session.SetDebugWriter(bootstrap.DebugSink(logger))

	link := hostlink.New(port, session)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("gpibridge serving",
		zap.Uint8("mode", uint8(cfg.Mode)),
		zap.Uint8("primary_addr", cfg.PrimaryAddr),
		zap.Bool("sim", opts.Sim.Enabled),
		zap.String("serial_device", opts.Serial.Device),
	)

	errc := make(chan error, 2)
	go func() { errc <- link.Run(ctx) }()
	if attn != nil {
		go func() { errc <- engine.Run(ctx, attn) }()
	}

	err = <-errc
	stop()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// buildEngine constructs the bus engine bound to either a real GPIO
// adapter or, with --sim, an unconnected in-memory loopback, and brings
// it up into the role cfg.Mode names. Device mode additionally returns an
// AttentionService wired to the engine's main loop; controller mode drives
// the bus directly from ProcessLine instead and has no use for one.
func buildEngine(opts bootstrap.Options, cfg config.Record, debug core.DebugWriter) (*core.Engine, *core.AttentionService, error) {
	var engine *core.Engine
	var pins core.PinAdapter
	var err error

	if opts.Sim.Enabled {
		pins = core.NewLoopbackAdapter()
	} else {
		pins, err = newHardwarePins(opts, func(asserted bool) {
			engine.NoteATNEdge(asserted)
		}, func(asserted bool) {
			engine.NoteSRQEdge(asserted)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	engine = core.NewEngine(pins)
	engine.SetDebugWriter(debug)

	if cfg.Mode == config.ModeController {
		if err := engine.SetControls(core.CINI); err != nil {
			return nil, nil, err
		}
		if err := engine.SetControls(core.CIDS); err != nil {
			return nil, nil, err
		}
		return engine, nil, nil
	}

	if err := engine.SetControls(core.DINI); err != nil {
		return nil, nil, err
	}
	if err := engine.SetControls(core.DIDS); err != nil {
		return nil, nil, err
	}
	if err := engine.SetStatus(cfg.StatusByte); err != nil {
		return nil, nil, err
	}
	attn := core.NewAttentionService(engine, cfg.PrimaryAddr)
	return engine, attn, nil
}
