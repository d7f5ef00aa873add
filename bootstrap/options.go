// Package bootstrap loads the process-level options gpibridge needs
// before it can construct an Engine: which serial device to use, where
// to persist the interface configuration, and how to log. This is
// distinct from config.Record, which is the GPIB-level settings an
// instrument operator changes at runtime with ++ commands.
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Options holds everything gpibridge needs to start up.
type Options struct {
	Serial    SerialOptions  `mapstructure:"serial"`
	Sim       SimOptions     `mapstructure:"sim"`
	Pins      PinOptions     `mapstructure:"pins"`
	Logging   LoggingOptions `mapstructure:"logging"`
	ConfigDir string         `mapstructure:"config_dir"`
}

// PinOptions names the physical GPIO pins a periph.io-backed build drives
// the GPIB bus with. Ignored entirely when sim.enabled is true.
type PinOptions struct {
	DIO  [8]string `mapstructure:"dio"`
	ATN  string    `mapstructure:"atn"`
	EOI  string    `mapstructure:"eoi"`
	DAV  string    `mapstructure:"dav"`
	NRFD string    `mapstructure:"nrfd"`
	NDAC string    `mapstructure:"ndac"`
	SRQ  string    `mapstructure:"srq"`
	REN  string    `mapstructure:"ren"`
	IFC  string    `mapstructure:"ifc"`
}

// SerialOptions configures the host-link serial port.
type SerialOptions struct {
	Device      string `mapstructure:"device"`
	Baud        int    `mapstructure:"baud"`
	ReadTimeout int    `mapstructure:"read_timeout_ms"`
}

// SimOptions selects the in-memory loopback bus instead of real hardware.
type SimOptions struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingOptions configures the zap/lumberjack logging sink.
type LoggingOptions struct {
	Level      string `mapstructure:"level"`
	Output     string `mapstructure:"output"` // "stdout" or a file path
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads options from (in increasing priority order) built-in
// defaults, a config file named gpibridge.yaml on the search path, and
// GPIBRIDGE_-prefixed environment variables.
func Load(configPaths ...string) (Options, error) {
	v := viper.New()
	v.SetConfigName("gpibridge")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("GPIBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Options{}, fmt.Errorf("bootstrap: reading config: %w", err)
		}
		// No config file is fine: defaults plus env vars still apply.
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("bootstrap: decoding config: %w", err)
	}
	return opts, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.read_timeout_ms", 100)

	v.SetDefault("sim.enabled", false)

	v.SetDefault("pins.dio", []string{"GPIO2", "GPIO3", "GPIO4", "GPIO17", "GPIO27", "GPIO22", "GPIO10", "GPIO9"})
	v.SetDefault("pins.atn", "GPIO5")
	v.SetDefault("pins.eoi", "GPIO6")
	v.SetDefault("pins.dav", "GPIO13")
	v.SetDefault("pins.nrfd", "GPIO19")
	v.SetDefault("pins.ndac", "GPIO26")
	v.SetDefault("pins.srq", "GPIO21")
	v.SetDefault("pins.ren", "GPIO20")
	v.SetDefault("pins.ifc", "GPIO16")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("config_dir", ".")
}
