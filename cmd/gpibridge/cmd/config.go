package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gpibridge/bootstrap"
	"gpibridge/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or reset the persisted interface configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the interface configuration that ++savecfg last wrote",
	RunE:  runConfigShow,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Overwrite the persisted configuration with factory defaults",
	RunE:  runConfigReset,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configResetCmd)
}

// recordStore resolves the config.Store backing ++savecfg and config.Load for
// the current process, grounded at opts.ConfigDir/gpibridge.cfg.
func recordStore(opts bootstrap.Options) config.Store {
	dir := opts.ConfigDir
	if dir == "" {
		dir = "."
	}
	return config.NewFileStore(filepath.Join(dir, "gpibridge.cfg"))
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	opts, err := bootstrap.Load(configPath)
	if err != nil {
		return fmt.Errorf("config show: %w", err)
	}

	rec := config.Load(recordStore(opts))
	fmt.Printf("mode:            %d\n", rec.Mode)
	fmt.Printf("primary_addr:    %d\n", rec.PrimaryAddr)
	fmt.Printf("secondary_addr:  %d\n", rec.SecondaryAddr)
	fmt.Printf("auto_mode:       %d\n", rec.AutoMode)
	fmt.Printf("eoi_enabled:     %t\n", rec.EOIEnabled)
	fmt.Printf("eos_mode:        %d\n", rec.EOSMode)
	fmt.Printf("eor_mode:        %d\n", rec.EORMode)
	fmt.Printf("eot_enabled:     %t\n", rec.EOTEnabled)
	fmt.Printf("eot_char:        %d\n", rec.EOTChar)
	fmt.Printf("read_timeout_ms: %d\n", rec.ReadTimeoutMS)
	fmt.Printf("verbose:         %t\n", rec.Verbose)
	fmt.Printf("srq_auto:        %t\n", rec.SRQAuto)
	fmt.Printf("listen_only:     %t\n", rec.ListenOnly)
	fmt.Printf("talk_only:       %t\n", rec.TalkOnly)
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	opts, err := bootstrap.Load(configPath)
	if err != nil {
		return fmt.Errorf("config reset: %w", err)
	}

	if err := config.Save(recordStore(opts), config.Default()); err != nil {
		return fmt.Errorf("config reset: %w", err)
	}
	fmt.Println("configuration reset to factory defaults")
	return nil
}
