package cli

import (
	"fmt"

	"github.com/dl-alexandre/drivews/internal/config"
	"github.com/dl-alexandre/drivews/internal/types"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing drivews configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration, including environment overrides",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. List keys such as trackedFolders take a comma-separated value. Use 'config show' to see available keys",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

// configView renders a config as key/value rows.
type configView struct {
	*config.Config
}

func (v configView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Key", "Value"}, empty: "No configuration"}
	for _, key := range v.Keys() {
		value, _ := v.Get(key)
		t.rows = append(t.rows, []string{key, value})
	}
	return t
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := newOutput()
	return out.WriteSuccess("config.show", configView{appConfig})
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	out := newOutput()
	value, err := appConfig.Get(args[0])
	if err != nil {
		return out.fail("config.get", invalidArgument(err.Error()))
	}
	if out.format == types.OutputFormatTable {
		fmt.Fprintln(out.stdout, value)
		return nil
	}
	return out.WriteSuccess("config.get", map[string]string{"key": args[0], "value": value})
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	out := newOutput()
	key, value := args[0], args[1]

	if err := appConfig.Set(key, value); err != nil {
		return out.fail("config.set", invalidArgument(err.Error()))
	}
	if err := appConfig.Save(globalFlags.Config); err != nil {
		return out.fail("config.set", fmt.Errorf("failed to save configuration: %w", err))
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]string{"key": key, "value": value})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := newOutput()
	cfg := config.DefaultConfig()
	if err := cfg.Save(globalFlags.Config); err != nil {
		return out.fail("config.reset", fmt.Errorf("failed to reset configuration: %w", err))
	}
	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", configView{cfg})
}
