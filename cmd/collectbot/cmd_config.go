package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/collectbot/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configCheckCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values with their units",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := config.ListValues(loadConfig(), false)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		return printKeys(os.Stdout, values)
	},
}

// printKeys writes one aligned line per known key, in key order.
func printKeys(w io.Writer, values map[string]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range config.Keys() {
		fmt.Fprintf(tw, "%s\t%s\n", k.Name, k.Format(values[k.Name]))
	}
	return tw.Flush()
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, ok := config.LookupKey(args[0])
		if !ok {
			return fmt.Errorf("unknown config key: %s", args[0])
		}
		val, err := config.GetValue(cfgPath, key.Name)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, key.Format(val))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Delays are in milliseconds (keys ending _ms),
the code lifetime in seconds, and the session idle time in minutes. Values
outside their allowed range are rejected and the file is left unchanged.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		key, _ := config.LookupKey(args[0])
		val, err := config.GetValue(cfgPath, key.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", key.Name, key.Format(val))
		if _, err := readPID(); err == nil {
			fmt.Fprintln(os.Stdout, "Run 'collectbot restart' to apply it to the running daemon.")
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(loadConfig()); err != nil {
			return fmt.Errorf("invalid config %s:\n%w", cfgPath, err)
		}
		fmt.Fprintf(os.Stdout, "%s is valid.\n", cfgPath)
		return nil
	},
}
