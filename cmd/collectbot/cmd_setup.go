package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/collectbot/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("collectbot setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token", cfg.Telegram.Token)

		admins := prompt(scanner, "Admin user ids (comma separated)", joinIDs(cfg.AdminIDs))
		ids, err := config.ParseIDs(admins)
		if err != nil {
			return fmt.Errorf("admin ids: %w", err)
		}
		cfg.AdminIDs = ids

		channel := prompt(scanner, "Activity channel id (0 disables)", strconv.FormatInt(cfg.Notify.ActivityChannel, 10))
		if n, err := strconv.ParseInt(channel, 10, 64); err == nil {
			cfg.Notify.ActivityChannel = n
		}

		workers := prompt(scanner, "Max concurrent jobs", strconv.Itoa(cfg.MaxConcurrent))
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
