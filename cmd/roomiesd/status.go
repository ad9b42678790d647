package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if _, err := os.Stat(cfg.DatabasePath()); os.IsNotExist(err) {
			fmt.Println("Local store not initialized. Run 'roomiesd sync' first.")
			return
		}

		st, err := openStore(cmd, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := cmd.Context()

		count, _ := st.TaskCount(ctx)
		dirty, _ := st.ListDirty(ctx)
		lastSync, _ := st.GetMeta(ctx, "last_sync_at")
		household, _ := st.CurrentHousehold(ctx)

		fmt.Printf("Store:     %s\n", cfg.DatabasePath())
		fmt.Printf("Server:    %s\n", cfg.ServerURL)
		if household != nil {
			fmt.Printf("Household: %s (%s)\n", household.Name, household.ID)
		} else {
			fmt.Printf("Household: none\n")
		}
		fmt.Printf("Tasks:     %d (%d pending sync)\n", count, len(dirty))
		if lastSync == "" {
			fmt.Printf("Last sync: never\n")
		} else if t, err := time.Parse(time.RFC3339, lastSync); err == nil {
			fmt.Printf("Last sync: %s (%s ago)\n", lastSync, time.Since(t).Round(time.Second))
		} else {
			fmt.Printf("Last sync: %s\n", lastSync)
		}

		if account := currentAccount(cfg); account != "" {
			fmt.Printf("Account:   %s\n", account)
		} else {
			fmt.Printf("Account:   logged out\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
