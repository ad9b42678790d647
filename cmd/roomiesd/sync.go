package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roomies-app/roomies-sync/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run one upload-then-download cycle against the Roomies service.

All records with pending local changes are uploaded first, then the
authoritative household collection is pulled and reconciled. Records
whose upload fails stay pending for the next cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		client := newClient(cfg, credStore(cfg), nil)
		eng := engine.New(st, client, nil, &engine.Config{
			Interval: cfg.SyncInterval,
			Logger:   componentLogger("sync"),
		})

		if err := eng.Sync(cmd.Context()); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		count, err := st.TaskCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Sync complete. %d task(s) in local store.\n", count)
		return nil
	},
}

var householdCmd = &cobra.Command{
	Use:   "household",
	Short: "Create or join a household",
}

var householdCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a household",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		client := newClient(cfg, credStore(cfg), nil)
		h, err := client.CreateHousehold(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to create household: %w", err)
		}
		if err := st.SaveHousehold(cmd.Context(), h); err != nil {
			return err
		}

		fmt.Printf("Created household %s (invite code: %s)\n", h.Name, h.InviteCode)
		return nil
	},
}

var householdJoinCmd = &cobra.Command{
	Use:   "join <invite-code>",
	Short: "Join a household by invite code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		client := newClient(cfg, credStore(cfg), nil)
		h, err := client.JoinHousehold(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to join household: %w", err)
		}
		if err := st.SaveHousehold(cmd.Context(), h); err != nil {
			return err
		}

		fmt.Printf("Joined household %s\n", h.Name)
		return nil
	},
}

func init() {
	householdCmd.AddCommand(householdCreateCmd)
	householdCmd.AddCommand(householdJoinCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(householdCmd)
}
