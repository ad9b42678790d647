package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roomies-app/roomies-sync/internal/auth"
)

var (
	flagEmail    string
	flagPassword string
	flagName     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the Roomies service",
	Long: `Authenticate and store the returned token pair locally.

Tokens are kept in a 0600 file under the credentials directory and are
refreshed transparently when the service rejects an expired access token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagEmail == "" || flagPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}

		creds := auth.NewStore(cfg.CredentialsDir(), flagEmail)
		client := newClient(cfg, creds, nil)

		resp, err := client.Login(cmd.Context(), flagEmail, flagPassword)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := setCurrentAccount(cfg, flagEmail); err != nil {
			return err
		}

		if resp.User != nil {
			fmt.Printf("Logged in as %s (%s)\n", resp.User.Name, resp.User.Email)
		} else {
			fmt.Printf("Logged in as %s\n", flagEmail)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the Roomies service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagEmail == "" || flagPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}

		creds := auth.NewStore(cfg.CredentialsDir(), flagEmail)
		client := newClient(cfg, creds, nil)

		if _, err := client.Register(cmd.Context(), flagEmail, flagPassword, flagName); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		if err := setCurrentAccount(cfg, flagEmail); err != nil {
			return err
		}

		fmt.Printf("Registered %s\n", flagEmail)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := credStore(cfg).Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&flagEmail, "email", "", "account email")
		cmd.Flags().StringVar(&flagPassword, "password", "", "account password")
	}
	registerCmd.Flags().StringVar(&flagName, "name", "", "display name")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}
