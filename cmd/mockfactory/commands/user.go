package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/afterdarksys/mockfactory/internal/store"
	"github.com/afterdarksys/mockfactory/pkg/config"
)

var (
	userEmail    string
	userTier     string
	userPassword string
)

// UserCmd groups account administration subcommands.
var UserCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account and mint its API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userEmail == "" {
			return fmt.Errorf("--email is required")
		}
		if _, ok := config.DefaultDailyQuota[userTier]; !ok {
			return fmt.Errorf("unknown tier %q", userTier)
		}

		var hash string
		if userPassword != "" {
			h, err := bcrypt.GenerateFromPassword([]byte(userPassword), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			hash = string(h)
		}

		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		u, err := st.CreateUser(cmd.Context(), userEmail, hash, userTier)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		// The key is shown exactly once; it is not recoverable through the API.
		fmt.Printf("user:    %s\n", u.ID)
		fmt.Printf("email:   %s\n", u.Email)
		fmt.Printf("tier:    %s\n", u.Tier)
		fmt.Printf("api key: %s\n", u.APIKey)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Account email")
	userCreateCmd.Flags().StringVar(&userTier, "tier", "free", "Billing tier (free, pro, team)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Optional password for future console access")
	UserCmd.AddCommand(userCreateCmd)
}
