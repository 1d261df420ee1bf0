package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tradesys/ordergate/internal/authz"
	"github.com/tradesys/ordergate/internal/config"
	execerrors "github.com/tradesys/ordergate/internal/errors"
)

var (
	tokenScope string
	tokenTTL   time.Duration
)

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token",
	Short: "Mint a single-use confirmation token",
	Long: `Mints a signed, time-bounded, single-use confirmation token for one
execution attempt. The signing secret is read from ` + config.EnvConfirmSecret + `.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMintToken()
	},
}

func init() {
	mintTokenCmd.Flags().StringVar(&tokenScope, "scope", "execute", "scope claim the engine will require")
	mintTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 2*time.Minute, "token lifetime")
}

func runMintToken() error {
	secret := os.Getenv(config.EnvConfirmSecret)
	if secret == "" {
		return execerrors.NewConfigError("mint-token",
			fmt.Sprintf("%s is not set", config.EnvConfirmSecret))
	}
	if tokenTTL <= 0 {
		return execerrors.NewConfigError("mint-token", "ttl must be positive")
	}

	token, err := authz.MintToken(secret, tokenScope, uuid.NewString(), time.Now(), tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
