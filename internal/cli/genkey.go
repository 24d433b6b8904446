package cli

import (
	"fmt"

	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/spf13/cobra"
)

// genkeyCmd represents the genkey command
var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a fresh at-rest encryption key",
	Long: `Generate a random 32-byte AES key, base64-encoded, suitable for the
encryption.key configuration option.

Changing the key invalidates every stored credential: existing records
fail their integrity check and users must sign in again.

Example:
  graphvault genkey`,
	RunE: runGenkey,
}

func init() {
	RootCmd.AddCommand(genkeyCmd)
}

func runGenkey(cmd *cobra.Command, args []string) error {
	key, err := cryptox.GenerateKey()
	if err != nil {
		return fmt.Errorf("key generation failed: %w", err)
	}
	fmt.Println(key)
	return nil
}
