package cli

import (
	"context"
	"fmt"

	"github.com/graphvault/graphvault/internal/api"
	"github.com/spf13/cobra"
)

// revokeCmd represents the revoke command
var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Delete the stored credential for a user",
	Long: `Delete the encrypted credential record for the given user. The user
must sign in again before downstream services can obtain tokens.
Revoking an absent credential is a no-op.

Example:
  graphvault revoke --user default`,
	RunE: runRevoke,
}

var revokeUser string

func init() {
	revokeCmd.Flags().StringVar(&revokeUser, "user", api.DefaultUserID, "User identity to revoke")
	RootCmd.AddCommand(revokeCmd)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Delete(context.Background(), revokeUser); err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}

	fmt.Printf("credential revoked for user %q\n", revokeUser)
	return nil
}
