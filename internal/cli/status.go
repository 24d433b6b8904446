package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/graphvault/graphvault/internal/api"
	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/cryptox"
	gverrors "github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/store"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a credential is stored for a user",
	Long: `Inspect the credential store and report whether a usable credential
exists for the given user, without printing any token material.

Example:
  graphvault status --user default`,
	RunE: runStatus,
}

var statusUser string

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", api.DefaultUserID, "User identity to inspect")
	RootCmd.AddCommand(statusCmd)
}

// openStore loads configuration and opens the credential store the same way
// the server does.
func openStore() (*store.SQLiteStore, *config.Config, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	codec, err := cryptox.NewCodec(cfg.Encryption.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	s, err := store.NewSQLiteStore(globalFlags.DBPath, codec,
		store.WithExpiryMargin(cfg.Encryption.EffectiveExpiryMargin()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, cfg, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Get(context.Background(), statusUser)
	if err != nil {
		var notFound *gverrors.ErrNotFound
		if stderrors.As(err, &notFound) {
			fmt.Printf("user:      %s\nhas_token: false\n", statusUser)
			return nil
		}
		return err
	}

	state := "valid"
	if rec.Expired(time.Now()) {
		state = "expired (will refresh on next use)"
	}
	fmt.Printf("user:       %s\nhas_token:  true\nexpires_at: %s\nstate:      %s\n",
		statusUser, rec.ExpiresAt.UTC().Format(time.RFC3339), state)
	return nil
}
