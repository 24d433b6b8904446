package cli

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/graphvault/graphvault/internal/store"
	"github.com/spf13/cobra"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration and connectivity issues",
	Long: `Perform a diagnostic pass over the GraphVault installation.

This command checks:
- System information (OS, Go version)
- Configuration file presence and validity
- Encryption key material
- Credential store accessibility
- Identity provider reachability

Example:
  graphvault doctor`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// DoctorCheck is a single diagnostic result
type DoctorCheck struct {
	Name    string
	Status  string
	Message string
}

const (
	checkOK   = "ok"
	checkWarn = "warn"
	checkFail = "fail"
)

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := []DoctorCheck{
		{Name: "go runtime", Status: checkOK, Message: runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH},
	}

	cfg, configChecks := checkConfiguration()
	checks = append(checks, configChecks...)

	if cfg != nil {
		checks = append(checks, checkEncryptionKey(cfg))
		checks = append(checks, checkStore(cfg))
		checks = append(checks, checkProviderReachable(cfg))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	failed := false
	for _, c := range checks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Status, c.Message)
		if c.Status == checkFail {
			failed = true
		}
	}
	w.Flush()

	if failed {
		return fmt.Errorf("diagnostic found failing checks")
	}
	return nil
}

func checkConfiguration() (*config.Config, []DoctorCheck) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, []DoctorCheck{{
			Name:    "configuration",
			Status:  checkFail,
			Message: err.Error(),
		}}
	}
	return cfg, []DoctorCheck{{
		Name:    "configuration",
		Status:  checkOK,
		Message: globalFlags.Config,
	}}
}

func checkEncryptionKey(cfg *config.Config) DoctorCheck {
	if _, err := cryptox.NewCodec(cfg.Encryption.Key); err != nil {
		return DoctorCheck{Name: "encryption key", Status: checkFail, Message: err.Error()}
	}
	return DoctorCheck{Name: "encryption key", Status: checkOK, Message: "valid 32-byte AES key"}
}

func checkStore(cfg *config.Config) DoctorCheck {
	codec, err := cryptox.NewCodec(cfg.Encryption.Key)
	if err != nil {
		return DoctorCheck{Name: "credential store", Status: checkFail, Message: "unusable encryption key"}
	}

	s, err := store.NewSQLiteStore(globalFlags.DBPath, codec)
	if err != nil {
		return DoctorCheck{Name: "credential store", Status: checkFail, Message: err.Error()}
	}
	defer s.Close()

	stats, err := s.Stats()
	if err != nil {
		return DoctorCheck{Name: "credential store", Status: checkFail, Message: err.Error()}
	}
	return DoctorCheck{
		Name:    "credential store",
		Status:  checkOK,
		Message: fmt.Sprintf("%s (%d credentials, %d audit events)", globalFlags.DBPath, stats.CredentialCount, stats.AuditEventCount),
	}
}

func checkProviderReachable(cfg *config.Config) DoctorCheck {
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", cfg.Provider.EffectiveBaseURL(), cfg.Provider.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return DoctorCheck{Name: "identity provider", Status: checkWarn, Message: "unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	// Any HTTP answer proves reachability; the authorize endpoint rejects a
	// parameterless GET without that meaning anything is wrong.
	return DoctorCheck{
		Name:    "identity provider",
		Status:  checkOK,
		Message: fmt.Sprintf("%s answered with HTTP %d", cfg.Provider.EffectiveBaseURL(), resp.StatusCode),
	}
}
