package cli

import (
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "graphvault",
	Short: "GraphVault - Microsoft Graph credential lifecycle manager",
	Long: `GraphVault keeps the OAuth2 credentials of a personal-assistant backend
alive: it drives the Microsoft identity platform sign-in, stores tokens
encrypted at rest, and refreshes them transparently so downstream
services always hold a valid bearer token.

Usage:
  graphvault [command] [flags]

Available Commands:
  serve      Start the GraphVault server (main mode)
  status     Show whether a credential is stored for a user
  revoke     Delete the stored credential for a user
  genkey     Generate a fresh at-rest encryption key
  doctor     Diagnose configuration and connectivity issues

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       Path to SQLite database (default "./data/graphvault.db")
  --verbose         Enable verbose output

Use "graphvault [command] --help" for more information about a command.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	// A .env next to the binary is a convenient place for GRAPHVAULT_* secrets
	// during local development; absence is not an error.
	_ = godotenv.Load()

	configPath := os.Getenv("GRAPHVAULT_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	dbPath := os.Getenv("GRAPHVAULT_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/graphvault.db"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", dbPath, "Path to SQLite database")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of GraphVault",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// printVersion prints the version information
func printVersion() {
	info := GetVersionInfo()
	println("GraphVault Version:", info.Version)
	println("Go Version:", info.GoVersion)
	println("OS/Arch:", info.OS+"/"+info.Arch)
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string
	GoVersion string
	OS        string
	Arch      string
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
