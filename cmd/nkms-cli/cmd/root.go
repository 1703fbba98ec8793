package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AdalynJs/nucypher/config"
)

var (
	// Global flags
	configFile string
	keyFile    string
	nodeURLs   []string
	verbose    bool
	output     string // json, yaml, table
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nkms-cli",
	Short: "NKMS client for owners and recipients of re-encryption policies",
	Long: `nkms-cli manages characters and policies on an NKMS proxy network.

Owners generate a key, encrypt data under it and grant recipients access
through a threshold of proxies. Recipients retrieve the published treasure
map and have the proxies re-encrypt the data key for them.

Proxies are found through the configured discovery backend, or listed
explicitly with --node.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("NKMS_CONFIG"), "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&keyFile, "key", "k", getEnvOrDefault("NKMS_KEY_FILE", "nkms.key"), "Character secret key file")
	rootCmd.PersistentFlags().StringSliceVar(&nodeURLs, "node", splitEnv("NKMS_NODES"), "Proxy node URL (repeatable); bypasses the discovery backend")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, yaml, table)")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

// loadConfig reads the CLI configuration, falling back to defaults when no
// file is present.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintf(debugWriter, "discovery: %s, call timeout: %v\n", cfg.Discovery.Type, cfg.Negotiation.CallTimeout)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("NKMS CLI v0.1.0")
	},
}
