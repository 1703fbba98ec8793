package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AdalynJs/nucypher/pkg/identity"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a character secret key",
	Long: `Generate a new secret key and store it in the --key file with
owner-only permissions. The public key printed is what others grant to
or verify against.`,
	RunE: runKeygen,
}

var pubkeyCmd = &cobra.Command{
	Use:     "pubkey",
	Aliases: []string{"whoami"},
	Short:   "Show the public key of the --key file",
	RunE:    runPubkey,
}

var (
	keygenName  string
	keygenForce bool
)

func init() {
	keygenCmd.Flags().StringVar(&keygenName, "name", "owner", "Character name")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing key file")

	rootCmd.AddCommand(pubkeyCmd)
}

func describe(c *identity.Character) map[string]interface{} {
	return map[string]interface{}{
		"name":          c.Name(),
		"public_key":    hex.EncodeToString(c.PublicKey()),
		"interface_key": hex.EncodeToString(c.InterfaceKey()),
		"key_file":      keyFile,
	}
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyFile); err == nil && !keygenForce {
		return fmt.Errorf("key file %s already exists (use --force to replace it)", keyFile)
	}

	c := identity.NewCharacter(keygenName)
	if err := identity.WriteKeyFile(keyFile, c); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Key written to %s", keyFile))
	return OutputData(describe(c))
}

func runPubkey(cmd *cobra.Command, args []string) error {
	c, err := loadCharacter(context.Background(), "self")
	if err != nil {
		return err
	}
	return OutputData(describe(c))
}

// decodeKey parses a hex public key given on the command line.
func decodeKey(flag, value string) ([]byte, error) {
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be a hex public key: %w", flag, err)
	}
	return key, nil
}
