package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AdalynJs/nucypher/pkg/bytestring"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

// envelope is the file encrypt writes: everything a recipient needs besides
// the proxies.
type envelope struct {
	OwnerKey   []byte `codec:"owner_key"`
	URI        string `codec:"uri,omitempty"`
	Capsule    []byte `codec:"capsule"`
	Ciphertext []byte `codec:"ciphertext"`
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <input> <output>",
	Short: "Encrypt a file under your own key",
	Long: `Encrypt a file under the --key character's public key. The output
envelope carries the capsule and the owner key; grant recipients access
to it with "grant" and they open it with "retrieve".`,
	Args: cobra.ExactArgs(2),
	RunE: runEncrypt,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <envelope> <output>",
	Short: "Decrypt an envelope you encrypted",
	Args:  cobra.ExactArgs(2),
	RunE:  runDecrypt,
}

var encryptURI string

func init() {
	encryptCmd.Flags().StringVar(&encryptURI, "uri", "", "Resource label to grant this data under")
}

func readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	var env envelope
	if err := bytestring.Unpack(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &env, nil
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	owner, err := loadCharacter(context.Background(), "owner")
	if err != nil {
		return err
	}
	plaintext, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	capsule, ciphertext, err := umbral.Encrypt(owner.SecretKey().PublicKey(), plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}
	data, err := bytestring.Pack(&envelope{
		OwnerKey:   owner.PublicKey(),
		URI:        encryptURI,
		Capsule:    capsule.Bytes(),
		Ciphertext: ciphertext,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], data, 0o644); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}

	PrintSuccess(fmt.Sprintf("Encrypted %d bytes to %s", len(plaintext), args[1]))
	return OutputData(map[string]interface{}{
		"owner_key": hex.EncodeToString(owner.PublicKey()),
		"uri":       encryptURI,
		"envelope":  args[1],
	})
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	owner, err := loadCharacter(context.Background(), "owner")
	if err != nil {
		return err
	}
	env, err := readEnvelope(args[0])
	if err != nil {
		return err
	}
	capsule, err := umbral.CapsuleFromBytes(env.Capsule)
	if err != nil {
		return fmt.Errorf("invalid capsule: %w", err)
	}

	plaintext, err := umbral.DecryptOriginal(owner.SecretKey(), capsule, env.Ciphertext)
	if err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}
	if err := os.WriteFile(args[1], plaintext, 0o600); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Decrypted %d bytes to %s", len(plaintext), args[1]))
	return nil
}
