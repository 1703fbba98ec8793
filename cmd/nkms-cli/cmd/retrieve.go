package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AdalynJs/nucypher/pkg/recipient"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <envelope> <output>",
	Short: "Decrypt an envelope shared with you",
	Long: `Fetch the treasure map the owner published for you, have a threshold of
its proxies re-encrypt the envelope's capsule, and decrypt the data.`,
	Args: cobra.ExactArgs(2),
	RunE: runRetrieve,
}

var (
	retrieveURI         string
	retrieveConcurrency int
)

func init() {
	retrieveCmd.Flags().StringVar(&retrieveURI, "uri", "", "Resource label (default: the one stored in the envelope)")
	retrieveCmd.Flags().IntVar(&retrieveConcurrency, "concurrency", 0, "Work orders in flight (default: one per proxy)")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := readEnvelope(args[0])
	if err != nil {
		return err
	}
	uri := retrieveURI
	if uri == "" {
		uri = env.URI
	}
	if uri == "" {
		return fmt.Errorf("the envelope carries no resource label; pass --uri")
	}
	capsule, err := umbral.CapsuleFromBytes(env.Capsule)
	if err != nil {
		return fmt.Errorf("invalid capsule: %w", err)
	}

	bob, err := loadCharacter(ctx, "recipient")
	if err != nil {
		return err
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	r := recipient.NewRetriever(bob, s.client, s.client, s.registry, retrieveConcurrency)
	plaintext, err := r.Retrieve(ctx, env.OwnerKey, []byte(uri), capsule, env.Ciphertext)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if err := os.WriteFile(args[1], plaintext, 0o600); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Retrieved %d bytes to %s", len(plaintext), args[1]))
	return nil
}
