package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/policy"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a recipient access to a resource",
	Long: `Split your key into --shares fragments re-encrypting to the recipient,
place each with a proxy, and publish the treasure map. Any --threshold of
the proxies can then serve the recipient.`,
	Example: `  nkms-cli grant --key alice.key --recipient 5c1f... --uri nkms://vault/report -m 2 -n 3`,
	RunE:    runGrant,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a grant on every proxy holding it",
	RunE:  runRevoke,
}

var (
	grantRecipient  string
	grantURI        string
	grantThreshold  int
	grantShares     int
	grantExpiration time.Duration
	grantDeposit    uint64
)

func init() {
	for _, c := range []*cobra.Command{grantCmd, revokeCmd} {
		c.Flags().StringVar(&grantRecipient, "recipient", "", "Recipient public key (hex)")
		c.Flags().StringVar(&grantURI, "uri", "", "Resource label")
		_ = c.MarkFlagRequired("recipient")
		_ = c.MarkFlagRequired("uri")
	}
	grantCmd.Flags().IntVarP(&grantThreshold, "threshold", "m", 2, "Fragments needed to re-encrypt")
	grantCmd.Flags().IntVarP(&grantShares, "shares", "n", 3, "Fragments to place with proxies")
	grantCmd.Flags().DurationVar(&grantExpiration, "expiration", 0, "How long the grant lasts (default from config)")
	grantCmd.Flags().Uint64Var(&grantDeposit, "deposit", 0, "Deposit offered to each proxy (default from config)")
}

func runGrant(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if grantThreshold < 1 || grantThreshold > grantShares {
		return fmt.Errorf("threshold must be between 1 and shares (%d)", grantShares)
	}
	recipientKey, err := decodeKey("recipient", grantRecipient)
	if err != nil {
		return err
	}
	owner, err := loadCharacter(ctx, "owner")
	if err != nil {
		return err
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	cfg := s.cfg.Negotiation
	if grantExpiration > 0 {
		cfg.DefaultExpiration = grantExpiration
	}
	if grantDeposit > 0 {
		cfg.DefaultDeposit = grantDeposit
	}

	g, err := policy.NewManager(owner, s.client, cfg).Grant(ctx, recipientKey, []byte(grantURI), grantThreshold, grantShares)
	var incomplete *models.IncompletePolicyError
	if errors.As(err, &incomplete) {
		PrintWarning(fmt.Sprintf("only %d of %d fragments found a proxy", grantShares-len(incomplete.Unresolved), grantShares))
	}
	if err != nil {
		return fmt.Errorf("grant failed: %w", err)
	}

	proxies := make([]interface{}, 0, g.TreasureMap.Len())
	for _, e := range g.TreasureMap.Entries {
		proxies = append(proxies, map[string]interface{}{
			"index": e.Index,
			"node":  hex.EncodeToString(e.NodeID),
		})
	}
	PrintSuccess(fmt.Sprintf("Granted %s to %s", grantURI, grantRecipient))
	summary := map[string]interface{}{
		"hrac":            hex.EncodeToString(g.Policy.HRAC),
		"policy_id":       hex.EncodeToString(g.Policy.ID),
		"treasure_map":    hex.EncodeToString(g.Publication.Key),
		"threshold":       g.TreasureMap.Threshold,
		"expiration_time": g.Policy.Terms.Expiration.Format(time.RFC3339),
	}
	if output != "table" {
		summary["proxies"] = proxies
		return OutputData(summary)
	}
	if err := OutputData(summary); err != nil {
		return err
	}
	return OutputData(proxies)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recipientKey, err := decodeKey("recipient", grantRecipient)
	if err != nil {
		return err
	}
	owner, err := loadCharacter(ctx, "owner")
	if err != nil {
		return err
	}
	digest, err := hrac.ComputeHRAC(owner.PublicKey(), recipientKey, []byte(grantURI))
	if err != nil {
		return err
	}
	revocation, err := policy.BuildRevocation(owner, digest)
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	revoked, err := revokeEverywhere(ctx, s, digest, revocation)
	if err != nil {
		return err
	}
	if revoked == 0 {
		PrintWarning("no proxy held this grant")
		return nil
	}
	PrintSuccess(fmt.Sprintf("Revoked on %d proxies", revoked))
	return nil
}

// revokeEverywhere sends the revocation to every known node. Nodes that do
// not hold the policy are skipped.
func revokeEverywhere(ctx context.Context, s *session, digest, revocation []byte) (int, error) {
	nodes, err := s.registry.Nodes(ctx)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, node := range nodes {
		_, err := s.client.Send(ctx, node, network.Message{Kind: network.KindRevoke, Key: digest, Body: revocation})
		switch {
		case err == nil:
			revoked++
		case errors.Is(err, models.ErrArrangementNotFound):
		default:
			PrintWarning(fmt.Sprintf("node %s: %v", node.Endpoint, err))
		}
	}
	return revoked, nil
}
