package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/AdalynJs/nucypher/config"
)

var auditCmd = &cobra.Command{
	Use:     "audit <node-url>",
	Aliases: []string{"audit-logs", "logs"},
	Short:   "List a proxy node's audit log",
	Long:    `List the decisions a proxy node recorded: accepted and rejected arrangements, enactments, revocations, served work orders and stored treasure maps.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAuditList,
}

// Flags
var (
	auditEntityType string
	auditAction     string
	auditHRAC       string
	auditSince      string
	auditLimit      int
	auditOffset     int
	auditToken      string
)

func init() {
	auditCmd.Flags().StringVar(&auditEntityType, "entity-type", "", "Filter by entity type (arrangement, treasure_map, work_order)")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (accept, reject, enact, revoke, expire, serve, store, denied)")
	auditCmd.Flags().StringVar(&auditHRAC, "hrac", "", "Filter by policy HRAC (hex)")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "Only entries after this time (RFC3339 format)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of logs to return")
	auditCmd.Flags().IntVar(&auditOffset, "offset", 0, "Offset for pagination")
	auditCmd.Flags().StringVar(&auditToken, "token", getEnvOrDefault("NKMS_TOKEN", ""), "Operator bearer token (env: NKMS_TOKEN)")
}

func auditQuery() string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(auditLimit))
	q.Set("offset", strconv.Itoa(auditOffset))
	for key, value := range map[string]string{
		"entity_type": auditEntityType,
		"action":      auditAction,
		"hrac":        auditHRAC,
		"since":       auditSince,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	return "/api/v1/audit-logs?" + q.Encode()
}

func runAuditList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := NewAPIClient(cfg.Negotiation.CallTimeout)
	client.Token, err = operatorToken(cmd.Context(), cfg.Security.Admin)
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := client.Get(cmd.Context(), args[0], auditQuery(), &result); err != nil {
		return err
	}

	if logs, ok := result["audit_logs"].([]interface{}); ok {
		if len(logs) == 0 {
			fmt.Println("No audit logs found.")
			return nil
		}
		if output == "table" {
			return OutputData(logs)
		}
	}
	return OutputData(result)
}

// operatorToken returns the --token value or, when a token endpoint is
// configured, an access token from the client credentials grant.
func operatorToken(ctx context.Context, cfg config.AdminConfig) (string, error) {
	if auditToken != "" || cfg.TokenURL == "" {
		return auditToken, nil
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	token, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to obtain operator token: %w", err)
	}
	if verbose {
		fmt.Fprintf(debugWriter, "obtained %s token from %s (expires %s)\n", token.Type(), cfg.TokenURL, token.Expiry.Format("15:04:05"))
	}
	return token.AccessToken, nil
}
