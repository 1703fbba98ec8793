package ursula

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/pkg/policy"
)

// acceptQuery is the rule every acceptance policy must define.
const acceptQuery = "data.nkms.arrangement.accept"

// DefaultAcceptancePolicy accepts proposals that pay at least the minimum
// deposit and do not outlast the maximum duration (zero means unbounded).
const DefaultAcceptancePolicy = `package nkms.arrangement

default accept = false

accept {
	input.deposit >= input.min_deposit
	within_duration
}

within_duration {
	input.max_duration_seconds == 0
}

within_duration {
	input.duration_seconds <= input.max_duration_seconds
}
`

// Decision is the outcome of evaluating a proposal.
type Decision struct {
	Accept bool
	Reason string
}

// AcceptancePolicy decides which arrangements this node takes on, using a
// Rego module evaluated by OPA.
type AcceptancePolicy struct {
	query       rego.PreparedEvalQuery
	name        string
	minDeposit  uint64
	maxDuration time.Duration
}

// NewAcceptancePolicy compiles the policy named by cfg, or the default
// policy when no file is configured.
func NewAcceptancePolicy(ctx context.Context, cfg config.AcceptanceConfig) (*AcceptancePolicy, error) {
	name, module := "default", DefaultAcceptancePolicy
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read acceptance policy: %w", err)
		}
		name, module = cfg.PolicyFile, string(data)
	}
	return compileAcceptancePolicy(ctx, name, module, cfg)
}

func compileAcceptancePolicy(ctx context.Context, name, module string, cfg config.AcceptanceConfig) (*AcceptancePolicy, error) {
	r := rego.New(
		rego.Query(acceptQuery),
		rego.Module(name, module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare acceptance policy: %w", err)
	}
	return &AcceptancePolicy{
		query:       query,
		name:        name,
		minDeposit:  cfg.MinDeposit,
		maxDuration: cfg.MaxDuration,
	}, nil
}

// Evaluate decides on p as of now.
func (a *AcceptancePolicy) Evaluate(ctx context.Context, p *policy.ArrangementProposal, now time.Time) (*Decision, error) {
	duration := p.Expiration().Sub(now)
	if duration <= 0 {
		return &Decision{Reason: "arrangement already expired"}, nil
	}

	input := map[string]interface{}{
		"owner_key":            hex.EncodeToString(p.OwnerKey),
		"policy_id":            hex.EncodeToString(p.PolicyID),
		"deposit":              int64(p.Deposit),
		"duration_seconds":     int64(duration.Seconds()),
		"min_deposit":          int64(a.minDeposit),
		"max_duration_seconds": int64(a.maxDuration.Seconds()),
	}

	results, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate acceptance policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Reason: "acceptance policy returned no result (default decline)"}, nil
	}
	if accept, ok := results[0].Expressions[0].Value.(bool); ok && accept {
		return &Decision{Accept: true}, nil
	}
	return &Decision{Reason: fmt.Sprintf("declined by acceptance policy %s", a.name)}, nil
}
