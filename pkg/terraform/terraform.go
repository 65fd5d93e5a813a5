// Package terraform adapts the external declarative apply engine's CLI to
// the pipeline's ApplyEngine interface. Every invocation runs over the
// remote-execution transport and is judged purely by its typed result,
// never by propagating exit codes through a shell.
package terraform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pvconverge/pvconverge/pkg/engine"
	"github.com/pvconverge/pvconverge/pkg/telemetry"
	"github.com/pvconverge/pvconverge/pkg/transports/ssh"
)

// Config holds the engine invocation settings.
type Config struct {
	// Binary is the engine executable name or path on the remote host.
	Binary string

	// WorkDir is the remote working directory holding the engine
	// configuration and the uploaded desired-state artifact.
	WorkDir string

	// PlanFile is the plan artifact filename within WorkDir.
	PlanFile string
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Binary:   "terraform",
		WorkDir:  "/etc/pvconverge/deploy",
		PlanFile: "pending.tfplan",
	}
}

// Engine drives the apply engine CLI over a transport.
type Engine struct {
	config    Config
	transport ssh.Transport
}

// New creates an engine adapter.
func New(config Config, transport ssh.Transport) *Engine {
	if config.Binary == "" {
		config.Binary = "terraform"
	}
	if config.PlanFile == "" {
		config.PlanFile = "pending.tfplan"
	}
	return &Engine{config: config, transport: transport}
}

// lockPhrases are the stderr markers of a held state lock. A lock means
// another deployment is running; the caller gets a conflict, not a hang.
var lockPhrases = []string{
	"Error acquiring the state lock",
	"state lock",
	"Lock Info:",
}

// run executes one engine subcommand and maps failures to classified
// errors. Non-zero exits are engine errors (or conflicts when the state
// lock is held); transport failures are connectivity errors.
func (e *Engine) run(ctx context.Context, operation string, args string) (ssh.Result, error) {
	cmd := fmt.Sprintf("%s -chdir=%s %s", e.config.Binary, e.config.WorkDir, args)

	start := time.Now()
	res, err := e.transport.Run(ctx, cmd)
	e.record(ctx, operation, res, err, time.Since(start))

	if err != nil {
		return res, engine.NewConnectivityError(fmt.Sprintf("apply engine %s", operation), err)
	}
	if res.Success() {
		return res, nil
	}

	for _, phrase := range lockPhrases {
		if strings.Contains(res.Stderr, phrase) {
			return res, engine.NewConflictError(fmt.Sprintf("apply engine %s: state lock is held", operation), nil)
		}
	}
	return res, engine.NewApplyEngineError(
		fmt.Sprintf("apply engine %s exited %d", operation, res.ExitCode),
		fmt.Errorf("%s", strings.TrimSpace(res.Stderr)),
	)
}

func (e *Engine) record(ctx context.Context, operation string, res ssh.Result, err error, elapsed time.Duration) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	result := "success"
	if err != nil || !res.Success() {
		result = "failure"
	}
	tel.Metrics.RecordEngineCall(operation, result, elapsed)
}

// Init prepares the engine working directory.
func (e *Engine) Init(ctx context.Context) error {
	_, err := e.run(ctx, "init", "init -input=false -no-color")
	return err
}

// Validate checks the engine configuration and the uploaded artifact.
func (e *Engine) Validate(ctx context.Context) error {
	_, err := e.run(ctx, "validate", "validate -no-color")
	return err
}

// Plan computes and saves a concrete plan artifact. The detailed exit-code
// contract distinguishes "no changes" (0) from "changes pending" (2) from
// errors (anything else).
func (e *Engine) Plan(ctx context.Context) (engine.PlanResult, error) {
	args := fmt.Sprintf("plan -input=false -no-color -detailed-exitcode -out=%s", e.config.PlanFile)
	cmd := fmt.Sprintf("%s -chdir=%s %s", e.config.Binary, e.config.WorkDir, args)

	start := time.Now()
	res, err := e.transport.Run(ctx, cmd)
	e.record(ctx, "plan", res, err, time.Since(start))

	if err != nil {
		return engine.PlanResult{}, engine.NewConnectivityError("apply engine plan", err)
	}

	artifact := e.config.WorkDir + "/" + e.config.PlanFile
	switch res.ExitCode {
	case 0:
		return engine.PlanResult{Outcome: engine.PlanNoChanges, ArtifactPath: artifact}, nil
	case 2:
		return engine.PlanResult{
			Outcome:      engine.PlanChangesPending,
			ArtifactPath: artifact,
			Summary:      extractPlanSummary(res.Stdout),
		}, nil
	default:
		for _, phrase := range lockPhrases {
			if strings.Contains(res.Stderr, phrase) {
				return engine.PlanResult{}, engine.NewConflictError("apply engine plan: state lock is held", nil)
			}
		}
		return engine.PlanResult{}, engine.NewApplyEngineError(
			fmt.Sprintf("apply engine plan exited %d", res.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(res.Stderr)),
		)
	}
}

// Apply applies the saved plan artifact verbatim. It never recomputes the
// plan: whatever was validated and planned is exactly what is applied.
func (e *Engine) Apply(ctx context.Context, plan engine.PlanResult) error {
	if plan.ArtifactPath == "" {
		return engine.NewApplyEngineError("apply called without a plan artifact", nil)
	}
	_, err := e.run(ctx, "apply", fmt.Sprintf("apply -input=false -no-color -auto-approve %s", e.config.PlanFile))
	return err
}

// StateList returns every resource address in the engine's state. An empty
// state exits non-zero on some engine versions; that is reported as an
// error and the caller degrades to an empty snapshot.
func (e *Engine) StateList(ctx context.Context) ([]string, error) {
	res, err := e.run(ctx, "state_list", "state list")
	if err != nil {
		return nil, err
	}

	var addresses []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			addresses = append(addresses, line)
		}
	}
	return addresses, nil
}

// StateShow returns the raw string attributes of one resource address,
// parsed from the engine's `attribute = value` listing.
func (e *Engine) StateShow(ctx context.Context, address string) (map[string]string, error) {
	res, err := e.run(ctx, "state_show", fmt.Sprintf("state show -no-color %s", address))
	if err != nil {
		return nil, err
	}
	return parseStateShow(res.Stdout), nil
}

// parseStateShow extracts top-level `key = value` pairs from the state
// listing, stripping quotes. Nested blocks are skipped: the snapshot only
// needs the flat identity and sizing attributes.
func parseStateShow(out string) map[string]string {
	attrs := make(map[string]string)
	depth := 0
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasSuffix(trimmed, "{") || strings.HasSuffix(trimmed, "[") {
			depth++
			continue
		}
		if trimmed == "}" || trimmed == "]" || trimmed == "}," || trimmed == "]," {
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth > 1 {
			continue
		}

		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		if key != "" {
			attrs[key] = value
		}
	}
	return attrs
}

// extractPlanSummary pulls the "Plan: X to add..." line out of the plan
// output for diagnostics.
func extractPlanSummary(out string) string {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Plan:") {
			return trimmed
		}
	}
	return ""
}
