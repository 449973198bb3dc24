// agentctl запускает одного агента вручную для заданного тенанта и печатает результат.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-agentops/internal/app"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Run DevOps agents manually",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)

	root.AddCommand(
		&cobra.Command{
			Use:   "monitoring <tenant_id> [website_id]",
			Short: "Check website health for a tenant",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				actx := domain.AgentContext{TenantID: args[0], Trigger: domain.TriggerManual}
				if len(args) == 2 {
					actx.WebsiteID = args[1]
				}
				return runAgent(cmd, domain.AgentMonitoring, actx)
			},
		},
		&cobra.Command{
			Use:   "incident <tenant_id>",
			Short: "Detect and update incidents for a tenant",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAgent(cmd, domain.AgentIncident, domain.AgentContext{
					TenantID: args[0],
					Trigger:  domain.TriggerManual,
				})
			},
		},
		incidentCmd("rca", "Run root cause analysis for an incident", domain.AgentRCA),
		incidentCmd("remediation", "Plan and execute remediation for an incident", domain.AgentRemediation),
	)
	return root
}

func incidentCmd(use, short string, t domain.AgentType) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tenant_id> <incident_id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, t, domain.AgentContext{
				TenantID:   args[0],
				IncidentID: args[1],
				Trigger:    domain.TriggerManual,
			})
		},
	}
}

// runAgent собирает зависимости так же, как планировщик, и выполняет агента один раз.
func runAgent(cmd *cobra.Command, t domain.AgentType, actx domain.AgentContext) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ag, ok := a.Agents.Get(t)
	if !ok {
		return fmt.Errorf("agent not found: %s", t)
	}

	ctx, cancelTask := context.WithTimeout(engine.WithTraceID(ctx, ""), cfg.Scheduler.TaskTimeout)
	defer cancelTask()
	logger.Info("manual agent run",
		zap.String("agent", string(t)),
		zap.String("tenant_id", actx.TenantID),
		zap.String("trace_id", engine.TraceID(ctx)))

	res, err := ag.Execute(ctx, actx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("agent %s failed: %s", t, res.Error)
	}
	return nil
}
