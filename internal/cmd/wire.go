package cmd

import (
	"context"
	"fmt"

	"github.com/warden-io/warden/internal/bucket"
	"github.com/warden-io/warden/internal/channel"
	"github.com/warden-io/warden/internal/config"
	"github.com/warden-io/warden/internal/dispatch"
	"github.com/warden-io/warden/internal/pipeline"
	"github.com/warden-io/warden/internal/policy"
	"github.com/warden-io/warden/internal/task"
)

// stack bundles the wired pipeline and its stores for one process
// generation. The policy table is loaded once here and never mutated;
// a policy change requires a restart.
type stack struct {
	cfg        *config.Config
	table      *policy.Compiled
	auditStore *bucket.Store
	taskStore  *task.Store
	pipeline   *pipeline.Orchestrator
}

func (s *stack) Close() {
	_ = s.taskStore.Close()
	_ = s.auditStore.Close()
}

// buildStack loads config and policy, opens both sqlite stores, and wires
// the dispatcher and orchestrator.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKey()

	table, err := policy.Load(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	auditStore, err := bucket.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}

	taskStore, err := task.NewStore(cfg.TasksDBPath())
	if err != nil {
		_ = auditStore.Close()
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	dispatcher := dispatch.NewDispatcher(cfg.DispatchTimeout)
	dispatcher.Register(policy.TaskEmail, dispatch.NewProviderExecutor(channel.Email, cfg.ProviderBaseURL))
	dispatcher.Register(policy.TaskWhatsApp, dispatch.NewProviderExecutor(channel.WhatsApp, cfg.ProviderBaseURL))
	dispatcher.Register(policy.TaskReminder, dispatch.NewReminderExecutor())
	dispatcher.Register(policy.TaskGeneralTask, dispatch.NoopExecutor{})

	return &stack{
		cfg:        cfg,
		table:      table,
		auditStore: auditStore,
		taskStore:  taskStore,
		pipeline:   pipeline.New(table, dispatcher, auditStore, taskStore),
	}, nil
}
