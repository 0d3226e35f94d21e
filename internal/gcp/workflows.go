package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// WorkflowTrigger hands freshly ingested pages to a Cloud Workflows
// execution that runs the OCR pipeline.
type WorkflowTrigger struct {
	client *executions.Client
	parent string
	logger *slog.Logger
}

func NewWorkflowTrigger(ctx context.Context, projectID, location, workflowID string) (*WorkflowTrigger, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowTrigger: projectID, location and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowTrigger{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		logger: slog.Default(),
	}, nil
}

// Notify starts one execution whose argument lists the new page keys.
func (t *WorkflowTrigger) Notify(ctx context.Context, documentName string, keys []string) error {
	payload, err := json.Marshal(map[string]any{
		"documentName": documentName,
		"pageKeys":     keys,
		"pageCount":    len(keys),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}

	exec, err := t.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: t.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	t.logger.Info("Triggered workflow.", "workflow", t.parent, "execution", exec.GetName(), "pageCount", len(keys))
	return nil
}

func (t *WorkflowTrigger) Close() error {
	return t.client.Close()
}
