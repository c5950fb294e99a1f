package cmd

import (
	"errors"
	"fmt"
	"strings"

	"docflow/pkg/api"

	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage document approval workflows",
	Long: `A workflow is a list of approval steps, each bound to one user, role or
department. SEQUENTIAL workflows decide steps in order, PARALLEL ones in any
order, and ANY completes on the first approval. A rejection cancels the workflow.`,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show [document_id]",
	Short: "Show the workflow of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		wf, err := client.GetWorkflow(args[0])
		if err != nil {
			return err
		}
		printWorkflow(cmd, wf)
		return nil
	},
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create [document_id]",
	Short: "Create a DRAFT workflow for a document",
	Example: `  docctl workflow create <document-id> --step role:MANAGER --step department:legal
  docctl workflow create <document-id> --type ANY --step user:<user-id> --step user:<user-id>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		specs, _ := cmd.Flags().GetStringArray("step")
		if len(specs) == 0 {
			return errors.New("at least one --step is required")
		}
		steps := make([]api.StepBinding, 0, len(specs))
		for _, s := range specs {
			b, err := parseStep(s)
			if err != nil {
				return err
			}
			steps = append(steps, b)
		}
		wfType, _ := cmd.Flags().GetString("type")

		wf, err := client.CreateWorkflow(args[0], api.CreateWorkflowRequest{Type: strings.ToUpper(wfType), Steps: steps})
		if err != nil {
			return err
		}
		printWorkflow(cmd, wf)
		return nil
	},
}

// parseStep reads a step binding written as user:<id>, role:<role> or department:<name>.
func parseStep(s string) (api.StepBinding, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return api.StepBinding{}, fmt.Errorf("invalid step %q: want user:<id>, role:<role> or department:<name>", s)
	}
	switch strings.ToLower(kind) {
	case "user":
		return api.StepBinding{UserID: &value}, nil
	case "role":
		role := strings.ToUpper(value)
		return api.StepBinding{Role: &role}, nil
	case "department", "dept":
		return api.StepBinding{Department: &value}, nil
	}
	return api.StepBinding{}, fmt.Errorf("invalid step kind %q: want user, role or department", kind)
}

func workflowActionCommand(action, use, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			req := api.WorkflowActionRequest{Action: action}

			switch action {
			case api.WorkflowActionApprove, api.WorkflowActionReject:
				req.StepID, _ = cmd.Flags().GetString("step")
				if req.StepID == "" {
					if req.StepID, err = currentStep(client, args[0]); err != nil {
						return err
					}
				}
				if action == api.WorkflowActionApprove {
					req.Comments, _ = cmd.Flags().GetString("comment")
				} else {
					req.RejectionReason, _ = cmd.Flags().GetString("reason")
					if strings.TrimSpace(req.RejectionReason) == "" {
						return errors.New("--reason is required to reject")
					}
				}
			case api.WorkflowActionCancel:
				req.Reason, _ = cmd.Flags().GetString("reason")
			}

			wf, err := client.WorkflowAction(args[0], req)
			if err != nil {
				return err
			}
			printWorkflow(cmd, wf)
			return nil
		},
	}

	switch action {
	case api.WorkflowActionApprove:
		c.Flags().String("step", "", "Step ID (default: the current step)")
		c.Flags().String("comment", "", "Approval comment")
	case api.WorkflowActionReject:
		c.Flags().String("step", "", "Step ID (default: the current step)")
		c.Flags().String("reason", "", "Rejection reason (required)")
	case api.WorkflowActionCancel:
		c.Flags().String("reason", "", "Cancellation reason")
	}
	return c
}

// currentStep resolves the step to act on when none is given. Only a
// SEQUENTIAL workflow has a single current step.
func currentStep(client *Client, documentID string) (string, error) {
	wf, err := client.GetWorkflow(documentID)
	if err != nil {
		return "", err
	}
	if wf.Type != "SEQUENTIAL" {
		return "", fmt.Errorf("%s workflows need --step", wf.Type)
	}
	for _, s := range wf.Steps {
		if s.StepNumber == wf.CurrentStep {
			return s.ID, nil
		}
	}
	return "", errors.New("workflow has no current step")
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowShowCmd, workflowCreateCmd,
		workflowActionCommand(api.WorkflowActionStart, "start [document_id]", "Start a DRAFT workflow"),
		workflowActionCommand(api.WorkflowActionApprove, "approve [document_id]", "Approve a step"),
		workflowActionCommand(api.WorkflowActionReject, "reject [document_id]", "Reject a step and cancel the workflow"),
		workflowActionCommand(api.WorkflowActionCancel, "cancel [document_id]", "Cancel an open workflow"),
	)

	workflowCreateCmd.Flags().StringArray("step", nil, "Approval step as user:<id>, role:<role> or department:<name> (repeatable, in order)")
	workflowCreateCmd.Flags().String("type", "SEQUENTIAL", "Workflow type: SEQUENTIAL, PARALLEL or ANY")
}
