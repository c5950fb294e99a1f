package cmd

import (
	"fmt"
	"strings"
	"time"

	"docflow/pkg/api"

	"github.com/spf13/cobra"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// statusColor covers task, execution, workflow, step and alert states.
func statusColor(status string) string {
	switch strings.ToUpper(status) {
	case "COMPLETED", "APPROVED", "ACKNOWLEDGED":
		return colorGreen
	case "FAILED", "REJECTED", "CANCELLED", "EXPIRED":
		return colorRed
	case "RUNNING", "ACTIVE", "PENDING", "ESCALATED":
		return colorYellow
	case "SCHEDULED", "DRAFT", "SENT":
		return colorCyan
	default:
		return ""
	}
}

func statusIcon(status string) string {
	switch statusColor(status) {
	case colorGreen:
		return colorGreen + "✓" + colorReset
	case colorRed:
		return colorRed + "✗" + colorReset
	case colorYellow:
		return colorYellow + "⏳" + colorReset
	case colorCyan:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	c := statusColor(status)
	if c == "" {
		return status
	}
	return statusIcon(status) + " " + c + status + colorReset
}

func printExecution(cmd *cobra.Command, e api.ExecutionResponse) {
	cmd.Printf("%s %sExecution Details%s\n", statusIcon(e.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, e.ID)
	cmd.Printf("%sTask:%s        %s\n", colorDim, colorReset, e.TaskID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(e.Status))
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&e.StartedAt))
	if e.DurationMs != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(e.CompletedAt),
			colorCyan, formatDuration(time.Duration(*e.DurationMs)*time.Millisecond), colorReset)
	}
	if e.Error != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *e.Error, colorReset)
	}
	if len(e.Result) > 0 {
		cmd.Printf("%sResult:%s      %s\n", colorDim, colorReset, string(e.Result))
	}
}

func printWorkflow(cmd *cobra.Command, wf *api.WorkflowResponse) {
	cmd.Printf("%s %sWorkflow %s%s (%s)\n", statusIcon(wf.Status), colorBold, wf.ID, colorReset, wf.Type)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sDocument:%s    %s\n", colorDim, colorReset, wf.DocumentID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(wf.Status))
	cmd.Printf("%sProgress:%s    step %d of %d\n", colorDim, colorReset, wf.CurrentStep, wf.TotalSteps)
	for _, s := range wf.Steps {
		marker := " "
		if s.StepNumber == wf.CurrentStep && wf.Status == "ACTIVE" {
			marker = ">"
		}
		cmd.Printf(" %s %d. %-28s %s  %s%s%s\n", marker, s.StepNumber, bindingString(s.Binding),
			colorizeStatus(strings.ToUpper(s.Status)), colorDim, s.ID, colorReset)
		if s.Comments != nil {
			cmd.Printf("      comment: %s\n", *s.Comments)
		}
		if s.RejectionReason != nil {
			cmd.Printf("      %sreason: %s%s\n", colorRed, *s.RejectionReason, colorReset)
		}
	}
}

func bindingString(b api.StepBinding) string {
	switch {
	case b.UserID != nil:
		return "user:" + *b.UserID
	case b.Role != nil:
		return "role:" + *b.Role
	case b.Department != nil:
		return "department:" + *b.Department
	default:
		return "-"
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(*t), colorReset)
}

// relativeTime renders t against now as "5m ago" or "in 3 days".
func relativeTime(t time.Time) string {
	d := time.Since(t)
	future := d < 0
	if future {
		d = -d
	}

	var s string
	switch {
	case d < time.Minute:
		s = fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		s = fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		s = fmt.Sprintf("%dh", int(d.Hours()))
	case d < 48*time.Hour:
		s = "1 day"
	default:
		s = fmt.Sprintf("%d days", int(d.Hours()/24))
	}

	if future {
		return "in " + s
	}
	return s + " ago"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
