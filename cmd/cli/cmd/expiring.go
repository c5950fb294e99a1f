package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var expiringCmd = &cobra.Command{
	Use:   "expiring",
	Short: "List documents approaching expiration",
	Long:  `List documents that expire within the given number of days, with the latest alert level raised for each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		expired, _ := cmd.Flags().GetBool("expired")
		var acknowledged *bool
		if cmd.Flags().Changed("unacknowledged") {
			unacked, _ := cmd.Flags().GetBool("unacknowledged")
			v := !unacked
			acknowledged = &v
		}

		docs, err := client.ListExpiring(days, expired, acknowledged)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			cmd.Printf("No documents expire within %d days.\n", days)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DOCUMENT ID\tTITLE\tEXPIRES\tDAYS\tLEVEL\tALERT\tALERT ID")
		for _, d := range docs {
			expires := "-"
			if d.Document.ExpirationDate != nil {
				expires = d.Document.ExpirationDate.Format("2006-01-02")
			}
			level, status, alertID := "-", "-", "-"
			if a := d.LatestAlert; a != nil {
				level, status, alertID = fmt.Sprint(a.Level), a.Status, a.ID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				d.Document.ID, d.Document.Title, expires, d.DaysRemaining, level, status, alertID)
		}
		return w.Flush()
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack [alert_id]",
	Short: "Acknowledge an expiration alert",
	Long:  `Acknowledging an alert stops its escalation. The document author, the escalation target and admins may acknowledge.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		alert, err := client.AcknowledgeAlert(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("%s Alert %s (level %d) acknowledged\n", statusIcon("ACKNOWLEDGED"), alert.ID, alert.Level)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(expiringCmd, ackCmd)

	expiringCmd.Flags().IntP("days", "d", 30, "Look-ahead window in days")
	expiringCmd.Flags().Bool("expired", false, "Include documents that already expired")
	expiringCmd.Flags().Bool("unacknowledged", false, "Only documents whose latest alert is not acknowledged")
}
