package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"inbox"},
	Short:   "List your in-app notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		unread, _ := cmd.Flags().GetBool("unread")
		limit, _ := cmd.Flags().GetInt("limit")

		notes, err := client.ListNotifications(unread, limit)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			cmd.Println("No notifications.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tCREATED\tREAD\tTITLE")
		for _, n := range notes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", n.ID, n.Type, n.CreatedAt.Local().Format(time.DateTime), n.Read, n.Title)
		}
		return w.Flush()
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [notification_id]",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.MarkNotificationRead(args[0]); err != nil {
			return err
		}
		cmd.Println("Marked as read.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)

	notificationsCmd.Flags().BoolP("unread", "u", false, "Only unread notifications")
	notificationsCmd.Flags().IntP("limit", "l", 50, "Maximum number of notifications")
}
