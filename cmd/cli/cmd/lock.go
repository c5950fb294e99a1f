package cmd

import (
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage document edit locks",
	Long:  `A lock gives one user exclusive editing of a document for a lease. Acquiring your own lock again renews it.`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire [document_id]",
	Short: "Acquire or renew the edit lock of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		session, _ := cmd.Flags().GetString("session")
		lock, err := client.AcquireLock(args[0], session)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
				return errors.New("document is locked by another user: " + apiErr.Message)
			}
			return err
		}
		cmd.Printf("%s Lock held until %s\n", statusIcon("COMPLETED"), formatTimeWithRelative(lock.ExpiresAt))
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release [document_id]",
	Short: "Release the edit lock of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := client.ReleaseLock(args[0], force); err != nil {
			return err
		}
		cmd.Println("Lock released.")
		return nil
	},
}

var lockInfoCmd = &cobra.Command{
	Use:   "info [document_id]",
	Short: "Show who holds the edit lock of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		lock, err := client.GetLock(args[0])
		if err != nil {
			return err
		}
		if !lock.Locked {
			cmd.Println("Document is not locked.")
			return nil
		}

		holder := "-"
		if lock.Holder != nil {
			holder = *lock.Holder
		}
		if lock.Own {
			holder += " (you)"
		}
		cmd.Printf("%sHolder:%s      %s\n", colorDim, colorReset, holder)
		cmd.Printf("%sLocked:%s      %s\n", colorDim, colorReset, formatTimeWithRelative(lock.LockedAt))
		cmd.Printf("%sExpires:%s     %s (%s left)\n", colorDim, colorReset, formatTimeWithRelative(lock.ExpiresAt),
			formatDuration(time.Duration(lock.RemainingSeconds)*time.Second))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockAcquireCmd, lockReleaseCmd, lockInfoCmd)

	lockAcquireCmd.Flags().String("session", "", "Editor session identifier stored with the lock")
	lockReleaseCmd.Flags().Bool("force", false, "Remove another user's lock (ADMIN only)")
}
