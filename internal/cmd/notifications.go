package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/output"
)

var notificationsUnread bool

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "List and manage notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			list, err := r.app.Feed.Notifications(r.ctx, nil)
			if err != nil {
				return err
			}
			if notificationsUnread {
				unread := list[:0:0]
				for _, n := range list {
					if !n.Read {
						unread = append(unread, n)
					}
				}
				list = unread
			}

			now := time.Now()
			rows := make([][]string, 0, len(list))
			for _, n := range list {
				mark := " "
				if !n.Read {
					mark = "*"
				}
				rows = append(rows, []string{mark, n.ID, describe(n), output.Ago(n.CreatedAt, now)})
			}
			return r.out.Table(list, []string{"", "ID", "WHAT", "WHEN"}, rows)
		})
	},
}

var notificationsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of unread notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			n, err := r.app.Feed.UnreadCount(r.ctx)
			if err != nil {
				return err
			}
			return r.out.Print(map[string]int{"unread": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d unread\n", n)
			})
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.Feed.MarkNotificationRead(r.ctx, args[0]); err != nil {
				return err
			}
			r.out.Success("Marked as read")
			return nil
		})
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.Feed.MarkAllRead(r.ctx); err != nil {
				return err
			}
			r.out.Success("All notifications marked as read")
			return nil
		})
	},
}

func describe(n models.Notification) string {
	who, _ := n.Data["username"].(string)
	if who == "" {
		who = "someone"
	}
	switch n.Type {
	case models.NotificationConnectionRequest:
		return who + " wants to connect"
	case models.NotificationConnectionAccepted:
		return who + " accepted your request"
	case models.NotificationConnectionRejected:
		return who + " declined your request"
	case models.NotificationConnectionPost:
		return who + " shared a new post"
	default:
		return n.Type
	}
}

func init() {
	notificationsCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "Only show unread notifications")

	notificationsCmd.AddCommand(notificationsCountCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)
}
