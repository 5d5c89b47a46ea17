package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/output"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conn"},
	Short:   "Manage connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your connections and requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			conns, err := r.app.Feed.Connections(r.ctx, nil)
			if err != nil {
				return err
			}
			return printConnections(r, conns)
		})
	},
}

var connectionsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List requests waiting for your answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			conns, err := r.app.Feed.PendingRequests(r.ctx)
			if err != nil {
				return err
			}
			return printConnections(r, conns)
		})
	},
}

var connectionsRequestCmd = &cobra.Command{
	Use:   "request <user-id>",
	Short: "Send a connection request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			conn, err := r.app.Feed.SendConnectionRequest(r.ctx, args[0])
			if err != nil {
				return err
			}
			r.out.Success("Connection request sent")
			if r.out.JSON() {
				return r.out.Print(conn, nil)
			}
			return nil
		})
	},
}

var connectionsAcceptCmd = &cobra.Command{
	Use:   "accept <connection-id>",
	Short: "Accept a connection request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.Feed.AcceptConnection(r.ctx, args[0]); err != nil {
				return err
			}
			r.out.Success("Connection accepted")
			return nil
		})
	},
}

var connectionsRejectCmd = &cobra.Command{
	Use:   "reject <connection-id>",
	Short: "Reject a connection request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.Feed.RejectConnection(r.ctx, args[0]); err != nil {
				return err
			}
			r.out.Success("Connection rejected")
			return nil
		})
	},
}

var connectionsRemoveCmd = &cobra.Command{
	Use:   "remove <connection-id>",
	Short: "Remove a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.Feed.RemoveConnection(r.ctx, args[0]); err != nil {
				return err
			}
			r.out.Success("Connection removed")
			return nil
		})
	},
}

func printConnections(r *runner, conns []models.Connection) error {
	me := r.app.Session.UserID()
	now := time.Now()

	rows := make([][]string, 0, len(conns))
	for _, c := range conns {
		direction := "outgoing"
		if c.User2ID == me {
			direction = "incoming"
		}
		rows = append(rows, []string{
			c.ID,
			author(c.OtherProfile(me)),
			c.Other(me),
			string(c.Status),
			direction,
			output.Ago(c.CreatedAt, now),
		})
	}
	return r.out.Table(conns, []string{"ID", "USER", "USER ID", "STATUS", "DIRECTION", "SINCE"}, rows)
}

func init() {
	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsPendingCmd)
	connectionsCmd.AddCommand(connectionsRequestCmd)
	connectionsCmd.AddCommand(connectionsAcceptCmd)
	connectionsCmd.AddCommand(connectionsRejectCmd)
	connectionsCmd.AddCommand(connectionsRemoveCmd)
}
