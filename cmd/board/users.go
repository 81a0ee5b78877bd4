package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dahch/task-board-sync/client"
	"github.com/dahch/task-board-sync/presence"
)

var _ presence.Source = (*client.Client)(nil)

func newUsersCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List connected users and what they are doing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			renderRoster(cmd.OutOrStdout(), presence.New(s.client).Roster())
			return nil
		},
	}
}

func newWatchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the board live",
		Long:  `Print the board and the connected users every time either changes. Stop with Ctrl-C.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			sub := s.client.Subscribe()
			defer sub.Cancel()
			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case snap, ok := <-sub.C():
					if !ok {
						return nil
					}
					view := presence.Static{TaskList: snap.Tasks, Users: snap.Users, Current: snap.Current}
					tr := presence.New(view)
					fmt.Fprintf(out, "── %s ──\n", snap.State)
					renderBoard(out, snap.Tasks, tr, snap.Current)
					renderRoster(out, tr.Roster())
					fmt.Fprintln(out)
					if snap.State == client.Disconnected && cmd.Context().Err() == nil {
						return errUnreachable
					}
				}
			}
		},
	}
}
