package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/timeoff"
)

func newLeaveCmd(a *app) *cobra.Command {
	var id, by, reason string

	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Decide pending leave requests",
	}
	cmd.PersistentFlags().StringVar(&id, "id", "", "Leave request id (required)")
	cmd.PersistentFlags().StringVar(&by, "by", "hrctl", "Deciding user recorded on the request")
	_ = cmd.MarkPersistentFlagRequired("id")

	cmd.AddCommand(&cobra.Command{
		Use:   "approve",
		Short: "Approve a pending request and deduct annual leave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lr, err := timeoff.NewService(a.store, a.log).Approve(cmd.Context(), generic.RequestID(id), by)
			if err != nil {
				return err
			}
			fmt.Printf("approved %s: %s %s..%s (%d days) for %s\n", lr.ID, lr.Kind, lr.Start, lr.End, lr.TotalDays, lr.EntityID)
			return nil
		},
	})

	reject := &cobra.Command{
		Use:   "reject",
		Short: "Reject a pending request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lr, err := timeoff.NewService(a.store, a.log).Reject(cmd.Context(), generic.RequestID(id), by, reason)
			if err != nil {
				return err
			}
			fmt.Printf("rejected %s for %s\n", lr.ID, lr.EntityID)
			return nil
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	cmd.AddCommand(reject)

	return cmd
}
