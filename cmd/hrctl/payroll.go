package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/payroll"
)

func newPayrollCmd(a *app) *cobra.Command {
	var scope, period string

	cmd := &cobra.Command{
		Use:   "payroll",
		Short: "Inspect and finalize payroll periods",
	}
	cmd.PersistentFlags().StringVar(&scope, "scope", string(generic.ScopeAll), "Project/department scope")
	cmd.PersistentFlags().StringVar(&period, "period", "", "Payroll month, YYYY-MM (required)")
	_ = cmd.MarkPersistentFlagRequired("period")

	service := func() (*payroll.Service, generic.Period, error) {
		p, err := generic.ParsePeriod(generic.KindPayroll, period)
		if err != nil {
			return nil, generic.Period{}, err
		}
		return payroll.NewService(a.store, a.log), p, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether a period is locked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := service()
			if err != nil {
				return err
			}
			st, err := svc.Status(cmd.Context(), generic.Scope(scope), p)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: %d rows, %d finalized, locked=%t, total net %s\n",
				st.Scope, st.Period, st.Rows, st.Finalized, st.Locked, st.TotalNet.StringFixed(2))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "finalize",
		Short: "Finalize every draft row of a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := service()
			if err != nil {
				return err
			}
			res, err := svc.Finalize(cmd.Context(), generic.Scope(scope), p)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: finalized %d rows (%d already final), total net %s\n",
				res.Scope, res.Period, res.Finalized, res.AlreadyFinalized, res.TotalNet.StringFixed(2))
			return nil
		},
	})

	return cmd
}
