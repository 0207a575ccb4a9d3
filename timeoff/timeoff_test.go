package timeoff_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/generic/store"
	"github.com/warp/hr-engine/store/sqlite"
	"github.com/warp/hr-engine/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type backend struct {
	name string
	open func(t *testing.T) generic.TxStore
}

var backends = []backend{
	{"memory", func(t *testing.T) generic.TxStore { return store.NewMemory() }},
	{"sqlite", func(t *testing.T) generic.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func eachBackend(t *testing.T, fn func(t *testing.T, st generic.TxStore, svc *timeoff.Service)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			require.NoError(t, st.SaveEntity(context.Background(), generic.Entity{
				ID:           "emp-1",
				FullName:     "Ayu Lestari",
				Email:        "ayu@example.com",
				Status:       generic.EntityActive,
				BasicSalary:  decimal.NewFromInt(5000000),
				LeaveBalance: decimal.NewFromInt(5),
			}))
			fn(t, st, timeoff.NewService(st, nil))
		})
	}
}

func date(s string) generic.TimePoint {
	d, err := generic.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func submit(t *testing.T, svc *timeoff.Service, kind generic.LeaveKind, start, end string) *generic.LeaveRequest {
	t.Helper()
	req, err := svc.Submit(context.Background(), timeoff.SubmitInput{
		EntityID: "emp-1",
		Kind:     kind,
		Start:    date(start),
		End:      date(end),
	})
	require.NoError(t, err)
	return req
}

func balance(t *testing.T, st generic.TxStore) decimal.Decimal {
	t.Helper()
	e, err := st.GetEntity(context.Background(), "emp-1")
	require.NoError(t, err)
	return e.LeaveBalance
}

// =============================================================================
// TOTAL DAYS
// =============================================================================

func TestTotalDays(t *testing.T) {
	one, err := timeoff.TotalDays(date("2024-03-20"), date("2024-03-20"))
	require.NoError(t, err)
	assert.Equal(t, 1, one)

	three, err := timeoff.TotalDays(date("2024-03-20"), date("2024-03-22"))
	require.NoError(t, err)
	assert.Equal(t, 3, three)

	acrossMonth, err := timeoff.TotalDays(date("2024-02-28"), date("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 3, acrossMonth)

	_, err = timeoff.TotalDays(date("2024-03-22"), date("2024-03-20"))
	assert.ErrorIs(t, err, generic.ErrInvalidRange)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		// GIVEN: A balance of 5 days
		// WHEN: A 3-day annual request is submitted
		req := submit(t, svc, generic.LeaveAnnual, "2024-03-04", "2024-03-06")

		// THEN: It is pending and the balance is untouched
		assert.Equal(t, generic.RequestPending, req.Status)
		assert.Equal(t, 3, req.TotalDays)
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(5)))

		stored, err := svc.Get(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-04", stored.Start.String())
		assert.Equal(t, "2024-03-06", stored.End.String())
	})
}

func TestSubmit_AdvisoryBalanceCheck(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		_, err := svc.Submit(context.Background(), timeoff.SubmitInput{
			EntityID: "emp-1",
			Kind:     generic.LeaveAnnual,
			Start:    date("2024-03-01"),
			End:      date("2024-03-10"),
		})
		assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

		// sick leave does not draw on the balance
		req := submit(t, svc, generic.LeaveSick, "2024-03-01", "2024-03-10")
		assert.Equal(t, 10, req.TotalDays)
	})
}

func TestSubmit_RejectsBadInput(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		_, err := svc.Submit(context.Background(), timeoff.SubmitInput{EntityID: "emp-1", Kind: generic.LeaveAnnual, Start: date("2024-03-06"), End: date("2024-03-04")})
		assert.ErrorIs(t, err, generic.ErrInvalidRange)

		_, err = svc.Submit(context.Background(), timeoff.SubmitInput{EntityID: "emp-1", Kind: "sabbatical", Start: date("2024-03-04"), End: date("2024-03-04")})
		assert.ErrorIs(t, err, generic.ErrValidation)

		_, err = svc.Submit(context.Background(), timeoff.SubmitInput{EntityID: "ghost", Kind: generic.LeaveSick, Start: date("2024-03-04"), End: date("2024-03-04")})
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})
}

func TestSubmit_InactiveEntityRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		e, err := st.GetEntity(context.Background(), "emp-1")
		require.NoError(t, err)
		e.Status = generic.EntityInactive
		require.NoError(t, st.SaveEntity(context.Background(), *e))

		_, err = svc.Submit(context.Background(), timeoff.SubmitInput{EntityID: "emp-1", Kind: generic.LeaveSick, Start: date("2024-03-04"), End: date("2024-03-04")})

		assert.ErrorIs(t, err, generic.ErrInvalidState)
	})
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestApprove_DeductsAnnualLeave(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		req := submit(t, svc, generic.LeaveAnnual, "2024-03-04", "2024-03-06")

		approved, err := svc.Approve(context.Background(), req.ID, "mgr-1")

		require.NoError(t, err)
		assert.Equal(t, generic.RequestApproved, approved.Status)
		assert.Equal(t, "mgr-1", approved.DecidedBy)
		assert.NotNil(t, approved.DecidedAt)
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(2)))

		stored, err := svc.Get(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, generic.RequestApproved, stored.Status)
	})
}

func TestApprove_DeductionSurvivesProfileSave(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		// GIVEN: A roster snapshot read before an approval
		snapshot, err := st.GetEntity(context.Background(), "emp-1")
		require.NoError(t, err)
		req := submit(t, svc, generic.LeaveAnnual, "2024-03-04", "2024-03-06")
		_, err = svc.Approve(context.Background(), req.ID, "mgr-1")
		require.NoError(t, err)

		// WHEN: The snapshot is written back with a profile change
		snapshot.Position = "Lead"
		require.NoError(t, st.SaveEntity(context.Background(), *snapshot))

		// THEN: The approved deduction is kept
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(2)))
		e, err := st.GetEntity(context.Background(), "emp-1")
		require.NoError(t, err)
		assert.Equal(t, "Lead", e.Position)
	})
}

func TestApprove_NonAnnualKeepsBalance(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		req := submit(t, svc, generic.LeaveUnpaid, "2024-03-04", "2024-03-08")

		_, err := svc.Approve(context.Background(), req.ID, "mgr-1")

		require.NoError(t, err)
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(5)))
	})
}

func TestApprove_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		// GIVEN: Balance 5 and two pending 3-day annual requests
		first := submit(t, svc, generic.LeaveAnnual, "2024-03-04", "2024-03-06")
		second := submit(t, svc, generic.LeaveAnnual, "2024-04-01", "2024-04-03")

		// WHEN: Both are approved concurrently
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, id := range []generic.RequestID{first.ID, second.ID} {
			wg.Add(1)
			go func(i int, id generic.RequestID) {
				defer wg.Done()
				_, errs[i] = svc.Approve(context.Background(), id, "mgr-1")
			}(i, id)
		}
		wg.Wait()

		// THEN: Exactly one wins, the other fails on balance and stays pending
		var failed int
		var loser generic.RequestID
		for i, err := range errs {
			if err != nil {
				failed++
				assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
				loser = []generic.RequestID{first.ID, second.ID}[i]
			}
		}
		require.Equal(t, 1, failed)
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(2)))

		stored, err := svc.Get(context.Background(), loser)
		require.NoError(t, err)
		assert.Equal(t, generic.RequestPending, stored.Status)

		// AND: Retrying still fails with the balance unchanged
		_, err = svc.Approve(context.Background(), loser, "mgr-1")
		assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(2)))
	})
}

func TestApprove_TerminalStatesRejectTransitions(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		req := submit(t, svc, generic.LeaveAnnual, "2024-03-04", "2024-03-04")
		_, err := svc.Approve(context.Background(), req.ID, "mgr-1")
		require.NoError(t, err)

		_, err = svc.Approve(context.Background(), req.ID, "mgr-1")
		assert.ErrorIs(t, err, generic.ErrInvalidState)
		_, err = svc.Reject(context.Background(), req.ID, "mgr-1", "changed my mind")
		assert.ErrorIs(t, err, generic.ErrInvalidState)

		// approved once, deducted once
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(4)))
	})
}

func TestReject_KeepsBalance(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		req := submit(t, svc, generic.LeaveAnnual, "2024-03-04", "2024-03-06")

		rejected, err := svc.Reject(context.Background(), req.ID, "mgr-1", "peak season")

		require.NoError(t, err)
		assert.Equal(t, generic.RequestRejected, rejected.Status)
		assert.Equal(t, "peak season", rejected.RejectionReason)
		assert.True(t, balance(t, st).Equal(decimal.NewFromInt(5)))

		_, err = svc.Approve(context.Background(), req.ID, "mgr-1")
		assert.ErrorIs(t, err, generic.ErrInvalidState)
	})
}

func TestApprove_UnknownRequest(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		_, err := svc.Approve(context.Background(), "nope", "mgr-1")
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})
}

func TestList_FiltersByStatus(t *testing.T) {
	eachBackend(t, func(t *testing.T, st generic.TxStore, svc *timeoff.Service) {
		a := submit(t, svc, generic.LeaveSick, "2024-03-04", "2024-03-04")
		submit(t, svc, generic.LeaveSick, "2024-03-05", "2024-03-05")
		_, err := svc.Approve(context.Background(), a.ID, "mgr-1")
		require.NoError(t, err)

		pending, err := svc.List(context.Background(), generic.LeaveFilter{Status: generic.RequestPending})
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		all, err := svc.List(context.Background(), generic.LeaveFilter{EntityID: "emp-1"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
