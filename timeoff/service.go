package timeoff

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// REQUEST SERVICE - Handles leave lifecycle with transactional guarantees
// =============================================================================

// Service runs the leave state machine:
//
//	pending -> approved (terminal)
//	pending -> rejected (terminal)
type Service struct {
	Store generic.TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
	NewID func() generic.RequestID
}

func NewService(store generic.TxStore, log logrus.FieldLogger) *Service {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{
		Store: store,
		Log:   log,
		Now:   time.Now,
		NewID: func() generic.RequestID { return generic.RequestID(uuid.NewString()) },
	}
}

// =============================================================================
// SUBMIT - Advisory balance check, then persist as pending
// =============================================================================

// Submit validates and stores a pending request. For annual leave the
// balance check here is advisory: Approve checks again.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*generic.LeaveRequest, error) {
	if !in.Kind.Valid() {
		return nil, &generic.ValidationError{Field: "kind", Message: "must be annual, sick or unpaid"}
	}
	days, err := TotalDays(in.Start, in.End)
	if err != nil {
		return nil, err
	}

	entity, err := s.Store.GetEntity(ctx, in.EntityID)
	if err != nil {
		return nil, err
	}
	if entity.Status != generic.EntityActive {
		return nil, &generic.InvalidStateError{Subject: "entity " + string(entity.ID), Current: string(entity.Status), Action: "submit leave for"}
	}

	requested := decimal.NewFromInt(int64(days))
	if in.Kind.DeductsBalance() && requested.GreaterThan(entity.LeaveBalance) {
		return nil, &generic.InsufficientBalanceError{EntityID: entity.ID, Available: entity.LeaveBalance, Requested: requested}
	}

	req := generic.LeaveRequest{
		ID:        s.NewID(),
		EntityID:  entity.ID,
		Kind:      in.Kind,
		Start:     in.Start,
		End:       in.End,
		TotalDays: days,
		Status:    generic.RequestPending,
		Reason:    in.Reason,
		CreatedAt: s.Now().UTC(),
	}
	if err := s.Store.InsertLeaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save leave request: %w", err)
	}

	s.Log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"entity_id":  req.EntityID,
		"kind":       req.Kind,
		"days":       req.TotalDays,
	}).Info("leave request submitted")

	return &req, nil
}

// =============================================================================
// APPROVE REQUEST - The critical transactional operation
// =============================================================================

// Approve approves a pending request.
// This is TRANSACTIONAL:
//   - Re-reads the request and the entity's current balance
//   - Verifies the balance covers annual leave
//   - Decrements the balance and moves the request to approved
//
// If ANY step fails, ALL changes are rolled back and the request stays
// pending. Two concurrent approvals against one entity are serialized by
// the transaction, so their combined days can never overdraw.
func (s *Service) Approve(ctx context.Context, id generic.RequestID, approverID string) (*generic.LeaveRequest, error) {
	var approved generic.LeaveRequest

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		req, err := tx.GetLeaveRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != generic.RequestPending {
			return &generic.InvalidStateError{Subject: "leave request " + string(id), Current: string(req.Status), Action: "approve"}
		}

		if req.Kind.DeductsBalance() {
			entity, err := tx.GetEntity(ctx, req.EntityID)
			if err != nil {
				return err
			}
			days := decimal.NewFromInt(int64(req.TotalDays))
			if days.GreaterThan(entity.LeaveBalance) {
				return &generic.InsufficientBalanceError{EntityID: entity.ID, Available: entity.LeaveBalance, Requested: days}
			}
			if err := tx.DecrementLeaveBalance(ctx, entity.ID, days); err != nil {
				return err
			}
		}

		now := s.Now().UTC()
		if err := tx.TransitionLeaveRequest(ctx, generic.LeaveTransition{
			RequestID: id,
			From:      generic.RequestPending,
			To:        generic.RequestApproved,
			DecidedBy: approverID,
			DecidedAt: now,
		}); err != nil {
			return err
		}

		req.Status = generic.RequestApproved
		req.DecidedBy = approverID
		req.DecidedAt = &now
		approved = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"request_id": id,
		"entity_id":  approved.EntityID,
		"approver":   approverID,
	}).Info("leave request approved")

	return &approved, nil
}

// Reject rejects a pending request. The balance is never touched.
func (s *Service) Reject(ctx context.Context, id generic.RequestID, rejecterID, reason string) (*generic.LeaveRequest, error) {
	var rejected generic.LeaveRequest

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		req, err := tx.GetLeaveRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != generic.RequestPending {
			return &generic.InvalidStateError{Subject: "leave request " + string(id), Current: string(req.Status), Action: "reject"}
		}

		now := s.Now().UTC()
		if err := tx.TransitionLeaveRequest(ctx, generic.LeaveTransition{
			RequestID:       id,
			From:            generic.RequestPending,
			To:              generic.RequestRejected,
			DecidedBy:       rejecterID,
			DecidedAt:       now,
			RejectionReason: reason,
		}); err != nil {
			return err
		}

		req.Status = generic.RequestRejected
		req.DecidedBy = rejecterID
		req.DecidedAt = &now
		req.RejectionReason = reason
		rejected = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"request_id": id,
		"entity_id":  rejected.EntityID,
	}).Info("leave request rejected")

	return &rejected, nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id generic.RequestID) (*generic.LeaveRequest, error) {
	return s.Store.GetLeaveRequest(ctx, id)
}

// List returns matching requests, newest first.
func (s *Service) List(ctx context.Context, filter generic.LeaveFilter) ([]generic.LeaveRequest, error) {
	return s.Store.ListLeaveRequests(ctx, filter)
}
