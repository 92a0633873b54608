package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// deriveSlotStatus maps live occupancy to a slot status. CANCELLED is terminal.
func deriveSlotStatus(slot *AppointmentSlot, active int) SlotStatus {
	if slot.Status == SlotCancelled {
		return SlotCancelled
	}
	if active >= slot.Capacity {
		return SlotFull
	}
	return SlotAvailable
}

// checkBookable rejects cancelled slots and slots whose booking cutoff has passed.
func checkBookable(slot *AppointmentSlot, now time.Time) error {
	if slot.Status == SlotCancelled {
		return wrapKind(ErrSlotUnavailable, "slot %s is cancelled", slot.ID)
	}
	if now.After(slot.BookingCutoff()) {
		return wrapKind(ErrSlotUnavailable, "booking for slot %s closed at %s", slot.ID, isoTime(slot.BookingCutoff()))
	}
	return nil
}

// recomputeOccupancy re-derives the cached slot status from the live active count
// inside tx. Only a changed status is written.
func recomputeOccupancy(ctx context.Context, tx Tx, slotID uuid.UUID) (SlotStatus, error) {
	slot, err := tx.GetSlot(ctx, slotID)
	if err != nil {
		return "", err
	}
	if slot.Status == SlotCancelled {
		return SlotCancelled, nil
	}

	active, err := tx.CountActiveAppointments(ctx, slotID, nil)
	if err != nil {
		return "", fmt.Errorf("count active appointments: %w", err)
	}

	status := deriveSlotStatus(slot, active)
	if status != slot.Status {
		if err := tx.UpdateSlotStatus(ctx, slotID, status); err != nil {
			return "", fmt.Errorf("update slot status: %w", err)
		}
	}
	return status, nil
}

// RecomputeOccupancy runs the occupancy recomputation for one slot in its own transaction.
func (s *Service) RecomputeOccupancy(ctx context.Context, slotID uuid.UUID) (SlotStatus, error) {
	ctx, done := s.startOp(ctx, "recompute_occupancy", attribute.String("booking.slot_id", slotID.String()))

	var status SlotStatus
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetSlotForUpdate(ctx, slotID); err != nil {
			return err
		}
		var err error
		status, err = recomputeOccupancy(ctx, tx, slotID)
		return err
	})
	if err != nil {
		return "", done(err)
	}
	return status, done(nil)
}
