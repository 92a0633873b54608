package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-waitlist-engine/internal/config"
	"github.com/hackgods/appointment-waitlist-engine/internal/events"
)

func TestCreateQueueTicketAppendsToQueue(t *testing.T) {
	h := newHarness(t)

	for i := 1; i <= 3; i++ {
		ticket := h.enqueue(t, newUser())
		assert.Equal(t, i, ticket.Position)
		assert.Equal(t, TicketWaiting, ticket.Status)
		assert.Equal(t, "UTC", ticket.Timezone)
		h.clk.Advance(time.Second)
	}

	assert.Len(t, h.sink.OfType(events.TypeQueueTicketCreated), 3)
	h.assertDenseQueue(t)
}

func TestCreateQueueTicketValidation(t *testing.T) {
	h := newHarness(t)
	user := newUser()
	cancelled := h.addSlot(1, 24*time.Hour, func(s *AppointmentSlot) { s.Status = SlotCancelled })
	otherService := uuid.New()
	h.repo.putService(ServiceInfo{ID: otherService, Name: "Other"})
	foreign := h.addSlot(1, 24*time.Hour, func(s *AppointmentSlot) { s.ServiceID = otherService })

	from := t0.Add(48 * time.Hour)

	tests := []struct {
		name    string
		req     CreateTicketRequest
		wantErr error
	}{
		{"unknown service", CreateTicketRequest{ServiceID: uuid.New()}, ErrServiceNotFound},
		{"unknown slot", CreateTicketRequest{ServiceID: h.serviceID, SlotID: ptr(uuid.New())}, ErrSlotNotFound},
		{"cancelled slot", CreateTicketRequest{ServiceID: h.serviceID, SlotID: &cancelled.ID}, ErrSlotUnavailable},
		{"slot of another service", CreateTicketRequest{ServiceID: h.serviceID, SlotID: &foreign.ID}, ErrServiceMismatch},
		{"inverted desired range", CreateTicketRequest{ServiceID: h.serviceID, DesiredFrom: &from, DesiredTo: ptr(from.Add(-time.Hour))}, ErrInvalidRange},
		{"empty desired range", CreateTicketRequest{ServiceID: h.serviceID, DesiredFrom: &from, DesiredTo: &from}, ErrInvalidRange},
		{"unknown service before range", CreateTicketRequest{ServiceID: uuid.New(), DesiredFrom: &from, DesiredTo: &from}, ErrServiceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateQueueTicket(context.Background(), user, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, h.repo.ticketsWithStatus(h.serviceID, TicketWaiting))
}

func TestCreateQueueTicketForSlot(t *testing.T) {
	h := newHarness(t)
	slot := h.addSlot(1, 24*time.Hour)
	from := t0.Add(24 * time.Hour)
	to := from.Add(4 * time.Hour)

	ticket, err := h.svc.CreateQueueTicket(context.Background(), newUser(), CreateTicketRequest{
		ServiceID:   h.serviceID,
		SlotID:      &slot.ID,
		DesiredFrom: &from,
		DesiredTo:   &to,
		Timezone:    ptr("Asia/Tokyo"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", ticket.Timezone)

	views, err := h.svc.GetAvailability(context.Background(), AvailabilityQuery{ServiceID: h.serviceID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].QueueLength)
}

func TestQueueStaysDenseWhenTicketsLeave(t *testing.T) {
	h := newHarness(t)
	admin := newAdmin()

	owners := make([]AuthenticatedUser, 5)
	tickets := make([]*QueueTicket, 5)
	for i := range tickets {
		owners[i] = newUser()
		tickets[i] = h.enqueue(t, owners[i])
		h.clk.Advance(time.Second)
	}

	_, err := h.svc.UpdateQueueTicketStatus(context.Background(), owners[1], tickets[1].ID, TicketCancelled, nil)
	require.NoError(t, err)
	h.assertDenseQueue(t)

	_, err = h.svc.UpdateQueueTicketStatus(context.Background(), admin, tickets[3].ID, TicketNotified, nil)
	require.NoError(t, err)
	h.assertDenseQueue(t)

	_, err = h.svc.UpdateQueueTicketStatus(context.Background(), admin, tickets[0].ID, TicketExpired, nil)
	require.NoError(t, err)
	h.assertDenseQueue(t)

	queue, err := h.svc.ListQueue(context.Background(), h.serviceID)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, tickets[2].ID, queue[0].ID, "promotion order is preserved")
	assert.Equal(t, tickets[4].ID, queue[1].ID)
}

func TestRequeueJoinsBackOfLine(t *testing.T) {
	h := newHarness(t)
	admin := newAdmin()

	first := h.enqueue(t, newUser())
	h.clk.Advance(time.Second)
	second := h.enqueue(t, newUser())
	h.clk.Advance(time.Second)
	third := h.enqueue(t, newUser())

	notified, err := h.svc.PromoteNext(context.Background(), h.serviceID)
	require.NoError(t, err)
	require.Equal(t, first.ID, notified.ID)
	assert.Equal(t, 1, h.repo.ticket(second.ID).Position)
	assert.Equal(t, 2, h.repo.ticket(third.ID).Position)

	requeued, err := h.svc.UpdateQueueTicketStatus(context.Background(), admin, first.ID, TicketWaiting, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, requeued.Position)
	assert.Nil(t, requeued.NotifiedAt)
	assert.Nil(t, requeued.ExpiresAt)
	h.assertDenseQueue(t)
}

func TestUpdateQueueTicketStatusAuthorization(t *testing.T) {
	h := newHarness(t)
	owner := newUser()
	ticket := h.enqueue(t, owner)

	for _, status := range []TicketStatus{TicketNotified, TicketCompleted, TicketExpired, TicketWaiting} {
		_, err := h.svc.UpdateQueueTicketStatus(context.Background(), owner, ticket.ID, status, nil)
		require.ErrorIs(t, err, ErrForbidden, "owner setting %s", status)
	}

	_, err := h.svc.UpdateQueueTicketStatus(context.Background(), newUser(), ticket.ID, TicketCancelled, nil)
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := h.svc.UpdateQueueTicketStatus(context.Background(), owner, ticket.ID, TicketCancelled, ptr("changed my mind"))
	require.NoError(t, err)
	assert.Equal(t, TicketCancelled, updated.Status)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, "changed my mind", *updated.Notes)
}

func TestUpdateQueueTicketStatusNotifiedStartsHold(t *testing.T) {
	h := newHarness(t)
	ticket := h.enqueue(t, newUser())
	h.clk.Advance(5 * time.Minute)

	updated, err := h.svc.UpdateQueueTicketStatus(context.Background(), newAdmin(), ticket.ID, TicketNotified, nil)
	require.NoError(t, err)

	require.NotNil(t, updated.NotifiedAt)
	require.NotNil(t, updated.ExpiresAt)
	assert.True(t, h.clk.Now().Equal(*updated.NotifiedAt))
	assert.Equal(t, 30*time.Minute, updated.ExpiresAt.Sub(*updated.NotifiedAt))

	assert.Len(t, h.sink.OfType(events.TypeQueueTicketUpdated), 1)
	assert.Len(t, h.sink.OfType(events.TypeQueueTicketNotified), 1)
}

func TestUpdateQueueTicketStatusRejectsTerminalAndUnknown(t *testing.T) {
	h := newHarness(t)
	admin := newAdmin()
	ticket := h.enqueue(t, newUser())

	_, err := h.svc.UpdateQueueTicketStatus(context.Background(), admin, ticket.ID, TicketStatus("PAUSED"), nil)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.UpdateQueueTicketStatus(context.Background(), admin, uuid.New(), TicketCancelled, nil)
	require.ErrorIs(t, err, ErrTicketNotFound)

	_, err = h.svc.UpdateQueueTicketStatus(context.Background(), admin, ticket.ID, TicketCompleted, nil)
	require.NoError(t, err)

	_, err = h.svc.UpdateQueueTicketStatus(context.Background(), admin, ticket.ID, TicketWaiting, nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPromoteNextEmitsUpdatedAndNotified(t *testing.T) {
	h := newHarness(t)
	ticket := h.enqueue(t, newUser())

	promoted, err := h.svc.PromoteNext(context.Background(), h.serviceID)
	require.NoError(t, err)
	require.Equal(t, ticket.ID, promoted.ID)

	all := h.sink.Events()
	require.Len(t, all, 3)
	assert.Equal(t, events.TypeQueueTicketCreated, all[0].Type)
	assert.Equal(t, events.TypeQueueTicketUpdated, all[1].Type)
	assert.Equal(t, events.TypeQueueTicketNotified, all[2].Type)
	assert.Contains(t, string(all[1].Payload), `"status":"NOTIFIED"`)
}

func TestPromoteNextEmptyQueue(t *testing.T) {
	h := newHarness(t)

	ticket, err := h.svc.PromoteNext(context.Background(), h.serviceID)
	require.NoError(t, err)
	assert.Nil(t, ticket)
	assert.Empty(t, h.sink.Events())
}

func TestListQueueUnknownService(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ListQueue(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestExpireHolds(t *testing.T) {
	h := newHarness(t)
	first := h.enqueue(t, newUser())
	h.clk.Advance(time.Second)
	second := h.enqueue(t, newUser())

	_, err := h.svc.PromoteNext(context.Background(), h.serviceID)
	require.NoError(t, err)

	h.clk.Advance(10 * time.Minute)
	n, err := h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "hold still running")

	h.clk.Advance(22 * time.Minute)
	n, err = h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, TicketExpired, h.repo.ticket(first.ID).Status)
	next := h.repo.ticket(second.ID)
	assert.Equal(t, TicketNotified, next.Status, "the turn passes down the line")
	assert.True(t, h.clk.Now().Equal(*next.NotifiedAt))
}

// scanHookRepo runs afterScan between the expiry scan and the updates that
// follow it.
type scanHookRepo struct {
	*memRepo
	afterScan func()
}

func (r *scanHookRepo) FindExpiredHolds(ctx context.Context, now time.Time) ([]QueueTicket, error) {
	out, err := r.memRepo.FindExpiredHolds(ctx, now)
	if r.afterScan != nil {
		r.afterScan()
	}
	return out, err
}

func TestExpireHoldsSkipsTicketsChangedAfterScan(t *testing.T) {
	h := newHarness(t)
	repo := &scanHookRepo{memRepo: h.repo}
	svc := NewService(repo, nil, h.sink, config.Defaults(), WithClock(h.clk))
	admin := newAdmin()

	renewed := h.enqueue(t, newUser())
	requeued := h.enqueue(t, newUser())
	behind := h.enqueue(t, newUser())
	for i := 0; i < 2; i++ {
		_, err := svc.PromoteNext(context.Background(), h.serviceID)
		require.NoError(t, err)
	}

	h.clk.Advance(31 * time.Minute)
	repo.afterScan = func() {
		_, err := svc.UpdateQueueTicketStatus(context.Background(), admin, renewed.ID, TicketNotified, nil)
		require.NoError(t, err)
		_, err = svc.UpdateQueueTicketStatus(context.Background(), admin, requeued.ID, TicketWaiting, nil)
		require.NoError(t, err)
	}

	n, err := svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.repo.ticketsWithStatus(h.serviceID, TicketExpired))

	got := h.repo.ticket(renewed.ID)
	assert.Equal(t, TicketNotified, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, h.clk.Now().Add(30*time.Minute).Equal(*got.ExpiresAt))

	assert.Equal(t, TicketWaiting, h.repo.ticket(requeued.ID).Status)
	assert.Equal(t, TicketWaiting, h.repo.ticket(behind.ID).Status, "nothing expired so nobody is promoted")
	h.assertDenseQueue(t)
}
