package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-waitlist-engine/internal/clock"
	"github.com/hackgods/appointment-waitlist-engine/internal/config"
	"github.com/hackgods/appointment-waitlist-engine/internal/events"
)

// -- In-memory repository --
//
// One mutex is held for the whole of WithinTx, so transactions are
// serializable. Writes go to a copy of the state that replaces the committed
// state only when fn returns nil.

type memState struct {
	services     map[uuid.UUID]ServiceInfo
	slots        map[uuid.UUID]AppointmentSlot
	appointments map[uuid.UUID]Appointment
	tickets      map[uuid.UUID]QueueTicket
	history      []StatusHistory
	seq          map[uuid.UUID]int
	next         int
}

func newMemState() *memState {
	return &memState{
		services:     map[uuid.UUID]ServiceInfo{},
		slots:        map[uuid.UUID]AppointmentSlot{},
		appointments: map[uuid.UUID]Appointment{},
		tickets:      map[uuid.UUID]QueueTicket{},
		seq:          map[uuid.UUID]int{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.history = append([]StatusHistory(nil), s.history...)
	c.next = s.next
	return c
}

func (s *memState) stamp(id uuid.UUID) {
	s.next++
	s.seq[id] = s.next
}

type memRepo struct {
	mu    sync.Mutex
	state *memState

	// failTx makes the named Tx method return errBoom.
	failTx string
}

var errBoom = errors.New("boom")

func newMemRepo() *memRepo {
	return &memRepo{state: newMemState()}
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(ctx, &memTx{s: work, failOn: r.failTx}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memRepo) GetService(_ context.Context, id uuid.UUID) (*ServiceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memGetService(r.state, id)
}

func (r *memRepo) ListSlotOccupancy(_ context.Context, serviceID uuid.UUID, from, to time.Time) ([]SlotOccupancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SlotOccupancy
	for _, slot := range r.state.slots {
		if slot.ServiceID != serviceID || slot.Status == SlotCancelled {
			continue
		}
		if slot.StartAt.After(to) || slot.EndAt.Before(from) {
			continue
		}
		waiting := 0
		for _, t := range r.state.tickets {
			if t.SlotID != nil && *t.SlotID == slot.ID && t.Status == TicketWaiting {
				waiting++
			}
		}
		out = append(out, SlotOccupancy{
			Slot:         slot,
			ActiveCount:  memCountActive(r.state, slot.ID, nil),
			WaitingCount: waiting,
		})
	}
	return out, nil
}

func (r *memRepo) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) ListAppointments(_ context.Context, userID *uuid.UUID, limit, offset int) ([]Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Appointment
	for _, a := range r.state.appointments {
		if userID == nil || a.UserID == *userID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return r.state.seq[all[i].ID] > r.state.seq[all[j].ID]
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *memRepo) ListStatusHistory(_ context.Context, appointmentID uuid.UUID) ([]StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []StatusHistory
	for _, h := range r.state.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memRepo) ListWaitingTickets(_ context.Context, serviceID uuid.UUID) ([]QueueTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memWaiting(r.state, serviceID), nil
}

func (r *memRepo) FindExpiredHolds(_ context.Context, now time.Time) ([]QueueTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []QueueTicket
	for _, t := range r.state.tickets {
		if t.Status == TicketNotified && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

// Test accessors read committed state.

func (r *memRepo) slot(id uuid.UUID) AppointmentSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.slots[id]
}

func (r *memRepo) ticket(id uuid.UUID) QueueTicket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.tickets[id]
}

func (r *memRepo) activeCount(slotID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memCountActive(r.state, slotID, nil)
}

func (r *memRepo) ticketsWithStatus(serviceID uuid.UUID, status TicketStatus) []QueueTicket {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []QueueTicket
	for _, t := range r.state.tickets {
		if t.ServiceID == serviceID && t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func (r *memRepo) putService(s ServiceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.services[s.ID] = s
}

func (r *memRepo) putSlot(s AppointmentSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.slots[s.ID] = s
}

func (r *memRepo) putAppointment(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.appointments[a.ID] = a
	r.state.stamp(a.ID)
}

// rowLockRepo runs transactions concurrently and only serializes them on
// GetSlotForUpdate, which holds a per-slot lock until the transaction ends and
// then reloads committed state the way a READ COMMITTED statement would. Every
// writer in a test using it must lock the same slot first, since commit
// replaces the whole state.
type rowLockRepo struct {
	*memRepo

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

func newRowLockRepo(inner *memRepo) *rowLockRepo {
	return &rowLockRepo{memRepo: inner, locks: map[uuid.UUID]*sync.Mutex{}}
}

func (r *rowLockRepo) slotLock(id uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *rowLockRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	work := r.state.clone()
	r.mu.Unlock()

	tx := &rowLockTx{memTx: &memTx{s: work}, repo: r, held: map[uuid.UUID]*sync.Mutex{}}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	r.state = tx.s
	r.mu.Unlock()
	return nil
}

type rowLockTx struct {
	*memTx
	repo *rowLockRepo
	held map[uuid.UUID]*sync.Mutex
}

func (t *rowLockTx) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	if _, ok := t.held[id]; !ok {
		l := t.repo.slotLock(id)
		l.Lock()
		t.held[id] = l

		t.repo.mu.Lock()
		t.s = t.repo.state.clone()
		t.repo.mu.Unlock()
	}
	return t.GetSlot(ctx, id)
}

func (t *rowLockTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
}

func memGetService(s *memState, id uuid.UUID) (*ServiceInfo, error) {
	svc, ok := s.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &svc, nil
}

func memCountActive(s *memState, slotID uuid.UUID, exclude *uuid.UUID) int {
	n := 0
	for _, a := range s.appointments {
		if a.SlotID == nil || *a.SlotID != slotID || a.Status == StatusCancelled {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		n++
	}
	return n
}

func memWaiting(s *memState, serviceID uuid.UUID) []QueueTicket {
	var out []QueueTicket
	for _, t := range s.tickets {
		if t.ServiceID == serviceID && t.Status == TicketWaiting {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

type memTx struct {
	s      *memState
	failOn string
}

func (t *memTx) fail(method string) error {
	if t.failOn == method {
		return errBoom
	}
	return nil
}

func (t *memTx) GetService(_ context.Context, id uuid.UUID) (*ServiceInfo, error) {
	return memGetService(t.s, id)
}

func (t *memTx) GetSlot(_ context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	slot, ok := t.s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &slot, nil
}

func (t *memTx) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	return t.GetSlot(ctx, id)
}

func (t *memTx) UpdateSlotStatus(_ context.Context, id uuid.UUID, status SlotStatus) error {
	if err := t.fail("UpdateSlotStatus"); err != nil {
		return err
	}
	slot, ok := t.s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	slot.Status = status
	t.s.slots[id] = slot
	return nil
}

func (t *memTx) CountActiveAppointments(_ context.Context, slotID uuid.UUID, exclude *uuid.UUID) (int, error) {
	return memCountActive(t.s, slotID, exclude), nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if err := t.fail("InsertAppointment"); err != nil {
		return err
	}
	t.s.appointments[a.ID] = *a
	t.s.stamp(a.ID)
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	if _, ok := t.s.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *memTx) InsertStatusHistory(_ context.Context, h *StatusHistory) error {
	if err := t.fail("InsertStatusHistory"); err != nil {
		return err
	}
	t.s.history = append(t.s.history, *h)
	return nil
}

func (t *memTx) LockServiceQueue(context.Context, uuid.UUID) error {
	return nil
}

func (t *memTx) GetTicket(_ context.Context, id uuid.UUID) (*QueueTicket, error) {
	q, ok := t.s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return &q, nil
}

func (t *memTx) GetTicketForUpdate(ctx context.Context, id uuid.UUID) (*QueueTicket, error) {
	return t.GetTicket(ctx, id)
}

func (t *memTx) InsertTicket(_ context.Context, q *QueueTicket) error {
	t.s.tickets[q.ID] = *q
	t.s.stamp(q.ID)
	return nil
}

func (t *memTx) UpdateTicket(_ context.Context, q *QueueTicket) error {
	if _, ok := t.s.tickets[q.ID]; !ok {
		return ErrTicketNotFound
	}
	t.s.tickets[q.ID] = *q
	return nil
}

func (t *memTx) UpdateTicketPosition(_ context.Context, id uuid.UUID, position int) error {
	q, ok := t.s.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	q.Position = position
	t.s.tickets[id] = q
	return nil
}

func (t *memTx) CountWaitingTickets(_ context.Context, serviceID uuid.UUID, exclude *uuid.UUID) (int, error) {
	n := 0
	for _, q := range memWaiting(t.s, serviceID) {
		if exclude != nil && q.ID == *exclude {
			continue
		}
		n++
	}
	return n, nil
}

func (t *memTx) ListWaitingTickets(_ context.Context, serviceID uuid.UUID) ([]QueueTicket, error) {
	return memWaiting(t.s, serviceID), nil
}

// -- Fixtures --

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	repo      *memRepo
	svc       *Service
	clk       *clock.Fake
	sink      *events.MemorySink
	serviceID uuid.UUID
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		repo:      newMemRepo(),
		clk:       clock.NewFake(t0),
		sink:      events.NewMemorySink(),
		serviceID: uuid.New(),
	}
	h.repo.putService(ServiceInfo{ID: h.serviceID, Name: "Consultation", DurationMinutes: 30, CreatedAt: t0, UpdatedAt: t0})

	opts = append([]Option{WithClock(h.clk)}, opts...)
	h.svc = NewService(h.repo, nil, h.sink, config.Defaults(), opts...)
	return h
}

// addSlot stores an AVAILABLE slot of the harness service starting `in` after t0.
func (h *harness) addSlot(capacity int, in time.Duration, mods ...func(*AppointmentSlot)) AppointmentSlot {
	start := t0.Add(in)
	slot := AppointmentSlot{
		ID:        uuid.New(),
		ServiceID: h.serviceID,
		StartAt:   start,
		EndAt:     start.Add(30 * time.Minute),
		Timezone:  "Europe/Berlin",
		Capacity:  capacity,
		Status:    SlotAvailable,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	for _, mod := range mods {
		mod(&slot)
	}
	h.repo.putSlot(slot)
	return slot
}

func (h *harness) book(t *testing.T, actor AuthenticatedUser, slotID uuid.UUID) *Appointment {
	t.Helper()
	appt, err := h.svc.Book(context.Background(), actor, BookRequest{ServiceID: h.serviceID, SlotID: slotID})
	require.NoError(t, err)
	return appt
}

func (h *harness) enqueue(t *testing.T, actor AuthenticatedUser) *QueueTicket {
	t.Helper()
	ticket, err := h.svc.CreateQueueTicket(context.Background(), actor, CreateTicketRequest{ServiceID: h.serviceID})
	require.NoError(t, err)
	return ticket
}

// assertDenseQueue checks WAITING positions are exactly 1..N.
func (h *harness) assertDenseQueue(t *testing.T) {
	t.Helper()
	waiting, err := h.repo.ListWaitingTickets(context.Background(), h.serviceID)
	require.NoError(t, err)
	for i, q := range waiting {
		require.Equal(t, i+1, q.Position, "ticket %s", q.ID)
	}
}

func newUser() AuthenticatedUser {
	return AuthenticatedUser{ID: uuid.New(), Role: RoleUser, Locale: "de"}
}

func newAdmin() AuthenticatedUser {
	return AuthenticatedUser{ID: uuid.New(), Role: RoleAdmin, Locale: "en"}
}

func ptr[T any](v T) *T { return &v }
