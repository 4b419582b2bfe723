// Package memstore is an in-memory appointment.Store for tests and local
// simulations. Transactions are fully serialized and stage their writes on a
// copy of the data, so a failing callback leaves nothing behind.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// Hooks inject faults into the write path.
type Hooks struct {
	BeforeCreateAppointment func(a *appointment.Appointment) error
	BeforeCreateInvoice     func(inv *appointment.Invoice) error
	BeforeCommit            func() error
}

type data struct {
	doctors      map[uuid.UUID]appointment.Doctor
	patients     map[uuid.UUID]appointment.Patient
	services     map[uuid.UUID]appointment.Service
	offers       map[[2]uuid.UUID]bool
	appointments map[uuid.UUID]appointment.Appointment
	invoices     map[uuid.UUID]appointment.Invoice // keyed by appointment id
	events       []appointment.EventLog
}

func newData() *data {
	return &data{
		doctors:      make(map[uuid.UUID]appointment.Doctor),
		patients:     make(map[uuid.UUID]appointment.Patient),
		services:     make(map[uuid.UUID]appointment.Service),
		offers:       make(map[[2]uuid.UUID]bool),
		appointments: make(map[uuid.UUID]appointment.Appointment),
		invoices:     make(map[uuid.UUID]appointment.Invoice),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.doctors {
		c.doctors[k] = v
	}
	for k, v := range d.patients {
		c.patients[k] = v
	}
	for k, v := range d.services {
		c.services[k] = v
	}
	for k, v := range d.offers {
		c.offers[k] = v
	}
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	c.events = append([]appointment.EventLog(nil), d.events...)
	return c
}

type Store struct {
	txMu      sync.Mutex   // one transaction at a time
	mu        sync.RWMutex // guards committed
	committed *data

	hooks   Hooks
	queries int
}

func New() *Store {
	return &Store{committed: newData()}
}

// SetHooks replaces the fault injection hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// ScheduledQueries counts ListScheduled calls outside transactions.
func (s *Store) ScheduledQueries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

// Fixtures

func (s *Store) AddDoctor(d appointment.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.doctors[d.ID] = d
}

func (s *Store) AddPatient(p appointment.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.patients[p.ID] = p
}

func (s *Store) AddService(svc appointment.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.services[svc.ID] = svc
}

func (s *Store) Offer(doctorID, serviceID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.offers[[2]uuid.UUID{doctorID, serviceID}] = true
}

// AddAppointment inserts a fixture appointment without any checks.
func (s *Store) AddAppointment(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.committed.appointments[a.ID] = a
}

func (s *Store) AddInvoice(inv appointment.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	s.committed.invoices[inv.AppointmentID] = inv
}

// Appointments returns every committed appointment ordered by start.
func (s *Store) Appointments() []appointment.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]appointment.Appointment, 0, len(s.committed.appointments))
	for _, a := range s.committed.appointments {
		out = append(out, a)
	}
	sortByStart(out)
	return out
}

func (s *Store) Invoices() []appointment.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]appointment.Invoice, 0, len(s.committed.invoices))
	for _, inv := range s.committed.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out
}

func (s *Store) Events() []appointment.EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]appointment.EventLog(nil), s.committed.events...)
}

// appointment.Store

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := s.committed.clone()
	hooks := s.hooks
	s.mu.RUnlock()

	if err := fn(ctx, &tx{reader: reader{d: staged}, hooks: hooks}); err != nil {
		return err
	}
	if hooks.BeforeCommit != nil {
		if err := hooks.BeforeCommit(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.committed = staged
	s.mu.Unlock()
	return nil
}

func (s *Store) read() reader {
	return reader{d: s.committed}
}

func (s *Store) GetDoctor(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetDoctor(ctx, clinicID, id)
}

func (s *Store) GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetPatient(ctx, clinicID, id)
}

func (s *Store) GetService(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetService(ctx, clinicID, id)
}

func (s *Store) DoctorOffersService(ctx context.Context, doctorID, serviceID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().DoctorOffersService(ctx, doctorID, serviceID)
}

func (s *Store) ListScheduled(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListScheduled(ctx, doctorID, from, to)
}

func (s *Store) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAppointment(ctx, clinicID, id)
}

func (s *Store) GetInvoiceByAppointment(ctx context.Context, clinicID, appointmentID uuid.UUID) (*appointment.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetInvoiceByAppointment(ctx, clinicID, appointmentID)
}

func (s *Store) ListAppointmentsByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAppointmentsByPatient(ctx, clinicID, patientID, limit, offset)
}

func (s *Store) ListAppointmentsByDoctor(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAppointmentsByDoctor(ctx, clinicID, doctorID, from, to)
}

func (s *Store) ListInvoicesToVoid(ctx context.Context, statuses []appointment.AppointmentStatus, limit int) ([]appointment.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListInvoicesToVoid(ctx, statuses, limit)
}

// reader answers queries against one snapshot.
type reader struct {
	d *data
}

func (r reader) GetDoctor(_ context.Context, clinicID, id uuid.UUID) (*appointment.Doctor, error) {
	d, ok := r.d.doctors[id]
	if !ok || d.ClinicID != clinicID {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (r reader) GetPatient(_ context.Context, clinicID, id uuid.UUID) (*appointment.Patient, error) {
	p, ok := r.d.patients[id]
	if !ok || p.ClinicID != clinicID {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (r reader) GetService(_ context.Context, clinicID, id uuid.UUID) (*appointment.Service, error) {
	svc, ok := r.d.services[id]
	if !ok || svc.ClinicID != clinicID {
		return nil, appointment.ErrServiceNotFound
	}
	return &svc, nil
}

func (r reader) DoctorOffersService(_ context.Context, doctorID, serviceID uuid.UUID) (bool, error) {
	return r.d.offers[[2]uuid.UUID{doctorID, serviceID}], nil
}

func (r reader) ListScheduled(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range r.d.appointments {
		if a.DoctorID != doctorID || a.Status != appointment.StatusScheduled {
			continue
		}
		if a.AppointmentDate.Before(to) && a.End().After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r reader) GetAppointment(_ context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := r.d.appointments[id]
	if !ok || a.ClinicID != clinicID {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r reader) GetInvoiceByAppointment(_ context.Context, clinicID, appointmentID uuid.UUID) (*appointment.Invoice, error) {
	inv, ok := r.d.invoices[appointmentID]
	if !ok || inv.ClinicID != clinicID {
		return nil, appointment.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (r reader) ListAppointmentsByPatient(_ context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range r.d.appointments {
		if a.ClinicID == clinicID && a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentDate.After(out[j].AppointmentDate) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reader) ListAppointmentsByDoctor(_ context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range r.d.appointments {
		if a.ClinicID != clinicID || a.DoctorID != doctorID {
			continue
		}
		if !a.AppointmentDate.Before(from) && a.AppointmentDate.Before(to) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r reader) ListInvoicesToVoid(_ context.Context, statuses []appointment.AppointmentStatus, limit int) ([]appointment.Invoice, error) {
	want := make(map[appointment.AppointmentStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []appointment.Invoice
	for apptID, inv := range r.d.invoices {
		a, ok := r.d.appointments[apptID]
		if !ok || inv.Status != appointment.InvoicePending || !want[a.Status] {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tx stages writes on its private snapshot.
type tx struct {
	reader
	hooks Hooks
}

func (t *tx) LockDoctor(context.Context, uuid.UUID) error {
	return nil
}

func (t *tx) FindScheduledForPatient(_ context.Context, patientID, doctorID uuid.UUID, from, to time.Time) (*appointment.Appointment, error) {
	var found []appointment.Appointment
	for _, a := range t.d.appointments {
		if a.PatientID != patientID || a.DoctorID != doctorID || a.Status != appointment.StatusScheduled {
			continue
		}
		if !a.AppointmentDate.Before(from) && a.AppointmentDate.Before(to) {
			found = append(found, a)
		}
	}
	if len(found) == 0 {
		return nil, appointment.ErrAppointmentNotFound
	}
	sortByStart(found)
	return &found[0], nil
}

func (t *tx) CreateAppointment(_ context.Context, a *appointment.Appointment) error {
	if t.hooks.BeforeCreateAppointment != nil {
		if err := t.hooks.BeforeCreateAppointment(a); err != nil {
			return err
		}
	}
	if a.Status == appointment.StatusScheduled {
		for _, other := range t.d.appointments {
			if other.DoctorID == a.DoctorID && other.Status == appointment.StatusScheduled &&
				a.AppointmentDate.Before(other.End()) && other.AppointmentDate.Before(a.End()) {
				return appointment.ErrOverlapConstraint
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.d.appointments[a.ID] = *a
	return nil
}

func (t *tx) CreateInvoice(_ context.Context, inv *appointment.Invoice) error {
	if t.hooks.BeforeCreateInvoice != nil {
		if err := t.hooks.BeforeCreateInvoice(inv); err != nil {
			return err
		}
	}
	if _, ok := t.d.appointments[inv.AppointmentID]; !ok {
		return fmt.Errorf("insert invoice: appointment %s does not exist", inv.AppointmentID)
	}
	if _, ok := t.d.invoices[inv.AppointmentID]; ok {
		return fmt.Errorf("insert invoice: appointment %s already invoiced", inv.AppointmentID)
	}
	for _, other := range t.d.invoices {
		if other.InvoiceNumber == inv.InvoiceNumber {
			return fmt.Errorf("%w: duplicate invoice number %s", appointment.ErrTransient, inv.InvoiceNumber)
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	t.d.invoices[inv.AppointmentID] = *inv
	return nil
}

func (t *tx) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	a, ok := t.d.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	t.d.appointments[id] = a
	return &a, nil
}

func (t *tx) VoidPendingInvoice(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	inv, ok := t.d.invoices[appointmentID]
	if !ok || inv.Status != appointment.InvoicePending {
		return false, nil
	}
	inv.Status = appointment.InvoiceCancelled
	inv.UpdatedAt = time.Now()
	t.d.invoices[appointmentID] = inv
	return true, nil
}

func (t *tx) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	ev.ID = int64(len(t.d.events) + 1)
	t.d.events = append(t.d.events, ev)
	return nil
}

func sortByStart(appts []appointment.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].AppointmentDate.Before(appts[j].AppointmentDate)
	})
}
