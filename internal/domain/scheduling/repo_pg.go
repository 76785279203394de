package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgBase picks the transaction from the context when there is one.
type pgBase struct{ pool *pgxpool.Pool }

func (r pgBase) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const pgUniqueViolation = "23505"

// translate maps driver errors onto the domain's error kinds.
func translate(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "availability_windows_provider_date_key":
			return ErrWindowExists
		case "uq_bookings_client_session":
			return ErrDuplicateSession
		case "uq_bookings_slot_position":
			return ErrSlotFull
		}
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	}
	return err
}

func execAffected(tag pgconn.CommandTag, err error, notFound error) error {
	if err != nil {
		return translate(err, notFound)
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func timePtr(s *string) (*TimeOfDay, error) {
	if s == nil {
		return nil, nil
	}
	t, err := ParseTimeOfDay(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timeArg(t *TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

// =========== Provider Repository ===========

type providerRepoPG struct{ pgBase }

func NewProviderRepoPG(pool *pgxpool.Pool) ProviderRepository {
	return &providerRepoPG{pgBase{pool: pool}}
}

const providerCols = `id, name, email, specialization, schedule_type, slot_duration, patients_per_slot, created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var st string
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Specialization, &st,
		&p.SlotDuration, &p.PatientsPerSlot, &p.CreatedAt, &p.UpdatedAt)
	p.ScheduleType = ScheduleType(st)
	return &p, err
}

func (r *providerRepoPG) Create(ctx context.Context, p *Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO providers (id, name, email, specialization, schedule_type, slot_duration, patients_per_slot)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Email, p.Specialization, string(p.ScheduleType), p.SlotDuration, p.PatientsPerSlot,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return translate(err, ErrProviderNotFound)
}

func (r *providerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := scanProvider(r.conn(ctx).QueryRow(ctx, `SELECT `+providerCols+` FROM providers WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, ErrProviderNotFound)
	}
	return p, nil
}

func (r *providerRepoPG) UpdateScheduleType(ctx context.Context, id uuid.UUID, t ScheduleType) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE providers SET schedule_type = $2, updated_at = NOW() WHERE id = $1`, id, string(t))
	return execAffected(tag, err, ErrProviderNotFound)
}

func (r *providerRepoPG) Search(ctx context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Name != "" {
		where += fmt.Sprintf(` AND name ILIKE '%%' || $%d || '%%'`, idx)
		args = append(args, f.Name)
		idx++
	}
	if f.Specialization != "" {
		where += fmt.Sprintf(` AND specialization ILIKE '%%' || $%d || '%%'`, idx)
		args = append(args, f.Specialization)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM providers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + providerCols + ` FROM providers` + where +
		fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Client Repository ===========

type clientRepoPG struct{ pgBase }

func NewClientRepoPG(pool *pgxpool.Pool) ClientRepository {
	return &clientRepoPG{pgBase{pool: pool}}
}

func (r *clientRepoPG) Create(ctx context.Context, c *Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO clients (id, name, email) VALUES ($1,$2,$3) RETURNING created_at`,
		c.ID, c.Name, c.Email,
	).Scan(&c.CreatedAt)
	return translate(err, ErrClientNotFound)
}

func (r *clientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	var c Client
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, email, created_at FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, translate(err, ErrClientNotFound)
	}
	return &c, nil
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pgBase }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pgBase{pool: pool}}
}

const windowCols = `id, provider_id, date, start_time, end_time, weekday, session,
	booking_start_time, booking_end_time, patients_per_slot, slot_duration, created_at, updated_at`

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var bookingStart, bookingEnd *string
	err := row.Scan(&w.ID, &w.ProviderID, &w.Date, &w.StartTime, &w.EndTime, &w.Weekday, &w.Session,
		&bookingStart, &bookingEnd, &w.PatientsPerSlot, &w.SlotDuration, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if w.BookingStart, err = timePtr(bookingStart); err != nil {
		return nil, err
	}
	if w.BookingEnd, err = timePtr(bookingEnd); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *availabilityRepoPG) Create(ctx context.Context, w *AvailabilityWindow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_windows (id, provider_id, date, start_time, end_time, weekday, session,
			booking_start_time, booking_end_time, patients_per_slot, slot_duration)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		w.ID, w.ProviderID, string(w.Date), w.StartTime.String(), w.EndTime.String(), w.Weekday, w.Session,
		timeArg(w.BookingStart), timeArg(w.BookingEnd), w.PatientsPerSlot, w.SlotDuration,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	return translate(err, ErrWindowNotFound)
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	w, err := scanWindow(r.conn(ctx).QueryRow(ctx, `SELECT `+windowCols+` FROM availability_windows WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, ErrWindowNotFound)
	}
	return w, nil
}

func (r *availabilityRepoPG) GetByProviderDate(ctx context.Context, providerID uuid.UUID, date Date) (*AvailabilityWindow, error) {
	w, err := scanWindow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+windowCols+` FROM availability_windows WHERE provider_id = $1 AND date = $2`, providerID, string(date)))
	if err != nil {
		return nil, translate(err, ErrWindowNotFound)
	}
	return w, nil
}

func (r *availabilityRepoPG) Update(ctx context.Context, w *AvailabilityWindow) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_windows SET date=$2, start_time=$3, end_time=$4, weekday=$5, session=$6,
			booking_start_time=$7, booking_end_time=$8, patients_per_slot=$9, slot_duration=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		w.ID, string(w.Date), w.StartTime.String(), w.EndTime.String(), w.Weekday, w.Session,
		timeArg(w.BookingStart), timeArg(w.BookingEnd), w.PatientsPerSlot, w.SlotDuration,
	).Scan(&w.UpdatedAt)
	return translate(err, ErrWindowNotFound)
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	return execAffected(tag, err, ErrWindowNotFound)
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pgBase }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pgBase{pool: pool}}
}

const slotCols = `s.id, s.availability_id, s.date, s.start_time, s.end_time, s.slot_duration,
	s.patients_per_slot, s.is_available, s.reporting_time, s.created_at, s.updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.AvailabilityID, &s.Date, &s.StartTime, &s.EndTime, &s.SlotDuration,
		&s.PatientsPerSlot, &s.IsAvailable, &s.ReportingTime, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) CreateBatch(ctx context.Context, slots []*Slot) error {
	if len(slots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO slots (id, availability_id, date, start_time, end_time, slot_duration,
				patients_per_slot, is_available, reporting_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			s.ID, s.AvailabilityID, string(s.Date), s.StartTime.String(), s.EndTime.String(), s.SlotDuration,
			s.PatientsPerSlot, s.IsAvailable, s.ReportingTime.String())
	}

	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	now := time.Now()
	for _, s := range slots {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert slot %s-%s: %w", s.StartTime, s.EndTime, translate(err, ErrSlotNotFound))
		}
		s.CreatedAt, s.UpdatedAt = now, now
	}
	return br.Close()
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slots s WHERE s.id = $1`, id))
	if err != nil {
		return nil, translate(err, ErrSlotNotFound)
	}
	return s, nil
}

func (r *slotRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slots s WHERE s.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate(err, ErrSlotNotFound)
	}
	return s, nil
}

func (r *slotRepoPG) FindByRange(ctx context.Context, providerID uuid.UUID, date Date, start, end TimeOfDay) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots s JOIN availability_windows w ON w.id = s.availability_id
		WHERE w.provider_id = $1 AND s.date = $2 AND s.start_time = $3 AND s.end_time = $4
		ORDER BY s.created_at
		LIMIT 1`,
		providerID, string(date), start.String(), end.String()))
	if err != nil {
		return nil, translate(err, ErrSlotNotFound)
	}
	return s, nil
}

func (r *slotRepoPG) ListByAvailability(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+slotCols+` FROM slots s WHERE s.availability_id = $1 ORDER BY s.start_time`, availabilityID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) SearchAvailable(ctx context.Context, providerID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error) {
	from := ` FROM slots s JOIN availability_windows w ON w.id = s.availability_id
		WHERE w.provider_id = $1 AND s.is_available`
	args := []interface{}{providerID}
	idx := 2

	if f.Date != "" {
		from += fmt.Sprintf(` AND s.date = $%d`, idx)
		args = append(args, string(f.Date))
		idx++
	}
	if f.Session != "" {
		from += fmt.Sprintf(` AND w.session = $%d`, idx)
		args = append(args, f.Session)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + slotCols + from + fmt.Sprintf(` ORDER BY s.date, s.start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectSlots(rows)
	return items, total, err
}

func (r *slotRepoPG) Update(ctx context.Context, s *Slot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE slots SET start_time=$2, end_time=$3, slot_duration=$4, patients_per_slot=$5,
			is_available=$6, reporting_time=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.StartTime.String(), s.EndTime.String(), s.SlotDuration, s.PatientsPerSlot,
		s.IsAvailable, s.ReportingTime.String(),
	).Scan(&s.UpdatedAt)
	return translate(err, ErrSlotNotFound)
}

func (r *slotRepoPG) SetAvailable(ctx context.Context, id uuid.UUID, available bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE slots SET is_available = $2, updated_at = NOW() WHERE id = $1`, id, available)
	return execAffected(tag, err, ErrSlotNotFound)
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	return execAffected(tag, err, ErrSlotNotFound)
}

func (r *slotRepoPG) DeleteByAvailability(ctx context.Context, availabilityID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM slots WHERE availability_id = $1`, availabilityID)
	return err
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pgBase }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pgBase{pool: pool}}
}

const bookingCols = `b.id, b.reference, b.provider_id, b.slot_id, b.client_id, b.date, b.session,
	b.reporting_time, b.position, b.status, b.created_at, b.updated_at`

func scanBookingInto(b *Booking, row pgx.Row, extra ...interface{}) error {
	var status string
	dest := append([]interface{}{&b.ID, &b.Reference, &b.ProviderID, &b.SlotID, &b.ClientID, &b.Date,
		&b.Session, &b.ReportingTime, &b.Position, &status, &b.CreatedAt, &b.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	b.Status = BookingStatus(status)
	return nil
}

func collectBookings(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		var b Booking
		if err := scanBookingInto(&b, rows); err != nil {
			return nil, err
		}
		items = append(items, &b)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bookings (id, reference, provider_id, slot_id, client_id, date, session, reporting_time, position, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		b.ID, b.Reference, b.ProviderID, b.SlotID, b.ClientID, string(b.Date), b.Session,
		b.ReportingTime.String(), b.Position, string(b.Status),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return translate(err, ErrBookingNotFound)
}

func (r *bookingRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var b Booking
	err := scanBookingInto(&b, r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings b WHERE b.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate(err, ErrBookingNotFound)
	}
	return &b, nil
}

func (r *bookingRepoPG) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *bookingRepoPG) CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM bookings WHERE slot_id = $1 AND status = 'booked'`, slotID)
}

func (r *bookingRepoPG) ActivePositions(ctx context.Context, slotID uuid.UUID) ([]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT position FROM bookings WHERE slot_id = $1 AND status = 'booked' ORDER BY position`, slotID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *bookingRepoPG) CountBySlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM bookings WHERE slot_id = $1`, slotID)
}

func (r *bookingRepoPG) CountByAvailability(ctx context.Context, availabilityID uuid.UUID) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM bookings b JOIN slots s ON s.id = b.slot_id
		WHERE s.availability_id = $1`, availabilityID)
}

func (r *bookingRepoPG) CountInSession(ctx context.Context, providerID uuid.UUID, date Date, session string) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM bookings WHERE provider_id = $1 AND date = $2 AND session = $3`,
		providerID, string(date), session)
}

func (r *bookingRepoPG) ExistsActiveInSession(ctx context.Context, clientID, providerID uuid.UUID, date Date, session string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE client_id = $1 AND provider_id = $2 AND date = $3 AND session = $4 AND status = 'booked'
		)`, clientID, providerID, string(date), session).Scan(&exists)
	return exists, err
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status BookingStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return execAffected(tag, err, ErrBookingNotFound)
}

func (r *bookingRepoPG) UpdateReportingTimes(ctx context.Context, bookings []*Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bookings {
		batch.Queue(`UPDATE bookings SET reporting_time = $2, updated_at = NOW() WHERE id = $1`,
			b.ID, b.ReportingTime.String())
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for _, b := range bookings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("update reporting time of %s: %w", b.ID, err)
		}
	}
	return br.Close()
}

func (r *bookingRepoPG) ListFutureForUpdate(ctx context.Context, providerID uuid.UUID, from Date) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingCols+` FROM bookings b
		WHERE b.provider_id = $1 AND b.status = 'booked' AND b.date >= $2
		ORDER BY b.date, b.reporting_time
		FOR UPDATE`, providerID, string(from))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepoPG) GetManyForUpdate(ctx context.Context, ids []uuid.UUID) ([]*Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingCols+` FROM bookings b
		WHERE b.id = ANY($1)
		ORDER BY b.date, b.reporting_time
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepoPG) ListViews(ctx context.Context, q BookingQuery) ([]*BookingView, error) {
	query := `
		SELECT ` + bookingCols + `, s.start_time, s.end_time, w.weekday, p.name, p.specialization, c.name
		FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		JOIN availability_windows w ON w.id = s.availability_id
		JOIN providers p ON p.id = b.provider_id
		JOIN clients c ON c.id = b.client_id
		WHERE 1=1`
	var args []interface{}
	idx := 1

	if q.ProviderID != uuid.Nil {
		query += fmt.Sprintf(` AND b.provider_id = $%d`, idx)
		args = append(args, q.ProviderID)
		idx++
	}
	if q.ClientID != uuid.Nil {
		query += fmt.Sprintf(` AND b.client_id = $%d`, idx)
		args = append(args, q.ClientID)
		idx++
	}
	if q.Status != "" {
		query += fmt.Sprintf(` AND b.status = $%d`, idx)
		args = append(args, string(q.Status))
		idx++
	}
	if q.FromDate != "" {
		query += fmt.Sprintf(` AND b.date >= $%d`, idx)
		args = append(args, string(q.FromDate))
		idx++
	}
	if q.BeforeDate != "" {
		query += fmt.Sprintf(` AND b.date < $%d`, idx)
		args = append(args, string(q.BeforeDate))
		idx++
	}

	if q.Descending {
		query += ` ORDER BY b.date DESC, s.start_time DESC, b.created_at DESC`
	} else {
		query += ` ORDER BY b.date, s.start_time, b.created_at`
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BookingView
	for rows.Next() {
		var v BookingView
		if err := scanBookingInto(&v.Booking, rows,
			&v.StartTime, &v.EndTime, &v.Weekday, &v.ProviderName, &v.Specialization, &v.ClientName); err != nil {
			return nil, err
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}
