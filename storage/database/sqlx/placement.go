package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
)

type (
	periodRow struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		StartDate time.Time `db:"start_date"`
		EndDate   time.Time `db:"end_date"`
		IsActive  bool      `db:"is_active"`
	}

	candidateRow struct {
		ID            string      `db:"id"`
		Name          string      `db:"name"`
		ClassLabel    string      `db:"class_label"`
		Department    string      `db:"department"`
		StudentNumber null.String `db:"student_number"`
	}

	hostRow struct {
		ID       string      `db:"id"`
		Name     string      `db:"name"`
		Address  null.String `db:"address"`
		Capacity int         `db:"capacity"`
		Filled   int         `db:"filled"`
	}

	supervisorRow struct {
		ID    string      `db:"id"`
		Name  string      `db:"name"`
		Email null.String `db:"email"`
	}

	assignmentRow struct {
		ID           string      `db:"id"`
		CandidateID  string      `db:"candidate_id"`
		HostID       string      `db:"host_id"`
		PeriodID     string      `db:"period_id"`
		SupervisorID null.String `db:"supervisor_id"`
		CreatedAt    time.Time   `db:"created_at"`

		CandidateName          string      `db:"candidate_name"`
		CandidateClassLabel    string      `db:"candidate_class_label"`
		CandidateDepartment    string      `db:"candidate_department"`
		CandidateStudentNumber null.String `db:"candidate_student_number"`
	}
)

const (
	periodColumns     = "id, name, start_date, end_date, is_active"
	candidateColumns  = "c.id, c.name, c.class_label, c.department, c.student_number"
	supervisorColumns = "id, name, email"
	assignmentSelect  = `SELECT a.id, a.candidate_id, a.host_id, a.period_id, a.supervisor_id, a.created_at,
		c.name AS candidate_name, c.class_label AS candidate_class_label,
		c.department AS candidate_department, c.student_number AS candidate_student_number
		FROM assignments a JOIN candidates c ON c.id = a.candidate_id`
)

var candidateOrderColumns = map[string]string{
	"name":           "c.name",
	"class":          "c.class_label",
	"department":     "c.department",
	"student_number": "c.student_number",
}

func (row periodRow) unboil() placement.Period {
	return placement.Period{
		ID:        row.ID,
		Name:      row.Name,
		StartDate: dateOnly(row.StartDate),
		EndDate:   dateOnly(row.EndDate),
		IsActive:  row.IsActive,
	}
}

func (row candidateRow) unboil() placement.Candidate {
	return placement.Candidate{
		ID:            row.ID,
		Name:          row.Name,
		ClassLabel:    row.ClassLabel,
		Department:    row.Department,
		StudentNumber: row.StudentNumber.String,
	}
}

func (row hostRow) unboil() placement.Host {
	return placement.Host{
		ID:       row.ID,
		Name:     row.Name,
		Address:  row.Address.String,
		Capacity: row.Capacity,
		Filled:   row.Filled,
	}
}

func (row supervisorRow) unboil() placement.Supervisor {
	return placement.Supervisor{ID: row.ID, Name: row.Name, Email: row.Email.String}
}

func (row assignmentRow) unboil() placement.Assignment {
	return placement.Assignment{
		ID:           row.ID,
		CandidateID:  row.CandidateID,
		HostID:       row.HostID,
		PeriodID:     row.PeriodID,
		SupervisorID: row.SupervisorID.String,
		CreatedAt:    row.CreatedAt.UTC(),
		Candidate: placement.Candidate{
			ID:            row.CandidateID,
			Name:          row.CandidateName,
			ClassLabel:    row.CandidateClassLabel,
			Department:    row.CandidateDepartment,
			StudentNumber: row.CandidateStudentNumber.String,
		},
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type placementRepository struct {
	repo
}

var _ placement.Repository = (*placementRepository)(nil) // interface compliance check

func NewPlacementRepository(db core.DB) *placementRepository {
	return &placementRepository{repo{db: db}}
}

// get runs a single row query, mapping "no rows" to notFound.
func (r placementRepository) get(ctx context.Context, dest interface{}, notFound error, q string, args ...interface{}) error {
	err := r.db.GetContext(ctx, dest, r.db.Rebind(q), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Periods

func (r placementRepository) CreatePeriod(ctx context.Context, p placement.Period) (placement.Period, error) {
	row := periodRow{
		ID:        uuid.NewString(),
		Name:      p.Name,
		StartDate: dateOnly(p.StartDate),
		EndDate:   dateOnly(p.EndDate),
	}
	q := "INSERT INTO periods (" + periodColumns + ") VALUES (:id, :name, :start_date, :end_date, :is_active)"
	if _, err := sqlx.NamedExecContext(ctx, r.db, q, row); err != nil {
		return placement.Period{}, errors.Wrap(err, "inserting period")
	}
	return row.unboil(), nil
}

func (r placementRepository) QueryPeriods(ctx context.Context) ([]placement.Period, error) {
	var rows []periodRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT "+periodColumns+" FROM periods ORDER BY start_date DESC, name"); err != nil {
		return nil, errors.Wrap(err, "querying periods")
	}
	periods := make([]placement.Period, 0, len(rows))
	for _, row := range rows {
		periods = append(periods, row.unboil())
	}
	return periods, nil
}

func (r placementRepository) GetPeriod(ctx context.Context, id string) (placement.Period, error) {
	if !validID(id) {
		return placement.Period{}, placement.ErrPeriodNotFound
	}
	var row periodRow
	err := r.get(ctx, &row, placement.ErrPeriodNotFound, "SELECT "+periodColumns+" FROM periods WHERE id = ?", id)
	if err != nil {
		return placement.Period{}, errors.Wrap(err, "finding period")
	}
	return row.unboil(), nil
}

func (r placementRepository) GetActivePeriod(ctx context.Context) (placement.Period, error) {
	var row periodRow
	q := "SELECT " + periodColumns + " FROM periods WHERE is_active = ? ORDER BY start_date DESC LIMIT 1"
	if err := r.get(ctx, &row, placement.ErrNoActivePeriod, q, true); err != nil {
		return placement.Period{}, errors.Wrap(err, "finding active period")
	}
	return row.unboil(), nil
}

func (r placementRepository) ActivatePeriod(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE periods SET is_active = (id = ?)"), id); err != nil {
		return errors.Wrap(err, "activating period")
	}
	return nil
}

// Candidates

func (r placementRepository) CreateCandidate(ctx context.Context, c placement.Candidate) (placement.Candidate, error) {
	row := candidateRow{
		ID:            uuid.NewString(),
		Name:          c.Name,
		ClassLabel:    c.ClassLabel,
		Department:    c.Department,
		StudentNumber: null.NewString(c.StudentNumber, c.StudentNumber != ""),
	}
	q := `INSERT INTO candidates (id, name, class_label, department, student_number)
		VALUES (:id, :name, :class_label, :department, :student_number)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, q, row); err != nil {
		return placement.Candidate{}, errors.Wrap(err, "inserting candidate")
	}
	return row.unboil(), nil
}

func (r placementRepository) GetCandidate(ctx context.Context, id string) (placement.Candidate, error) {
	if !validID(id) {
		return placement.Candidate{}, placement.ErrCandidateNotFound
	}
	var row candidateRow
	err := r.get(ctx, &row, placement.ErrCandidateNotFound, "SELECT "+candidateColumns+" FROM candidates c WHERE c.id = ?", id)
	if err != nil {
		return placement.Candidate{}, errors.Wrap(err, "finding candidate")
	}
	return row.unboil(), nil
}

func (r placementRepository) QueryEligibleCandidates(
	ctx context.Context,
	periodID string,
	filter *placement.CandidateFilter,
	ordering []core.DBOrdering,
) ([]placement.Candidate, error) {
	q := "SELECT " + candidateColumns + ` FROM candidates c
		WHERE NOT EXISTS (SELECT 1 FROM assignments a WHERE a.candidate_id = c.id AND a.period_id = ?)`
	args := []interface{}{periodID}

	if filter != nil {
		if filter.Search != "" {
			q += ` AND LOWER(c.name) LIKE ? ESCAPE '\'`
			args = append(args, containsPattern(filter.Search))
		}
		if filter.Class != "" {
			q += " AND c.class_label = ?"
			args = append(args, filter.Class)
		}
	}
	q += " ORDER BY " + orderBy(ordering, candidateOrderColumns, "c.class_label ASC, c.name ASC, c.id ASC")

	var rows []candidateRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying eligible candidates")
	}
	cands := make([]placement.Candidate, 0, len(rows))
	for _, row := range rows {
		cands = append(cands, row.unboil())
	}
	return cands, nil
}

// Hosts

func (r placementRepository) CreateHost(ctx context.Context, h placement.Host) (placement.Host, error) {
	row := hostRow{
		ID:       uuid.NewString(),
		Name:     h.Name,
		Address:  null.NewString(h.Address, h.Address != ""),
		Capacity: h.Capacity,
	}
	q := "INSERT INTO hosts (id, name, address, capacity) VALUES (:id, :name, :address, :capacity)"
	if _, err := sqlx.NamedExecContext(ctx, r.db, q, row); err != nil {
		return placement.Host{}, errors.Wrap(err, "inserting host")
	}
	return row.unboil(), nil
}

const hostSelect = `SELECT h.id, h.name, h.address, h.capacity,
	(SELECT COUNT(*) FROM assignments a WHERE a.host_id = h.id AND a.period_id = ?) AS filled
	FROM hosts h`

func (r placementRepository) GetHost(ctx context.Context, id, periodID string) (placement.Host, error) {
	if !validID(id) {
		return placement.Host{}, placement.ErrHostNotFound
	}
	var row hostRow
	if err := r.get(ctx, &row, placement.ErrHostNotFound, hostSelect+" WHERE h.id = ?", periodID, id); err != nil {
		return placement.Host{}, errors.Wrap(err, "finding host")
	}
	return row.unboil(), nil
}

func (r placementRepository) QueryHosts(ctx context.Context, periodID string) ([]placement.Host, error) {
	var rows []hostRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(hostSelect+" ORDER BY h.name, h.id"), periodID); err != nil {
		return nil, errors.Wrap(err, "querying hosts")
	}
	hosts := make([]placement.Host, 0, len(rows))
	for _, row := range rows {
		hosts = append(hosts, row.unboil())
	}
	return hosts, nil
}

// Supervisors

func (r placementRepository) CreateSupervisor(ctx context.Context, s placement.Supervisor) (placement.Supervisor, error) {
	row := supervisorRow{
		ID:    uuid.NewString(),
		Name:  s.Name,
		Email: null.NewString(s.Email, s.Email != ""),
	}
	q := "INSERT INTO supervisors (" + supervisorColumns + ") VALUES (:id, :name, :email)"
	if _, err := sqlx.NamedExecContext(ctx, r.db, q, row); err != nil {
		return placement.Supervisor{}, errors.Wrap(err, "inserting supervisor")
	}
	return row.unboil(), nil
}

func (r placementRepository) GetSupervisor(ctx context.Context, id string) (placement.Supervisor, error) {
	if !validID(id) {
		return placement.Supervisor{}, placement.ErrSupervisorNotFound
	}
	var row supervisorRow
	err := r.get(ctx, &row, placement.ErrSupervisorNotFound, "SELECT "+supervisorColumns+" FROM supervisors WHERE id = ?", id)
	if err != nil {
		return placement.Supervisor{}, errors.Wrap(err, "finding supervisor")
	}
	return row.unboil(), nil
}

func (r placementRepository) QuerySupervisors(ctx context.Context) ([]placement.Supervisor, error) {
	var rows []supervisorRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT "+supervisorColumns+" FROM supervisors ORDER BY name, id"); err != nil {
		return nil, errors.Wrap(err, "querying supervisors")
	}
	sups := make([]placement.Supervisor, 0, len(rows))
	for _, row := range rows {
		sups = append(sups, row.unboil())
	}
	return sups, nil
}

// Assignments

// insertAssignmentQuery only inserts while the host has room left in the period.
func insertAssignmentQuery(postgres bool) string {
	tstamp := "?"
	if postgres {
		// untyped parameters of a SELECT list are text for postgres
		tstamp = "CAST(? AS TIMESTAMP)"
	}
	return `INSERT INTO assignments (id, candidate_id, host_id, period_id, supervisor_id, created_at)
		SELECT CAST(? AS VARCHAR(36)), CAST(? AS VARCHAR(36)), h.id, CAST(? AS VARCHAR(36)), CAST(? AS VARCHAR(36)), ` + tstamp + `
		FROM hosts h
		WHERE h.id = ? AND (h.capacity = 0 OR
			(SELECT COUNT(*) FROM assignments a WHERE a.host_id = h.id AND a.period_id = ?) < h.capacity)`
}

func (r placementRepository) CreateAssignment(ctx context.Context, a placement.Assignment) (placement.Assignment, error) {
	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return placement.Assignment{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	postgres := isPostgres(tx)
	if postgres {
		// serialize the capacity check of concurrent assignments to the same host
		if _, err = tx.ExecContext(ctx, "SELECT id FROM hosts WHERE id = $1 FOR UPDATE", a.HostID); err != nil {
			return placement.Assignment{}, errors.Wrap(err, "locking host")
		}
	}

	// the capacity filter would hide the unique violation of an already assigned candidate
	var one int
	err = tx.GetContext(ctx, &one,
		tx.Rebind("SELECT 1 FROM assignments WHERE candidate_id = ? AND period_id = ?"), a.CandidateID, a.PeriodID)
	switch {
	case err == nil:
		return placement.Assignment{}, placement.ErrAlreadyAssigned
	case !errors.Is(err, sql.ErrNoRows):
		return placement.Assignment{}, errors.Wrap(err, "checking existing assignment")
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(insertAssignmentQuery(postgres)),
		a.ID, a.CandidateID, a.PeriodID, null.NewString(a.SupervisorID, a.SupervisorID != ""), a.CreatedAt,
		a.HostID, a.PeriodID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return placement.Assignment{}, placement.ErrAlreadyAssigned
		}
		return placement.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return placement.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	if n == 0 {
		return placement.Assignment{}, placement.ErrHostAtCapacity
	}
	if err = tx.Commit(); err != nil {
		return placement.Assignment{}, errors.Wrap(err, "committing assignment")
	}

	if a.Candidate.ID == "" {
		if a.Candidate, err = r.GetCandidate(ctx, a.CandidateID); err != nil {
			return placement.Assignment{}, err
		}
	}
	return a, nil
}

func (r placementRepository) GetAssignment(ctx context.Context, id string) (placement.Assignment, error) {
	if !validID(id) {
		return placement.Assignment{}, placement.ErrAssignmentNotFound
	}
	var row assignmentRow
	if err := r.get(ctx, &row, placement.ErrAssignmentNotFound, assignmentSelect+" WHERE a.id = ?", id); err != nil {
		return placement.Assignment{}, errors.Wrap(err, "finding assignment")
	}
	return row.unboil(), nil
}

func (r placementRepository) QueryAssignments(ctx context.Context, filter placement.AssignmentFilter) ([]placement.Assignment, error) {
	q := assignmentSelect + " WHERE 1 = 1"
	var args []interface{}
	if filter.PeriodID != "" {
		q += " AND a.period_id = ?"
		args = append(args, filter.PeriodID)
	}
	if filter.HostID != "" {
		q += " AND a.host_id = ?"
		args = append(args, filter.HostID)
	}
	q += " ORDER BY a.created_at, a.id"

	var rows []assignmentRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	asgmts := make([]placement.Assignment, 0, len(rows))
	for _, row := range rows {
		asgmts = append(asgmts, row.unboil())
	}
	return asgmts, nil
}

func (r placementRepository) DeleteAssignment(ctx context.Context, id string) error {
	if !validID(id) {
		return placement.ErrAssignmentNotFound
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM assignments WHERE id = ?"), id)
	if err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	if n == 0 {
		return placement.ErrAssignmentNotFound
	}
	return nil
}
