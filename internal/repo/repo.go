package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"luvia/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Users

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,role,tier,points,location,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Role, u.Tier, u.Points, u.Location, u.CreatedAt)
	return err
}

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	err := scan(&u.ID, &u.Name, &u.Role, &u.Tier, &u.Points, &u.Location, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

const userColumns = `id,name,role,tier,points,location,created_at`

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUserPoints sets the absolute balance inside the caller's tx.
func (r Repo) UpdateUserPoints(ctx context.Context, tx *sql.Tx, userID string, points int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET points=? WHERE id=?`, points, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Jobs

const jobColumns = `id,service_name,type,client_id,client_name,provider_id,provider_name,location,property_type,status,total_amount,released_amount,escrow_amount,tier,date,created_at,updated_at`

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ServiceName, j.Type, j.ClientID, j.ClientName, nullableStringPtr(j.ProviderID), nullableStringPtr(j.ProviderName),
		j.Location, j.PropertyType, j.Status, j.TotalAmount, j.ReleasedAmount, j.EscrowAmount, j.Tier, j.Date, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertSOPItems(ctx, tx, j.ID, 0, j.SOPList)
}

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var providerID, providerName sql.NullString
	err := scan(&j.ID, &j.ServiceName, &j.Type, &j.ClientID, &j.ClientName, &providerID, &providerName,
		&j.Location, &j.PropertyType, &j.Status, &j.TotalAmount, &j.ReleasedAmount, &j.EscrowAmount, &j.Tier, &j.Date, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if providerID.Valid {
		j.ProviderID = &providerID.String
	}
	if providerName.Valid {
		j.ProviderName = &providerName.String
	}
	return j, nil
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err != nil {
		return j, err
	}
	j.SOPList, err = r.listSOPItems(ctx, nil, id)
	return j, err
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err != nil {
		return j, err
	}
	j.SOPList, err = r.listSOPItems(ctx, tx, id)
	return j, err
}

// JobExists reports id presence without loading the checklist.
func (r Repo) JobExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type JobFilters struct {
	ClientID        string
	ProviderID      string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.ProviderID != "" {
		clauses = append(clauses, "provider_id=?")
		args = append(args, f.ProviderID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].SOPList, err = r.listSOPItems(ctx, nil, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) UpdateJobStatus(ctx context.Context, tx *sql.Tx, id string, status domain.JobStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AssignProvider(ctx context.Context, tx *sql.Tx, id, providerID, providerName, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET provider_id=?, provider_name=?, updated_at=? WHERE id=?`, providerID, providerName, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// SOP items

const sopColumns = `id,task,category,is_completed,is_mandatory,evidence_url,value,unit,description`

func (r Repo) insertSOPItems(ctx context.Context, tx *sql.Tx, jobID string, startPos int, items []domain.SOPItem) error {
	for i, it := range items {
		_, err := tx.ExecContext(ctx, `INSERT INTO sop_items(id,job_id,position,task,category,is_completed,is_mandatory,evidence_url,value,unit,description) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			it.ID, jobID, startPos+i, it.Task, it.Category, boolToInt(it.IsCompleted), boolToInt(it.IsMandatory),
			nullableStringPtr(it.EvidenceURL), nullableStringPtr(it.Value), nullableStringPtr(it.Unit), nullableStringPtr(it.Description))
		if err != nil {
			return err
		}
	}
	return nil
}

// AppendSOPItems adds composed items after the job's existing ones, keeping
// list order stable.
func (r Repo) AppendSOPItems(ctx context.Context, tx *sql.Tx, jobID string, items []domain.SOPItem) error {
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM sop_items WHERE job_id=?`, jobID).Scan(&next); err != nil {
		return err
	}
	return r.insertSOPItems(ctx, tx, jobID, next, items)
}

func (r Repo) UpdateSOPItem(ctx context.Context, tx *sql.Tx, jobID string, it domain.SOPItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE sop_items SET is_completed=?, evidence_url=?, value=? WHERE id=? AND job_id=?`,
		boolToInt(it.IsCompleted), nullableStringPtr(it.EvidenceURL), nullableStringPtr(it.Value), it.ID, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listSOPItems(ctx context.Context, tx *sql.Tx, jobID string) ([]domain.SOPItem, error) {
	query := `SELECT ` + sopColumns + ` FROM sop_items WHERE job_id=? ORDER BY position ASC`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, jobID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, jobID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SOPItem
	for rows.Next() {
		var it domain.SOPItem
		var completed, mandatory int
		var evidence, value, unit, description sql.NullString
		if err := rows.Scan(&it.ID, &it.Task, &it.Category, &completed, &mandatory, &evidence, &value, &unit, &description); err != nil {
			return nil, err
		}
		it.IsCompleted = completed != 0
		it.IsMandatory = mandatory != 0
		if evidence.Valid {
			it.EvidenceURL = &evidence.String
		}
		if value.Valid {
			it.Value = &value.String
		}
		if unit.Valid {
			it.Unit = &unit.String
		}
		if description.Valid {
			it.Description = &description.String
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// Products

func (r Repo) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO products(id,name,category,price,eco) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Category, p.Price, boolToInt(p.Eco))
	return err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	var eco int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,category,price,eco FROM products WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Category, &p.Price, &eco)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Eco = eco != 0
	return p, err
}

func (r Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,category,price,eco FROM products ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		var p domain.Product
		var eco int
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &eco); err != nil {
			return nil, err
		}
		p.Eco = eco != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

// Transactions

func (r Repo) InsertTransaction(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transactions(id,kind,user_id,job_id,amount,points_delta,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Kind, t.UserID, nullableStringPtr(t.JobID), t.Amount, t.PointsDelta, t.CreatedAt)
	return err
}

func (r Repo) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT id,kind,user_id,job_id,amount,points_delta,created_at FROM transactions`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var jobID sql.NullString
		if err := rows.Scan(&t.ID, &t.Kind, &t.UserID, &jobID, &t.Amount, &t.PointsDelta, &t.CreatedAt); err != nil {
			return nil, err
		}
		if jobID.Valid {
			t.JobID = &jobID.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// Settings

func (r Repo) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (r Repo) UpsertSetting(ctx context.Context, tx *sql.Tx, key, value, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, updatedAt)
	return err
}

// Events

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
