package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/patient/internal/domain/patient/widget"
	"github.com/lims/patient/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, folder_id, mrn, mrn_temporary, mrn_auto, first_name, last_name, gender,
	birth_date, birth_date_input_mode, address, active, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.BirthDateInputMode == "" {
		p.BirthDateInputMode = widget.InputModeDate
	}

	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (
			id, folder_id, mrn, mrn_temporary, mrn_auto, first_name, last_name, gender,
			birth_date, birth_date_input_mode, address, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.FolderID, nullString(p.MRN), p.MRNTemporary, nullString(p.MRNAuto), nullString(p.FirstName), nullString(p.LastName),
		nullString(p.Gender), p.BirthDate, string(p.BirthDateInputMode), nullString(p.Address), p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return writeError("patient create", p, err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient SET
			mrn=$2, mrn_temporary=$3, mrn_auto=$4, first_name=$5, last_name=$6, gender=$7,
			birth_date=$8, birth_date_input_mode=$9, address=$10, active=$11, updated_at=NOW()
		WHERE id = $1`,
		p.ID, nullString(p.MRN), p.MRNTemporary, nullString(p.MRNAuto), nullString(p.FirstName), nullString(p.LastName),
		nullString(p.Gender), p.BirthDate, string(p.BirthDateInputMode), nullString(p.Address), p.Active,
	)
	if err != nil {
		return writeError("patient update", p, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient count: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY last_name, first_name, created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- Catalog --

type catalogPG struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a catalog over the patient table of the current lab.
func NewCatalog(pool *pgxpool.Pool) Catalog {
	return &catalogPG{pool: pool}
}

func (r *catalogPG) Search(ctx context.Context, q Query) ([]*Summary, error) {
	if q.PortalType != "" && q.PortalType != TypeName {
		return nil, nil
	}

	sql, args := buildCatalogQuery(q)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Summary())
	}
	return out, rows.Err()
}

func buildCatalogQuery(q Query) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if q.MRN != "" {
		args = append(args, q.MRN)
		where = append(where, fmt.Sprintf("mrn = $%d", len(args)))
	}
	if q.IsActive != nil {
		args = append(args, *q.IsActive)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}

	sql := `SELECT ` + patientCols + ` FROM patient`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY created_at", args
}

func (r *catalogPG) GetObject(ctx context.Context, s *Summary) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, s.ID))
}

// -- Folder Repository --

type folderRepoPG struct {
	pool *pgxpool.Pool
}

func NewFolderRepo(pool *pgxpool.Pool) FolderRepository {
	return &folderRepoPG{pool: pool}
}

func (r *folderRepoPG) Create(ctx context.Context, f *Folder) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_folder (id, name, title) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET title = patient_folder.title
		RETURNING id, created_at`,
		f.ID, f.Name, f.Title,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("folder create: %w", err)
	}
	return nil
}

func (r *folderRepoPG) GetByName(ctx context.Context, name string) (*Folder, error) {
	var f Folder
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, title, created_at FROM patient_folder WHERE name = $1`, name,
	).Scan(&f.ID, &f.Name, &f.Title, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("folder get: %w", err)
	}
	return &f, nil
}

// uniqueMRNIndex enforces one patient per MRN.
const uniqueMRNIndex = "uq_patient_mrn"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func writeError(op string, p *Patient, err error) error {
	if isUniqueViolation(err, uniqueMRNIndex) {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicateMRN, p.MRN)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// -- scanning --

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPatient(row rowScanner) (*Patient, error) {
	var (
		p                                       Patient
		mrn, mrnAuto, first, last, gender, addr *string
		mode                                    string
	)
	err := row.Scan(&p.ID, &p.FolderID, &mrn, &p.MRNTemporary, &mrnAuto, &first, &last, &gender,
		&p.BirthDate, &mode, &addr, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	p.MRN = deref(mrn)
	p.MRNAuto = deref(mrnAuto)
	p.FirstName = deref(first)
	p.LastName = deref(last)
	p.Gender = deref(gender)
	p.Address = deref(addr)
	p.BirthDateInputMode = widget.InputMode(mode)
	return &p, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
