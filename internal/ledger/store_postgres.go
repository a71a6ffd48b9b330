package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"escorte/pkg/domain"
	"escorte/pkg/platform/sentinel"
	"escorte/pkg/platform/tx"
)

// PostgresStore persists declarations and parcel allocations in PostgreSQL.
// Methods join the transaction carried in ctx when present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const declarationColumns = `
	id, numero_declaration, date_declaration,
	nbre_colis_total, poids_total, nbre_colis_restant, poids_restant,
	statut_apurement, date_apurement,
	regime_id, maison_transit_id, depositaire_id, bureau_sortie_id,
	created_at, updated_at, deleted_at`

func (s *PostgresStore) Create(ctx context.Context, d *Declaration) error {
	query := `
		INSERT INTO declarations (
			numero_declaration, date_declaration,
			nbre_colis_total, poids_total, nbre_colis_restant, poids_restant,
			regime_id, maison_transit_id, depositaire_id, bureau_sortie_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id
	`
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query,
		d.NumeroDeclaration, d.DateDeclaration,
		d.NbreColisTotal, d.PoidsTotal, d.NbreColisRestant, d.PoidsRestant,
		d.RegimeID, d.MaisonTransitID, d.DepositaireID, d.BureauSortieID,
		d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create declaration: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*Declaration, error) {
	query := `SELECT ` + declarationColumns + ` FROM declarations WHERE id = $1 AND deleted_at IS NULL`
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, id), "find declaration by id")
}

func (s *PostgresStore) FindByNumero(ctx context.Context, numero string) (*Declaration, error) {
	query := `SELECT ` + declarationColumns + ` FROM declarations
		WHERE lower(numero_declaration) = lower($1) AND deleted_at IS NULL`
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, numero), "find declaration by numero")
}

// FindByIDForUpdate locks the declaration row for the remainder of the
// enclosing transaction, serializing concurrent allocators on the same
// declaration.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, id int64) (*Declaration, error) {
	if _, ok := tx.From(ctx); !ok {
		return nil, fmt.Errorf("find declaration for update: no transaction in context")
	}
	query := `SELECT ` + declarationColumns + ` FROM declarations
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, id), "find declaration for update")
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Declaration, int, error) {
	filter.Normalize()

	where := "d.deleted_at IS NULL"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.DateFrom != nil {
		where += " AND d.date_declaration >= " + arg(*filter.DateFrom)
	}
	if filter.DateTo != nil {
		where += " AND d.date_declaration <= " + arg(*filter.DateTo)
	}
	if filter.StatutLivraison != nil {
		// The delivery status is derived from the counters plus allocation
		// existence, so the filter is expressed on those raw facts.
		switch *filter.StatutLivraison {
		case TotalementLivre:
			where += " AND d.nbre_colis_restant = 0 AND d.nbre_colis_total > 0"
		case PartiellementLivre:
			where += ` AND d.nbre_colis_restant > 0 AND EXISTS (
				SELECT 1 FROM parcel_allocations a
				WHERE a.declaration_id = d.id AND a.deleted_at IS NULL)`
		case NonLivre:
			where += ` AND (d.nbre_colis_total = 0 OR (d.nbre_colis_restant > 0 AND NOT EXISTS (
				SELECT 1 FROM parcel_allocations a
				WHERE a.declaration_id = d.id AND a.deleted_at IS NULL)))`
		}
	}

	countQuery := "SELECT COUNT(*) FROM declarations d WHERE " + where
	pageQuery := `SELECT ` + declarationColumns + ` FROM declarations d WHERE ` + where +
		fmt.Sprintf(" ORDER BY d.date_declaration DESC, d.id DESC LIMIT %d OFFSET %d",
			filter.PerPage, (filter.Page-1)*filter.PerPage)

	var (
		total int
		items []*Declaration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.db.QueryRowContext(gctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("count declarations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, pageQuery, args...)
		if err != nil {
			return fmt.Errorf("list declarations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDeclaration(rows)
			if err != nil {
				return fmt.Errorf("scan declaration: %w", err)
			}
			items = append(items, d)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Declaration{}
	}
	return items, total, nil
}

// DecrementRemaining atomically subtracts from the remaining counters. The
// guarded UPDATE refuses to drive either counter negative even if the caller
// skipped the locked re-read.
func (s *PostgresStore) DecrementRemaining(ctx context.Context, id int64, colis int, poids decimal.Decimal) error {
	if _, ok := tx.From(ctx); !ok {
		return fmt.Errorf("decrement remaining: no transaction in context")
	}
	query := `
		UPDATE declarations
		SET nbre_colis_restant = nbre_colis_restant - $2,
		    poids_restant = poids_restant - $3,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		  AND nbre_colis_restant >= $2 AND poids_restant >= $3
	`
	res, err := tx.Q(ctx, s.db).ExecContext(ctx, query, id, colis, poids)
	if err != nil {
		return fmt.Errorf("decrement remaining: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement remaining: %w", err)
	}
	if affected == 0 {
		if _, err := s.FindByID(ctx, id); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInsufficient
	}
	return nil
}

// RestoreRemaining is the inverse of DecrementRemaining, reachable only from
// allocation reversal. It never pushes a counter past the declared total.
func (s *PostgresStore) RestoreRemaining(ctx context.Context, id int64, colis int, poids decimal.Decimal) error {
	if _, ok := tx.From(ctx); !ok {
		return fmt.Errorf("restore remaining: no transaction in context")
	}
	query := `
		UPDATE declarations
		SET nbre_colis_restant = nbre_colis_restant + $2,
		    poids_restant = poids_restant + $3,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		  AND nbre_colis_restant + $2 <= nbre_colis_total
		  AND poids_restant + $3 <= poids_total
	`
	res, err := tx.Q(ctx, s.db).ExecContext(ctx, query, id, colis, poids)
	if err != nil {
		return fmt.Errorf("restore remaining: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("restore remaining: %w", err)
	}
	if affected == 0 {
		if _, err := s.FindByID(ctx, id); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) UpdateClearance(ctx context.Context, id int64, statut domain.StatutApurement, date time.Time) error {
	query := `
		UPDATE declarations
		SET statut_apurement = $2, date_apurement = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	return s.execExpectingRow(ctx, query, "update declaration clearance", id, statut.String(), date)
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id int64, when time.Time) error {
	query := `UPDATE declarations SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	return s.execExpectingRow(ctx, query, "soft delete declaration", id, when)
}

func (s *PostgresStore) CreateAllocation(ctx context.Context, a *ParcelAllocation) error {
	query := `
		INSERT INTO parcel_allocations (
			mission_order_id, declaration_id, nbre_colis_parcelle, poids_parcelle, created_at
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query,
		a.MissionOrderID, a.DeclarationID, a.NbreColisParcelle, a.PoidsParcelle, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("create allocation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAllocation(ctx context.Context, id int64) (*ParcelAllocation, error) {
	query := `
		SELECT id, mission_order_id, declaration_id, nbre_colis_parcelle, poids_parcelle, created_at
		FROM parcel_allocations WHERE id = $1 AND deleted_at IS NULL
	`
	a := &ParcelAllocation{}
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.MissionOrderID, &a.DeclarationID, &a.NbreColisParcelle, &a.PoidsParcelle, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find allocation: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAllocationsByDeclaration(ctx context.Context, declarationID int64) ([]*ParcelAllocation, error) {
	return s.listAllocations(ctx, "declaration_id", declarationID)
}

func (s *PostgresStore) ListAllocationsByOrder(ctx context.Context, missionOrderID int64) ([]*ParcelAllocation, error) {
	return s.listAllocations(ctx, "mission_order_id", missionOrderID)
}

func (s *PostgresStore) CountAllocations(ctx context.Context, declarationID int64) (int, error) {
	query := `SELECT COUNT(*) FROM parcel_allocations WHERE declaration_id = $1 AND deleted_at IS NULL`
	var count int
	if err := tx.Q(ctx, s.db).QueryRowContext(ctx, query, declarationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count allocations: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteAllocation(ctx context.Context, id int64, when time.Time) error {
	query := `UPDATE parcel_allocations SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	return s.execExpectingRow(ctx, query, "delete allocation", id, when)
}

func (s *PostgresStore) listAllocations(ctx context.Context, column string, id int64) ([]*ParcelAllocation, error) {
	query := fmt.Sprintf(`
		SELECT id, mission_order_id, declaration_id, nbre_colis_parcelle, poids_parcelle, created_at
		FROM parcel_allocations WHERE %s = $1 AND deleted_at IS NULL ORDER BY id`, column)
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()
	var out []*ParcelAllocation
	for rows.Next() {
		a := &ParcelAllocation{}
		if err := rows.Scan(&a.ID, &a.MissionOrderID, &a.DeclarationID, &a.NbreColisParcelle, &a.PoidsParcelle, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) execExpectingRow(ctx context.Context, query, op string, args ...any) error {
	res, err := tx.Q(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row, op string) (*Declaration, error) {
	d, err := scanDeclaration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func scanDeclaration(row rowScanner) (*Declaration, error) {
	d := &Declaration{}
	var statut sql.NullString
	var dateApurement sql.NullTime
	var deletedAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.NumeroDeclaration, &d.DateDeclaration,
		&d.NbreColisTotal, &d.PoidsTotal, &d.NbreColisRestant, &d.PoidsRestant,
		&statut, &dateApurement,
		&d.RegimeID, &d.MaisonTransitID, &d.DepositaireID, &d.BureauSortieID,
		&d.CreatedAt, &d.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if statut.Valid {
		st := domain.StatutApurement(statut.String)
		d.StatutApurement = &st
	}
	if dateApurement.Valid {
		d.DateApurement = &dateApurement.Time
	}
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.Time
	}
	return d, nil
}
