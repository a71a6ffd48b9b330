package mission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"escorte/pkg/domain"
	"escorte/pkg/platform/sentinel"
	"escorte/pkg/platform/tx"
)

// PostgresStore persists mission orders, cargo lines and transport units in
// PostgreSQL. Methods join the transaction carried in ctx when present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const orderColumns = `
	id, number, destination, itineraire, date_ordre, observations,
	statut, statut_apurement, date_apurement,
	depositaire_id, maison_transit_id, bureau_sortie_id, agent_id, escouade_id,
	chef_bureau_id, chef_section_id,
	created_at, updated_at, deleted_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *MissionOrder) error {
	query := `
		INSERT INTO mission_orders (
			number, destination, itineraire, date_ordre, observations,
			statut, statut_apurement,
			depositaire_id, maison_transit_id, bureau_sortie_id, agent_id, escouade_id,
			chef_bureau_id, chef_section_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id
	`
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query,
		o.Number, o.Destination, nullString(o.Itineraire), o.DateOrdre, nullString(o.Observations),
		string(o.Statut), string(o.Apurement),
		o.DepositaireID, o.MaisonTransitID, o.BureauSortieID, o.AgentID, o.EscouadeID,
		o.ChefBureauID, o.ChefSectionID,
		o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create mission order: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindOrderByID(ctx context.Context, id int64) (*MissionOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM mission_orders WHERE id = $1 AND deleted_at IS NULL`
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, id), "find mission order by id")
}

func (s *PostgresStore) FindOrderByNumber(ctx context.Context, number string) (*MissionOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM mission_orders
		WHERE lower(number) = lower($1) AND deleted_at IS NULL`
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, number), "find mission order by number")
}

func (s *PostgresStore) ListOrders(ctx context.Context, f ListFilter) ([]*MissionOrder, int, error) {
	f.Normalize()

	where := "deleted_at IS NULL"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Statut != nil {
		where += " AND statut = " + arg(string(*f.Statut))
	}
	if f.Apurement != nil {
		where += " AND statut_apurement = " + arg(string(*f.Apurement))
	}
	if f.DateFrom != nil {
		where += " AND date_ordre >= " + arg(*f.DateFrom)
	}
	if f.DateTo != nil {
		where += " AND date_ordre <= " + arg(*f.DateTo)
	}

	countQuery := "SELECT COUNT(*) FROM mission_orders WHERE " + where
	pageQuery := `SELECT ` + orderColumns + ` FROM mission_orders WHERE ` + where +
		fmt.Sprintf(" ORDER BY date_ordre DESC, id DESC LIMIT %d OFFSET %d", f.PerPage, (f.Page-1)*f.PerPage)

	// Count and page run concurrently, so both go straight to the pool: a
	// *sql.Tx cannot be shared across goroutines.
	var (
		total  int
		orders []*MissionOrder
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.QueryRowContext(gctx, countQuery, args...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, pageQuery, args...)
		if err != nil {
			return fmt.Errorf("list mission orders: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if orders == nil {
		orders = []*MissionOrder{}
	}
	return orders, total, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (*MissionOrder, error) {
	query := `
		UPDATE mission_orders SET
			destination  = COALESCE($2, destination),
			itineraire   = COALESCE($3, itineraire),
			observations = COALESCE($4, observations),
			agent_id     = COALESCE($5, agent_id),
			escouade_id  = COALESCE($6, escouade_id),
			updated_at   = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + orderColumns
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query,
		id, in.Destination, in.Itineraire, in.Observations, in.AgentID, in.EscouadeID,
	), "update mission order")
}

func (s *PostgresStore) UpdateStatut(ctx context.Context, id int64, statut Statut) (*MissionOrder, error) {
	query := `
		UPDATE mission_orders SET statut = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + orderColumns
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, id, string(statut)), "update statut")
}

func (s *PostgresStore) UpdateApurement(ctx context.Context, id int64, apurement domain.StatutApurement, when time.Time) (*MissionOrder, error) {
	query := `
		UPDATE mission_orders SET statut_apurement = $2, date_apurement = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + orderColumns
	return s.scanOne(tx.Q(ctx, s.db).QueryRowContext(ctx, query, id, string(apurement), when), "update statut apurement")
}

func (s *PostgresStore) SoftDeleteOrder(ctx context.Context, id int64, when time.Time) error {
	query := `UPDATE mission_orders SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := tx.Q(ctx, s.db).ExecContext(ctx, query, id, when)
	if err != nil {
		return fmt.Errorf("soft delete mission order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete mission order: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateCargoLines(ctx context.Context, lines []*CargoLine) error {
	query := `
		INSERT INTO cargo_lines (mission_order_id, declaration_id, nature, position_tarifaire, nombre, poids, valeur)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	q := tx.Q(ctx, s.db)
	for _, l := range lines {
		err := q.QueryRowContext(ctx, query,
			l.MissionOrderID, l.DeclarationID, l.Nature, nullString(l.PositionTarifaire),
			l.Nombre, l.Poids, l.Valeur,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("create cargo line: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListCargoLines(ctx context.Context, orderID int64) ([]*CargoLine, error) {
	query := `
		SELECT id, mission_order_id, declaration_id, nature, position_tarifaire, nombre, poids, valeur
		FROM cargo_lines WHERE mission_order_id = $1 AND deleted_at IS NULL ORDER BY id
	`
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list cargo lines: %w", err)
	}
	defer rows.Close()
	var out []*CargoLine
	for rows.Next() {
		var (
			l        CargoLine
			position sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.MissionOrderID, &l.DeclarationID, &l.Nature, &position, &l.Nombre, &l.Poids, &l.Valeur); err != nil {
			return nil, fmt.Errorf("scan cargo line: %w", err)
		}
		l.PositionTarifaire = position.String
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateTransportUnits(ctx context.Context, units []*TransportUnit) error {
	query := `
		INSERT INTO transport_units (mission_order_id, kind, identifier)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	q := tx.Q(ctx, s.db)
	for _, u := range units {
		err := q.QueryRowContext(ctx, query, u.MissionOrderID, string(u.Kind), u.Identifier).Scan(&u.ID)
		if err != nil {
			return fmt.Errorf("create transport unit: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTransportUnits(ctx context.Context, orderID int64) ([]*TransportUnit, error) {
	query := `
		SELECT id, mission_order_id, kind, identifier
		FROM transport_units WHERE mission_order_id = $1 AND deleted_at IS NULL ORDER BY id
	`
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transport units: %w", err)
	}
	defer rows.Close()
	var out []*TransportUnit
	for rows.Next() {
		var (
			u    TransportUnit
			kind string
		)
		if err := rows.Scan(&u.ID, &u.MissionOrderID, &kind, &u.Identifier); err != nil {
			return nil, fmt.Errorf("scan transport unit: %w", err)
		}
		u.Kind = TransportKind(kind)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByNumberPrefix(ctx context.Context, prefix string) (int, error) {
	query := `SELECT COUNT(*) FROM mission_orders WHERE number LIKE $1 || '%'`
	var n int
	if err := tx.Q(ctx, s.db).QueryRowContext(ctx, query, prefix).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders by prefix: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner, op string) (*MissionOrder, error) {
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func scanOrder(row rowScanner) (*MissionOrder, error) {
	var (
		o             MissionOrder
		itineraire    sql.NullString
		observations  sql.NullString
		statut        string
		apurement     string
		dateApurement sql.NullTime
		deletedAt     sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Destination, &itineraire, &o.DateOrdre, &observations,
		&statut, &apurement, &dateApurement,
		&o.DepositaireID, &o.MaisonTransitID, &o.BureauSortieID, &o.AgentID, &o.EscouadeID,
		&o.ChefBureauID, &o.ChefSectionID,
		&o.CreatedAt, &o.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Itineraire = itineraire.String
	o.Observations = observations.String
	o.Statut = Statut(statut)
	o.Apurement = domain.StatutApurement(apurement)
	if dateApurement.Valid {
		o.DateApurement = &dateApurement.Time
	}
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Time
	}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
