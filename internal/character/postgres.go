package character

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the characters table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    species      TEXT NOT NULL DEFAULT '',
    subspecies   TEXT NOT NULL DEFAULT '',
    background   TEXT NOT NULL DEFAULT '',
    alignment    TEXT NOT NULL DEFAULT '',
    class        TEXT NOT NULL DEFAULT '',
    subclass     TEXT NOT NULL DEFAULT '',
    level        INTEGER NOT NULL DEFAULT 1,
    hit_points   INTEGER NOT NULL DEFAULT 0,
    max_hp       INTEGER NOT NULL DEFAULT 0,
    armor_class  INTEGER NOT NULL DEFAULT 10,
    initiative   INTEGER NOT NULL DEFAULT 0,
    speed        INTEGER NOT NULL DEFAULT 30,
    experience   INTEGER NOT NULL DEFAULT 0,
    abilities    JSONB NOT NULL DEFAULT '{}',
    money        JSONB NOT NULL DEFAULT '{}',
    equipment    JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_characters_name ON characters(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (abilities, money, equipment) are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given
// database connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// characters table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("character: migrate: %w", err)
	}
	return nil
}

// selectColumns is the shared column list for Get and List scans.
const selectColumns = `id, name, species, subspecies, background, alignment,
       class, subclass, level, hit_points, max_hp, armor_class, initiative,
       speed, experience, abilities, money, equipment, created_at, updated_at`

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, ch Character) (Character, error) {
	if ch.ID == "" {
		id, err := generateID()
		if err != nil {
			return Character{}, fmt.Errorf("character: generate id: %w", err)
		}
		ch.ID = id
	}

	abilitiesJSON, moneyJSON, equipmentJSON, err := marshalFields(ch)
	if err != nil {
		return Character{}, err
	}

	const query = `
		INSERT INTO characters (
			id, name, species, subspecies, background, alignment,
			class, subclass, level, hit_points, max_hp, armor_class,
			initiative, speed, experience, abilities, money, equipment
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		ch.ID, ch.Name, ch.Species, ch.Subspecies, ch.Background, ch.Alignment,
		ch.Class, ch.Subclass, ch.Level, ch.HitPoints, ch.MaxHitPoints, ch.ArmorClass,
		ch.Initiative, ch.Speed, ch.Experience, abilitiesJSON, moneyJSON, equipmentJSON,
	).Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Character{}, fmt.Errorf("character: create %q: %w", ch.ID, ErrDuplicateID)
		}
		return Character{}, fmt.Errorf("character: create: %w", err)
	}
	return ch, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Character, error) {
	query := `SELECT ` + selectColumns + ` FROM characters WHERE id = $1`

	ch, err := scanCharacter(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Character{}, fmt.Errorf("character: get %q: %w", id, ErrNotFound)
		}
		return Character{}, fmt.Errorf("character: get %q: %w", id, err)
	}
	return ch, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, ch Character) (Character, error) {
	abilitiesJSON, moneyJSON, equipmentJSON, err := marshalFields(ch)
	if err != nil {
		return Character{}, err
	}

	const query = `
		UPDATE characters SET
			name = $2, species = $3, subspecies = $4, background = $5,
			alignment = $6, class = $7, subclass = $8, level = $9,
			hit_points = $10, max_hp = $11, armor_class = $12,
			initiative = $13, speed = $14, experience = $15,
			abilities = $16, money = $17, equipment = $18, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		ch.ID, ch.Name, ch.Species, ch.Subspecies, ch.Background,
		ch.Alignment, ch.Class, ch.Subclass, ch.Level,
		ch.HitPoints, ch.MaxHitPoints, ch.ArmorClass,
		ch.Initiative, ch.Speed, ch.Experience,
		abilitiesJSON, moneyJSON, equipmentJSON,
	).Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Character{}, fmt.Errorf("character: update %q: %w", ch.ID, ErrNotFound)
		}
		return Character{}, fmt.Errorf("character: update: %w", err)
	}
	return ch, nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM characters WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("character: delete %q: %w", id, err)
	}
	return nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Character, error) {
	query := `SELECT ` + selectColumns + ` FROM characters ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		ch, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("character: list scan: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("character: list rows: %w", err)
	}
	return out, nil
}

// marshalFields serialises the JSONB sub-documents.
func marshalFields(ch Character) (abilities, money, equipment []byte, err error) {
	if abilities, err = json.Marshal(ch.Abilities); err != nil {
		return nil, nil, nil, fmt.Errorf("character: marshal abilities: %w", err)
	}
	if money, err = json.Marshal(ch.Money); err != nil {
		return nil, nil, nil, fmt.Errorf("character: marshal money: %w", err)
	}
	if equipment, err = json.Marshal(ch.Equipment); err != nil {
		return nil, nil, nil, fmt.Errorf("character: marshal equipment: %w", err)
	}
	return abilities, money, equipment, nil
}

// scanCharacter scans one row into a Character, decoding JSONB sub-documents.
func scanCharacter(row pgx.Row) (Character, error) {
	var ch Character
	var abilitiesJSON, moneyJSON, equipmentJSON []byte

	if err := row.Scan(
		&ch.ID, &ch.Name, &ch.Species, &ch.Subspecies, &ch.Background, &ch.Alignment,
		&ch.Class, &ch.Subclass, &ch.Level, &ch.HitPoints, &ch.MaxHitPoints, &ch.ArmorClass,
		&ch.Initiative, &ch.Speed, &ch.Experience,
		&abilitiesJSON, &moneyJSON, &equipmentJSON, &ch.CreatedAt, &ch.UpdatedAt,
	); err != nil {
		return Character{}, err
	}

	if err := json.Unmarshal(abilitiesJSON, &ch.Abilities); err != nil {
		return Character{}, fmt.Errorf("unmarshal abilities: %w", err)
	}
	if err := json.Unmarshal(moneyJSON, &ch.Money); err != nil {
		return Character{}, fmt.Errorf("unmarshal money: %w", err)
	}
	if err := json.Unmarshal(equipmentJSON, &ch.Equipment); err != nil {
		return Character{}, fmt.Errorf("unmarshal equipment: %w", err)
	}
	return ch, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
