package contracts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"rfq-workers/internal/models"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresLookup reads contract rows keyed by id. Each category contributes a nullable
// <category>_endpoints text column and a nullable <category>_contract_value numeric column.
type PostgresLookup struct {
	db    *sql.DB
	query string
}

func NewPostgresLookup(db *sql.DB, table string) (*PostgresLookup, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid contract table name %q", table)
	}
	return &PostgresLookup{db: db, query: buildContractQuery(table)}, nil
}

func buildContractQuery(table string) string {
	cols := make([]string, 0, len(models.Categories)*2)
	for _, c := range models.Categories {
		cols = append(cols, c.EndpointsKey(), c.ContractValueKey())
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(cols, ", "), table)
}

func (l *PostgresLookup) Lookup(ctx context.Context, stackID string) (*models.ContractRecord, error) {
	endpoints := make([]sql.NullString, len(models.Categories))
	values := make([]sql.NullFloat64, len(models.Categories))
	dest := make([]interface{}, 0, len(models.Categories)*2)
	for i := range models.Categories {
		dest = append(dest, &endpoints[i], &values[i])
	}

	err := l.db.QueryRowContext(ctx, l.query, stackID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract row: %w", err)
	}

	rec := &models.ContractRecord{
		StackID:  stackID,
		Services: make(map[models.Category]models.ServiceContract, len(models.Categories)),
	}
	for i, c := range models.Categories {
		svc := models.ServiceContract{}
		if endpoints[i].Valid {
			svc.Endpoints = models.ParseEndpoints(endpoints[i].String)
		}
		if values[i].Valid {
			v := values[i].Float64
			svc.ContractValue = &v
		}
		rec.Services[c] = svc
	}
	return rec, nil
}
