package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/pkg/database"
)

// LocaleProvider lists the catalog locales.
type LocaleProvider struct {
	db database.DBTX
}

// NewLocaleProvider creates a new PostgreSQL-backed locale provider.
func NewLocaleProvider(db database.DBTX) *LocaleProvider {
	return &LocaleProvider{db: db}
}

// FindAllLocales returns every locale, the default one first.
func (r *LocaleProvider) FindAllLocales(ctx context.Context) (locales []domain.Locale, err error) {
	query := `SELECT code, is_default FROM locales ORDER BY is_default DESC, code`

	ctx, end := database.TraceQuery(ctx, "FindAllLocales", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query locales: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.Locale
		if err := rows.Scan(&l.Code, &l.Default); err != nil {
			return nil, fmt.Errorf("scan locale row: %w", err)
		}
		locales = append(locales, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locale rows: %w", err)
	}
	return locales, nil
}
