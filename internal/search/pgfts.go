package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback. The 'simple' configuration skips language stemming, which
// keeps mixed Russian/technical text searchable as typed.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across protocols, orders and
// reliability using plainto_tsquery and ts_rank, with ts_headline for
// snippets. Archived documents are excluded.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProtocol {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'protocol'::text AS type, p.id, p.protocol_name AS title,
				ts_headline('simple', p.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(p.fts, %s) AS rank
			FROM protocols p
			WHERE NOT p.archived AND p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultOrder {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'order'::text AS type, o.id, o.num AS title,
				ts_headline('simple', o.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(o.fts, %s) AS rank
			FROM orders o
			WHERE NOT o.archived AND o.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultReliability {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'reliability'::text AS type, r.id, r.name AS title,
				ts_headline('simple', r.note, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(r.fts, %s) AS rank
			FROM reliability r
			WHERE NOT r.archived AND r.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all active searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProtocolRecord, []OrderRecord, []ReliabilityRecord, error) {
	protocolRows, err := p.db.QueryContext(ctx, `
		SELECT id, protocol_num, protocol_name, body
		FROM protocols
		WHERE NOT archived
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load protocols: %w", err)
	}
	defer protocolRows.Close()

	protocols := make([]ProtocolRecord, 0)
	for protocolRows.Next() {
		var r ProtocolRecord
		if err := protocolRows.Scan(&r.ID, &r.Num, &r.Name, &r.Body); err != nil {
			return nil, nil, nil, fmt.Errorf("scan protocol: %w", err)
		}
		protocols = append(protocols, r)
	}
	if err := protocolRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate protocols: %w", err)
	}

	orderRows, err := p.db.QueryContext(ctx, `
		SELECT id, num, body
		FROM orders
		WHERE NOT archived
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load orders: %w", err)
	}
	defer orderRows.Close()

	orders := make([]OrderRecord, 0)
	for orderRows.Next() {
		var r OrderRecord
		if err := orderRows.Scan(&r.ID, &r.Num, &r.Body); err != nil {
			return nil, nil, nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, r)
	}
	if err := orderRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate orders: %w", err)
	}

	reliabilityRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, note
		FROM reliability
		WHERE NOT archived
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load reliability: %w", err)
	}
	defer reliabilityRows.Close()

	items := make([]ReliabilityRecord, 0)
	for reliabilityRows.Next() {
		var r ReliabilityRecord
		if err := reliabilityRows.Scan(&r.ID, &r.Name, &r.Note); err != nil {
			return nil, nil, nil, fmt.Errorf("scan reliability: %w", err)
		}
		items = append(items, r)
	}
	if err := reliabilityRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate reliability: %w", err)
	}

	return protocols, orders, items, nil
}
