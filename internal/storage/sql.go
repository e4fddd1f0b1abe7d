package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/prasenjit/mockpit/internal/models"
)

// Supported SQL dialects
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS endpoints (
		id VARCHAR(64) PRIMARY KEY,
		route_key VARCHAR(600) NOT NULL UNIQUE,
		method VARCHAR(16) NOT NULL,
		path VARCHAR(512) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		active_variant_id VARCHAR(64) NULL,
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		request_body_content_type VARCHAR(255) NOT NULL DEFAULT 'application/json',
		request_body_raw TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS response_variants (
		id VARCHAR(64) PRIMARY KEY,
		endpoint_id VARCHAR(64) NOT NULL,
		status_code INTEGER NOT NULL,
		description VARCHAR(255) NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		headers TEXT NOT NULL,
		delay_ms INTEGER NULL,
		memo TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		match_rules TEXT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS endpoint_rows (
		id VARCHAR(64) PRIMARY KEY,
		endpoint_id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		row_key VARCHAR(255) NOT NULL DEFAULT '',
		row_value TEXT NOT NULL,
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		sort_order INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS environments (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		variables TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		is_expanded BOOLEAN NOT NULL DEFAULT TRUE,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS collection_endpoints (
		collection_id VARCHAR(64) NOT NULL,
		endpoint_id VARCHAR(64) NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (collection_id, endpoint_id)
	)`,
	`CREATE TABLE IF NOT EXISTS request_records (
		id VARCHAR(64) PRIMARY KEY,
		method VARCHAR(16) NOT NULL,
		path TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		body_or_params TEXT NOT NULL,
		request_headers TEXT NOT NULL,
		response_body TEXT NOT NULL,
		recorded_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		setting_key VARCHAR(64) PRIMARY KEY,
		setting_value TEXT NOT NULL
	)`,
}

const (
	rowKindQuery  = "query"
	rowKindHeader = "header"
)

// SQLStorage implements Storage interface on PostgreSQL or MySQL
type SQLStorage struct {
	db         *sql.DB
	dialect    string
	maxRecords int
}

// NewSQLStorage opens the database, verifies the connection and creates the schema
func NewSQLStorage(dialect, dsn string, maxRecords int) (*SQLStorage, error) {
	if dialect != DialectPostgres && dialect != DialectMySQL {
		return nil, fmt.Errorf("unsupported database type: %s", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}

	s := &SQLStorage{db: db, dialect: dialect, maxRecords: maxRecords}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders into the dialect's form
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *SQLStorage) exec(q execer, query string, args ...any) (sql.Result, error) {
	return q.Exec(s.rebind(query), args...)
}

func (s *SQLStorage) query(q execer, query string, args ...any) (*sql.Rows, error) {
	return q.Query(s.rebind(query), args...)
}

func (s *SQLStorage) queryRow(q execer, query string, args ...any) *sql.Row {
	return q.QueryRow(s.rebind(query), args...)
}

// inTx runs fn inside a transaction, rolling back on error
func (s *SQLStorage) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func affectedOrNotFound(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixNano()
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Endpoints

const endpointColumns = `id, method, path, name, active_variant_id, is_enabled,
	request_body_content_type, request_body_raw, created_at, updated_at`

func (s *SQLStorage) routeTaken(q execer, method, path, exceptID string) (bool, error) {
	var id string
	err := s.queryRow(q, `SELECT id FROM endpoints WHERE route_key = ?`, models.RouteKey(method, path)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return id != exceptID, nil
}

// CreateEndpoint creates a new endpoint together with its variants and rows
func (s *SQLStorage) CreateEndpoint(ep *models.Endpoint) error {
	return s.inTx(func(tx *sql.Tx) error {
		taken, err := s.routeTaken(tx, ep.Method, ep.Path, "")
		if err != nil {
			return err
		}
		if taken {
			return routeConflict(ep.Method, ep.Path)
		}

		_, err = s.exec(tx, `INSERT INTO endpoints (`+endpointColumns+`, route_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ep.ID, ep.Method, ep.Path, ep.Name, ep.ActiveVariantID, ep.IsEnabled,
			ep.RequestBodyContentType, ep.RequestBodyRaw, toNanos(ep.CreatedAt), toNanos(ep.UpdatedAt),
			ep.RouteKey())
		if err != nil {
			return err
		}

		for i := range ep.ResponseVariants {
			v := ep.ResponseVariants[i]
			v.EndpointID = ep.ID
			if err := s.insertVariant(tx, &v); err != nil {
				return err
			}
		}
		return s.replaceRows(tx, ep)
	})
}

func (s *SQLStorage) replaceRows(tx *sql.Tx, ep *models.Endpoint) error {
	if _, err := s.exec(tx, `DELETE FROM endpoint_rows WHERE endpoint_id = ?`, ep.ID); err != nil {
		return err
	}

	insert := func(kind string, rows []models.KeyValueRow) error {
		for i, row := range rows {
			id := row.ID
			if id == "" {
				id = fmt.Sprintf("%s-%s-%d", ep.ID, kind, i)
			}
			_, err := s.exec(tx, `INSERT INTO endpoint_rows (id, endpoint_id, kind, row_key, row_value, is_enabled, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?)`, id, ep.ID, kind, row.Key, row.Value, row.IsEnabled, row.SortOrder)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := insert(rowKindQuery, ep.QueryParams); err != nil {
		return err
	}
	return insert(rowKindHeader, ep.RequestHeaders)
}

func scanEndpoint(scan func(dest ...any) error) (*models.Endpoint, error) {
	var (
		ep                   models.Endpoint
		activeID             sql.NullString
		createdAt, updatedAt int64
	)
	err := scan(&ep.ID, &ep.Method, &ep.Path, &ep.Name, &activeID, &ep.IsEnabled,
		&ep.RequestBodyContentType, &ep.RequestBodyRaw, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if activeID.Valid {
		id := activeID.String
		ep.ActiveVariantID = &id
	}
	ep.CreatedAt = fromNanos(createdAt)
	ep.UpdatedAt = fromNanos(updatedAt)
	ep.QueryParams = []models.KeyValueRow{}
	ep.RequestHeaders = []models.KeyValueRow{}
	ep.ResponseVariants = []models.ResponseVariant{}
	return &ep, nil
}

// loadEndpoints runs an endpoint query and attaches variants and rows
func (s *SQLStorage) loadEndpoints(where string, args ...any) ([]*models.Endpoint, error) {
	rows, err := s.query(s.db, `SELECT `+endpointColumns+` FROM endpoints `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	endpoints := make([]*models.Endpoint, 0)
	byID := make(map[string]*models.Endpoint)
	for rows.Next() {
		ep, err := scanEndpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
		byID[ep.ID] = ep
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return endpoints, nil
	}

	variants, err := s.loadVariants(``)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		if ep, ok := byID[v.EndpointID]; ok {
			ep.ResponseVariants = append(ep.ResponseVariants, *v)
		}
	}

	kvRows, err := s.query(s.db, `SELECT id, endpoint_id, kind, row_key, row_value, is_enabled, sort_order
		FROM endpoint_rows ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer kvRows.Close()

	for kvRows.Next() {
		var row models.KeyValueRow
		var kind string
		if err := kvRows.Scan(&row.ID, &row.EndpointID, &kind, &row.Key, &row.Value, &row.IsEnabled, &row.SortOrder); err != nil {
			return nil, err
		}
		ep, ok := byID[row.EndpointID]
		if !ok {
			continue
		}
		if kind == rowKindHeader {
			ep.RequestHeaders = append(ep.RequestHeaders, row)
		} else {
			ep.QueryParams = append(ep.QueryParams, row)
		}
	}
	return endpoints, kvRows.Err()
}

// GetEndpoint retrieves an endpoint by ID
func (s *SQLStorage) GetEndpoint(id string) (*models.Endpoint, error) {
	endpoints, err := s.loadEndpoints(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, notFound("endpoint", id)
	}
	return endpoints[0], nil
}

// GetEndpointByRoute retrieves the endpoint registered for method and path
func (s *SQLStorage) GetEndpointByRoute(method, path string) (*models.Endpoint, error) {
	key := models.RouteKey(method, path)
	endpoints, err := s.loadEndpoints(`WHERE route_key = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, notFound("endpoint", key)
	}
	return endpoints[0], nil
}

// GetAllEndpoints retrieves all endpoints
func (s *SQLStorage) GetAllEndpoints() ([]*models.Endpoint, error) {
	return s.loadEndpoints(``)
}

// GetEnabledEndpoints retrieves all enabled endpoints
func (s *SQLStorage) GetEnabledEndpoints() ([]*models.Endpoint, error) {
	return s.loadEndpoints(`WHERE is_enabled = ?`, true)
}

// UpdateEndpoint updates the scalar fields and documentation rows of an endpoint
func (s *SQLStorage) UpdateEndpoint(ep *models.Endpoint) error {
	return s.inTx(func(tx *sql.Tx) error {
		taken, err := s.routeTaken(tx, ep.Method, ep.Path, ep.ID)
		if err != nil {
			return err
		}
		if taken {
			return routeConflict(ep.Method, ep.Path)
		}

		res, err := s.exec(tx, `UPDATE endpoints SET route_key = ?, method = ?, path = ?, name = ?, is_enabled = ?,
			request_body_content_type = ?, request_body_raw = ?, updated_at = ? WHERE id = ?`,
			ep.RouteKey(), ep.Method, ep.Path, ep.Name, ep.IsEnabled,
			ep.RequestBodyContentType, ep.RequestBodyRaw, toNanos(ep.UpdatedAt), ep.ID)
		if err != nil {
			return err
		}
		if err := s.ensureExists(tx, res, "endpoints", "endpoint", ep.ID); err != nil {
			return err
		}
		return s.replaceRows(tx, ep)
	})
}

// ensureExists turns a zero-row update into ErrNotFound. MySQL reports zero
// affected rows when nothing changed, so the row is checked explicitly.
func (s *SQLStorage) ensureExists(q execer, res sql.Result, table, kind, id string) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var found string
	err := s.queryRow(q, `SELECT id FROM `+table+` WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	return err
}

// SetActiveVariant sets or clears the active variant of an endpoint
func (s *SQLStorage) SetActiveVariant(endpointID string, variantID *string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if variantID != nil {
			var owner string
			err := s.queryRow(tx, `SELECT endpoint_id FROM response_variants WHERE id = ?`, *variantID).Scan(&owner)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != endpointID) {
				return notFound("variant", *variantID)
			}
			if err != nil {
				return err
			}
		}

		res, err := s.exec(tx, `UPDATE endpoints SET active_variant_id = ? WHERE id = ?`, variantID, endpointID)
		if err != nil {
			return err
		}
		return s.ensureExists(tx, res, "endpoints", "endpoint", endpointID)
	})
}

// DeleteEndpoint deletes an endpoint, its variants, rows and memberships
func (s *SQLStorage) DeleteEndpoint(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		res, err := s.exec(tx, `DELETE FROM endpoints WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "endpoint", id); err != nil {
			return err
		}
		for _, table := range []string{"response_variants", "endpoint_rows", "collection_endpoints"} {
			if _, err := s.exec(tx, `DELETE FROM `+table+` WHERE endpoint_id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Variants

const variantColumns = `id, endpoint_id, status_code, description, body, headers, delay_ms, memo, sort_order, match_rules`

func (s *SQLStorage) insertVariant(q execer, v *models.ResponseVariant) error {
	rules, err := marshalRules(v.MatchRules)
	if err != nil {
		return err
	}
	_, err = s.exec(q, `INSERT INTO response_variants (`+variantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EndpointID, v.StatusCode, v.Description, v.Body, v.Headers, v.Delay, v.Memo, v.SortOrder, rules)
	return err
}

func marshalRules(rules *models.MatchRules) (*string, error) {
	rules = models.NormalizeMatchRules(rules)
	if rules == nil {
		return nil, nil
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	text := string(data)
	return &text, nil
}

func (s *SQLStorage) loadVariants(where string, args ...any) ([]*models.ResponseVariant, error) {
	rows, err := s.query(s.db, `SELECT `+variantColumns+` FROM response_variants `+where+` ORDER BY sort_order, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := make([]*models.ResponseVariant, 0)
	for rows.Next() {
		var (
			v     models.ResponseVariant
			delay sql.NullInt64
			rules sql.NullString
		)
		err := rows.Scan(&v.ID, &v.EndpointID, &v.StatusCode, &v.Description, &v.Body, &v.Headers,
			&delay, &v.Memo, &v.SortOrder, &rules)
		if err != nil {
			return nil, err
		}
		if delay.Valid {
			d := int(delay.Int64)
			v.Delay = &d
		}
		if rules.Valid && rules.String != "" {
			var mr models.MatchRules
			if err := json.Unmarshal([]byte(rules.String), &mr); err == nil {
				v.MatchRules = models.NormalizeMatchRules(&mr)
			}
		}
		variants = append(variants, &v)
	}
	return variants, rows.Err()
}

// CreateVariant adds a variant to its endpoint
func (s *SQLStorage) CreateVariant(v *models.ResponseVariant) error {
	return s.inTx(func(tx *sql.Tx) error {
		var id string
		err := s.queryRow(tx, `SELECT id FROM endpoints WHERE id = ?`, v.EndpointID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("endpoint", v.EndpointID)
		}
		if err != nil {
			return err
		}
		return s.insertVariant(tx, v)
	})
}

// GetVariant retrieves a variant by ID
func (s *SQLStorage) GetVariant(id string) (*models.ResponseVariant, error) {
	variants, err := s.loadVariants(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, notFound("variant", id)
	}
	return variants[0], nil
}

// UpdateVariant replaces a variant. The owning endpoint cannot change.
func (s *SQLStorage) UpdateVariant(v *models.ResponseVariant) error {
	rules, err := marshalRules(v.MatchRules)
	if err != nil {
		return err
	}

	res, err := s.exec(s.db, `UPDATE response_variants SET status_code = ?, description = ?, body = ?, headers = ?,
		delay_ms = ?, memo = ?, sort_order = ?, match_rules = ? WHERE id = ?`,
		v.StatusCode, v.Description, v.Body, v.Headers, v.Delay, v.Memo, v.SortOrder, rules, v.ID)
	if err != nil {
		return err
	}
	return s.ensureExists(s.db, res, "response_variants", "variant", v.ID)
}

// DeleteVariant deletes a variant and reassigns the active variant if needed
func (s *SQLStorage) DeleteVariant(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var endpointID string
		err := s.queryRow(tx, `SELECT endpoint_id FROM response_variants WHERE id = ?`, id).Scan(&endpointID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("variant", id)
		}
		if err != nil {
			return err
		}

		if _, err := s.exec(tx, `DELETE FROM response_variants WHERE id = ?`, id); err != nil {
			return err
		}

		var active sql.NullString
		if err := s.queryRow(tx, `SELECT active_variant_id FROM endpoints WHERE id = ?`, endpointID).Scan(&active); err != nil {
			return err
		}
		if !active.Valid || active.String != id {
			return nil
		}

		var next *string
		var nextID string
		err = s.queryRow(tx, `SELECT id FROM response_variants WHERE endpoint_id = ? ORDER BY sort_order, id LIMIT 1`, endpointID).Scan(&nextID)
		switch {
		case err == nil:
			next = &nextID
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = s.exec(tx, `UPDATE endpoints SET active_variant_id = ? WHERE id = ?`, next, endpointID)
		return err
	})
}

// Environments

func (s *SQLStorage) loadEnvironments(where string, args ...any) ([]*models.Environment, error) {
	rows, err := s.query(s.db, `SELECT id, name, variables, is_active, sort_order, created_at
		FROM environments `+where+` ORDER BY sort_order, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	envs := make([]*models.Environment, 0)
	for rows.Next() {
		var (
			env       models.Environment
			vars      string
			createdAt int64
		)
		if err := rows.Scan(&env.ID, &env.Name, &vars, &env.IsActive, &env.SortOrder, &createdAt); err != nil {
			return nil, err
		}
		env.Variables = make(map[string]string)
		_ = json.Unmarshal([]byte(vars), &env.Variables)
		env.CreatedAt = fromNanos(createdAt)
		envs = append(envs, &env)
	}
	return envs, rows.Err()
}

func marshalVariables(vars map[string]string) (string, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	data, err := json.Marshal(vars)
	return string(data), err
}

// CreateEnvironment creates a new environment
func (s *SQLStorage) CreateEnvironment(env *models.Environment) error {
	vars, err := marshalVariables(env.Variables)
	if err != nil {
		return err
	}

	return s.inTx(func(tx *sql.Tx) error {
		if env.IsActive {
			if _, err := s.exec(tx, `UPDATE environments SET is_active = ?`, false); err != nil {
				return err
			}
		}
		_, err := s.exec(tx, `INSERT INTO environments (id, name, variables, is_active, sort_order, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`, env.ID, env.Name, vars, env.IsActive, env.SortOrder, toNanos(env.CreatedAt))
		return err
	})
}

// GetEnvironment retrieves an environment by ID
func (s *SQLStorage) GetEnvironment(id string) (*models.Environment, error) {
	envs, err := s.loadEnvironments(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, notFound("environment", id)
	}
	return envs[0], nil
}

// GetAllEnvironments retrieves all environments
func (s *SQLStorage) GetAllEnvironments() ([]*models.Environment, error) {
	return s.loadEnvironments(``)
}

// GetActiveEnvironment retrieves the active environment
func (s *SQLStorage) GetActiveEnvironment() (*models.Environment, error) {
	envs, err := s.loadEnvironments(`WHERE is_active = ?`, true)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, notFound("environment", "active")
	}
	return envs[0], nil
}

// UpdateEnvironment updates name, variables and sort order of an environment
func (s *SQLStorage) UpdateEnvironment(env *models.Environment) error {
	vars, err := marshalVariables(env.Variables)
	if err != nil {
		return err
	}

	res, err := s.exec(s.db, `UPDATE environments SET name = ?, variables = ?, sort_order = ? WHERE id = ?`,
		env.Name, vars, env.SortOrder, env.ID)
	if err != nil {
		return err
	}
	return s.ensureExists(s.db, res, "environments", "environment", env.ID)
}

// SetActiveEnvironment activates one environment and deactivates the rest
func (s *SQLStorage) SetActiveEnvironment(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if id != "" {
			var found string
			err := s.queryRow(tx, `SELECT id FROM environments WHERE id = ?`, id).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("environment", id)
			}
			if err != nil {
				return err
			}
		}

		if _, err := s.exec(tx, `UPDATE environments SET is_active = ?`, false); err != nil {
			return err
		}
		if id == "" {
			return nil
		}
		_, err := s.exec(tx, `UPDATE environments SET is_active = ? WHERE id = ?`, true, id)
		return err
	})
}

// DeleteEnvironment deletes an environment
func (s *SQLStorage) DeleteEnvironment(id string) error {
	res, err := s.exec(s.db, `DELETE FROM environments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "environment", id)
}

// Collections

func (s *SQLStorage) loadCollections(where string, args ...any) ([]*models.Collection, error) {
	rows, err := s.query(s.db, `SELECT id, name, is_expanded, sort_order, created_at
		FROM collections `+where+` ORDER BY sort_order, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	collections := make([]*models.Collection, 0)
	byID := make(map[string]*models.Collection)
	for rows.Next() {
		var (
			c         models.Collection
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.IsExpanded, &c.SortOrder, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = fromNanos(createdAt)
		c.EndpointIDs = []string{}
		collections = append(collections, &c)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.query(s.db, `SELECT collection_id, endpoint_id FROM collection_endpoints ORDER BY sort_order, endpoint_id`)
	if err != nil {
		return nil, err
	}
	defer members.Close()

	for members.Next() {
		var collectionID, endpointID string
		if err := members.Scan(&collectionID, &endpointID); err != nil {
			return nil, err
		}
		if c, ok := byID[collectionID]; ok {
			c.EndpointIDs = append(c.EndpointIDs, endpointID)
		}
	}
	return collections, members.Err()
}

// CreateCollection creates a new collection
func (s *SQLStorage) CreateCollection(c *models.Collection) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := s.exec(tx, `INSERT INTO collections (id, name, is_expanded, sort_order, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.IsExpanded, c.SortOrder, toNanos(c.CreatedAt))
		if err != nil {
			return err
		}
		return s.writeMembers(tx, c.ID, c.EndpointIDs)
	})
}

func (s *SQLStorage) writeMembers(tx *sql.Tx, collectionID string, endpointIDs []string) error {
	if _, err := s.exec(tx, `DELETE FROM collection_endpoints WHERE collection_id = ?`, collectionID); err != nil {
		return err
	}
	for i, endpointID := range endpointIDs {
		_, err := s.exec(tx, `INSERT INTO collection_endpoints (collection_id, endpoint_id, sort_order) VALUES (?, ?, ?)`,
			collectionID, endpointID, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStorage) members(q execer, collectionID string) ([]string, error) {
	var found string
	err := s.queryRow(q, `SELECT id FROM collections WHERE id = ?`, collectionID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("collection", collectionID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.query(q, `SELECT endpoint_id FROM collection_endpoints WHERE collection_id = ? ORDER BY sort_order, endpoint_id`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCollection retrieves a collection by ID
func (s *SQLStorage) GetCollection(id string) (*models.Collection, error) {
	collections, err := s.loadCollections(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		return nil, notFound("collection", id)
	}
	return collections[0], nil
}

// GetAllCollections retrieves all collections
func (s *SQLStorage) GetAllCollections() ([]*models.Collection, error) {
	return s.loadCollections(``)
}

// UpdateCollection updates name, expansion state and sort order
func (s *SQLStorage) UpdateCollection(c *models.Collection) error {
	res, err := s.exec(s.db, `UPDATE collections SET name = ?, is_expanded = ?, sort_order = ? WHERE id = ?`,
		c.Name, c.IsExpanded, c.SortOrder, c.ID)
	if err != nil {
		return err
	}
	return s.ensureExists(s.db, res, "collections", "collection", c.ID)
}

// DeleteCollection deletes a collection. Its endpoints are kept.
func (s *SQLStorage) DeleteCollection(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		res, err := s.exec(tx, `DELETE FROM collections WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "collection", id); err != nil {
			return err
		}
		_, err = s.exec(tx, `DELETE FROM collection_endpoints WHERE collection_id = ?`, id)
		return err
	})
}

// ReorderCollections assigns sort orders following orderedIDs
func (s *SQLStorage) ReorderCollections(orderedIDs []string) error {
	return s.inTx(func(tx *sql.Tx) error {
		for i, id := range orderedIDs {
			if _, err := s.exec(tx, `UPDATE collections SET sort_order = ? WHERE id = ?`, i, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddEndpointToCollection inserts the endpoint at position, moving it if already present
func (s *SQLStorage) AddEndpointToCollection(collectionID, endpointID string, position int) error {
	return s.inTx(func(tx *sql.Tx) error {
		ids, err := s.members(tx, collectionID)
		if err != nil {
			return err
		}
		var found string
		err = s.queryRow(tx, `SELECT id FROM endpoints WHERE id = ?`, endpointID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("endpoint", endpointID)
		}
		if err != nil {
			return err
		}
		return s.writeMembers(tx, collectionID, insertAt(lo.Without(ids, endpointID), endpointID, position))
	})
}

// RemoveEndpointFromCollection unlinks an endpoint from a collection
func (s *SQLStorage) RemoveEndpointFromCollection(collectionID, endpointID string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := s.members(tx, collectionID); err != nil {
			return err
		}
		_, err := s.exec(tx, `DELETE FROM collection_endpoints WHERE collection_id = ? AND endpoint_id = ?`, collectionID, endpointID)
		return err
	})
}

// ReorderCollectionEndpoints orders the endpoints of a collection
func (s *SQLStorage) ReorderCollectionEndpoints(collectionID string, orderedEndpointIDs []string) error {
	return s.inTx(func(tx *sql.Tx) error {
		ids, err := s.members(tx, collectionID)
		if err != nil {
			return err
		}
		return s.writeMembers(tx, collectionID, reorderMembers(ids, orderedEndpointIDs))
	})
}

// Request records

// AppendRecord inserts a request record and trims the oldest past the cap
func (s *SQLStorage) AppendRecord(rec *models.RequestRecord) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := s.exec(tx, `INSERT INTO request_records (id, method, path, status_code, body_or_params, request_headers, response_body, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Method, rec.Path, rec.StatusCode, rec.BodyOrParams, rec.RequestHeaders, rec.ResponseBody, toNanos(rec.Timestamp))
		if err != nil || s.maxRecords <= 0 {
			return err
		}

		var cutoff int64
		err = s.queryRow(tx, `SELECT recorded_at FROM request_records ORDER BY recorded_at DESC LIMIT 1 OFFSET ?`, s.maxRecords).Scan(&cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = s.exec(tx, `DELETE FROM request_records WHERE recorded_at <= ?`, cutoff)
		return err
	})
}

// GetRecords returns records matching the filter, newest first
func (s *SQLStorage) GetRecords(filter models.RecordFilter) ([]*models.RequestRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Method != "" {
		conds = append(conds, `method = ?`)
		args = append(args, strings.ToUpper(filter.Method))
	}
	if filter.Search != "" {
		conds = append(conds, `LOWER(path) LIKE ?`)
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	query := `SELECT id, method, path, status_code, body_or_params, request_headers, response_body, recorded_at FROM request_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.EffectiveLimit(), max(filter.Offset, 0))

	rows, err := s.query(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.RequestRecord, 0)
	for rows.Next() {
		var (
			rec        models.RequestRecord
			recordedAt int64
		)
		err := rows.Scan(&rec.ID, &rec.Method, &rec.Path, &rec.StatusCode, &rec.BodyOrParams,
			&rec.RequestHeaders, &rec.ResponseBody, &recordedAt)
		if err != nil {
			return nil, err
		}
		rec.Timestamp = fromNanos(recordedAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ClearRecords removes all request records
func (s *SQLStorage) ClearRecords() error {
	_, err := s.exec(s.db, `DELETE FROM request_records`)
	return err
}

// Settings

// GetSettings returns the stored settings merged over the defaults
func (s *SQLStorage) GetSettings() (*models.Settings, error) {
	settings := models.DefaultSettings()

	var data string
	err := s.queryRow(s.db, `SELECT setting_value FROM settings WHERE setting_key = ?`, "settings").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		defaults := models.DefaultSettings()
		return &defaults, nil
	}
	return &settings, nil
}

// SaveSettings replaces the settings
func (s *SQLStorage) SaveSettings(settings *models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	return s.inTx(func(tx *sql.Tx) error {
		if _, err := s.exec(tx, `DELETE FROM settings WHERE setting_key = ?`, "settings"); err != nil {
			return err
		}
		_, err := s.exec(tx, `INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)`, "settings", string(data))
		return err
	})
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	return s.db.Close()
}
