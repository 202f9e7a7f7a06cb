package guestdesk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const postgresOperationTimeout = 5 * time.Second

type sqlxOpenFunc func(driverName, dsn string) (*sqlx.DB, error)

// PostgresStore is the production Store on the hotel's appeals database.
// Schema creation is lazy and idempotent.
type PostgresStore struct {
	dsn    string
	openDB sqlxOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sqlx.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn, openDB: sqlx.Open}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			`CREATE TABLE IF NOT EXISTS appeals (
				id SERIAL PRIMARY KEY,
				user_id BIGINT,
				username TEXT,
				room TEXT,
				text TEXT,
				request_type TEXT DEFAULT 'other',
				optional_comment TEXT,
				status TEXT DEFAULT 'new',
				priority INT DEFAULT 1,
				assigned_admin BIGINT,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id SERIAL PRIMARY KEY,
				appeal_id INT REFERENCES appeals(id) ON DELETE CASCADE,
				sender TEXT,
				text TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_appeals_status ON appeals(status)`,
			`CREATE INDEX IF NOT EXISTS idx_appeals_room ON appeals(room)`,
			`CREATE INDEX IF NOT EXISTS idx_appeals_created_at ON appeals(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_appeals_user_id ON appeals(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_appeals_request_type ON appeals(request_type)`,
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) CreateAppeal(ctx context.Context, appeal NewAppeal) (int64, error) {
	if appeal.GuestID == 0 || strings.TrimSpace(appeal.Text) == "" {
		return 0, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	requestType := strings.TrimSpace(appeal.RequestType)
	if requestType == "" {
		requestType = "other"
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO appeals (user_id, username, room, text, request_type, optional_comment)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		appeal.GuestID, appeal.Username, appeal.Room, appeal.Text, requestType, appeal.OptionalComment,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const appealColumns = `id, COALESCE(user_id, 0) AS user_id, COALESCE(username, '') AS username,
	COALESCE(room, '') AS room, COALESCE(text, '') AS text,
	COALESCE(request_type, 'other') AS request_type, COALESCE(optional_comment, '') AS optional_comment,
	COALESCE(status, 'new') AS status, COALESCE(priority, 1) AS priority,
	COALESCE(assigned_admin, 0) AS assigned_admin, created_at, updated_at`

func (s *PostgresStore) GetAppeal(ctx context.Context, appealID int64) (Appeal, error) {
	if err := s.ensureReady(); err != nil {
		return Appeal{}, err
	}
	var appeal Appeal
	err := s.db.GetContext(ctx, &appeal,
		fmt.Sprintf("SELECT %s FROM appeals WHERE id = $1", appealColumns), appealID)
	if errors.Is(err, sql.ErrNoRows) {
		return Appeal{}, ErrNotFound
	}
	if err != nil {
		return Appeal{}, err
	}
	return appeal, nil
}

func (s *PostgresStore) ListAppeals(ctx context.Context, filter AppealFilter) ([]Appeal, int, error) {
	if err := s.ensureReady(); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	conditions := []string{}
	args := []any{}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if filter.Room != "" {
		conditions = append(conditions, "room = "+arg(filter.Room))
	}
	if filter.RequestType != "" {
		conditions = append(conditions, "request_type = "+arg(filter.RequestType))
	}
	if filter.Search != "" {
		placeholder := arg("%" + filter.Search + "%")
		conditions = append(conditions, fmt.Sprintf("(text ILIKE %s OR username ILIKE %s)", placeholder, placeholder))
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		fmt.Sprintf("SELECT COUNT(*) FROM appeals %s", whereClause), args...); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM appeals %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s",
		appealColumns, whereClause, arg(limit), arg(filter.Offset))
	appeals := []Appeal{}
	if err := s.db.SelectContext(ctx, &appeals, query, args...); err != nil {
		return nil, 0, err
	}
	return appeals, total, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, appealID int64) ([]AppealMessage, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	messages := []AppealMessage{}
	err := s.db.SelectContext(ctx, &messages,
		`SELECT id, appeal_id, COALESCE(sender, '') AS sender, COALESCE(text, '') AS text, created_at
		 FROM messages WHERE appeal_id = $1 ORDER BY created_at ASC, id ASC`, appealID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, appealID int64, status Status) (int64, error) {
	if !status.Valid() {
		return 0, ErrInvalidStatus
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	var guestID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`UPDATE appeals SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING user_id`,
		string(status), appealID,
	).Scan(&guestID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return guestID.Int64, nil
}

func (s *PostgresStore) BulkUpdateStatus(ctx context.Context, appealIDs []int64, status Status) ([]BulkTarget, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if len(appealIDs) == 0 {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	targets := []BulkTarget{}
	err := s.db.SelectContext(ctx, &targets,
		`UPDATE appeals SET status = $1, updated_at = NOW()
		 WHERE id = ANY($2) RETURNING id, COALESCE(user_id, 0) AS user_id`,
		string(status), pq.Array(appealIDs))
	if err != nil {
		return nil, err
	}
	return targets, nil
}

func (s *PostgresStore) RecordMessage(ctx context.Context, appealID int64, sender, text string) error {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(sender) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (appeal_id, sender, text) VALUES ($1, $2, $3)`,
		appealID, sender, text)
	return err
}

func (s *PostgresStore) Stats(ctx context.Context) (StatsReport, error) {
	if err := s.ensureReady(); err != nil {
		return StatsReport{}, err
	}
	report := StatsReport{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'new'),
			COUNT(*) FILTER (WHERE status = 'received'),
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'declined'),
			COUNT(*) FILTER (WHERE DATE(created_at) = CURRENT_DATE),
			COUNT(*) FILTER (WHERE DATE(created_at) = CURRENT_DATE - INTERVAL '1 day')
		FROM appeals`,
	).Scan(&report.Total, &report.New, &report.Received, &report.Done, &report.Declined,
		&report.TodayCount, &report.YesterdayCount)
	if err != nil {
		return StatsReport{}, err
	}

	daily := []DailyCount{}
	err = s.db.SelectContext(ctx, &daily, `
		SELECT TO_CHAR(DATE(created_at), 'YYYY-MM-DD') AS date, COUNT(*) AS count
		FROM appeals
		WHERE created_at >= NOW() - INTERVAL '7 days'
		GROUP BY DATE(created_at)
		ORDER BY date ASC`)
	if err != nil {
		return StatsReport{}, err
	}
	report.Daily = daily

	rooms := []LabelCount{}
	err = s.db.SelectContext(ctx, &rooms, `
		SELECT COALESCE(room, '') AS label, COUNT(*) AS count
		FROM appeals GROUP BY room ORDER BY count DESC, label ASC LIMIT 10`)
	if err != nil {
		return StatsReport{}, err
	}
	report.Rooms = rooms

	types := []LabelCount{}
	err = s.db.SelectContext(ctx, &types, `
		SELECT COALESCE(request_type, 'other') AS label, COUNT(*) AS count
		FROM appeals GROUP BY request_type ORDER BY count DESC, label ASC`)
	if err != nil {
		return StatsReport{}, err
	}
	report.Types = types
	return report, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PostgresOutbox persists pending notifications in the same
// pending_admin_messages table the rest of the admin stack reads, with an
// additive kind column for button derivation.
type PostgresOutbox struct {
	dsn    string
	openDB sqlxOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sqlx.DB
}

func NewPostgresOutbox(dsn string) (*PostgresOutbox, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresOutbox{dsn: dsn, openDB: sqlx.Open}, nil
}

func (o *PostgresOutbox) ensureReady() error {
	o.initOnce.Do(func() {
		db, err := o.openDB("postgres", o.dsn)
		if err != nil {
			o.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			`CREATE TABLE IF NOT EXISTS pending_admin_messages (
				id SERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				message TEXT NOT NULL,
				appeal_id INTEGER,
				sent BOOLEAN DEFAULT FALSE,
				created_at TIMESTAMPTZ DEFAULT NOW()
			)`,
			`ALTER TABLE pending_admin_messages ADD COLUMN IF NOT EXISTS kind TEXT DEFAULT ''`,
			`CREATE INDEX IF NOT EXISTS idx_pending_admin_messages_unsent
				ON pending_admin_messages (created_at) WHERE NOT sent`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_admin_messages_unsent_payload
				ON pending_admin_messages (user_id, md5(message), COALESCE(appeal_id, 0)) WHERE NOT sent`,
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				o.initErr = err
				return
			}
		}
		o.db = db
	})
	return o.initErr
}

func (o *PostgresOutbox) Enqueue(ctx context.Context, guestID int64, text string, appealID int64, kind NotificationKind) (int64, bool, error) {
	if guestID == 0 || strings.TrimSpace(text) == "" {
		return 0, false, ErrInvalidInput
	}
	if err := o.ensureReady(); err != nil {
		return 0, false, err
	}
	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM pending_admin_messages
		 WHERE user_id = $1 AND message = $2 AND appeal_id IS NOT DISTINCT FROM NULLIF($3, 0)
		   AND NOT sent AND created_at > NOW() - INTERVAL '1 minute'
		 ORDER BY id ASC LIMIT 1`,
		guestID, text, appealID).Scan(&existing)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return 0, false, err
		}
		committed = true
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	// The partial unique index on (user_id, md5(message), appeal_id)
	// WHERE NOT sent backstops the window check: two transactions racing
	// past the SELECT cannot both insert, the loser adopts the winner's
	// row instead.
	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO pending_admin_messages (user_id, message, appeal_id, kind)
		 VALUES ($1, $2, NULLIF($3, 0), $4)
		 ON CONFLICT (user_id, md5(message), COALESCE(appeal_id, 0)) WHERE NOT sent DO NOTHING
		 RETURNING id`,
		guestID, text, appealID, string(kind)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM pending_admin_messages
			 WHERE user_id = $1 AND message = $2 AND appeal_id IS NOT DISTINCT FROM NULLIF($3, 0)
			   AND NOT sent
			 ORDER BY id ASC LIMIT 1`,
			guestID, text, appealID).Scan(&existing); err != nil {
			return 0, false, err
		}
		if err := tx.Commit(); err != nil {
			return 0, false, err
		}
		committed = true
		return existing, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	committed = true
	return id, true, nil
}

func (o *PostgresOutbox) ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 10
	}
	if err := o.ensureReady(); err != nil {
		return nil, err
	}
	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	claimed := []Notification{}
	err = tx.SelectContext(ctx, &claimed,
		`SELECT id, user_id, message, COALESCE(appeal_id, 0) AS appeal_id,
			COALESCE(kind, '') AS kind, sent, created_at
		 FROM pending_admin_messages
		 WHERE NOT sent AND created_at <= $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		return nil, nil
	}
	ids := make([]int64, 0, len(claimed))
	for i := range claimed {
		claimed[i].Sent = true
		ids = append(ids, claimed[i].ID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_admin_messages SET sent = TRUE WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return claimed, nil
}

func (o *PostgresOutbox) MarkUnsent(ctx context.Context, id int64) error {
	if err := o.ensureReady(); err != nil {
		return err
	}
	result, err := o.db.ExecContext(ctx,
		`UPDATE pending_admin_messages SET sent = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *PostgresOutbox) Close() error {
	if o.db == nil {
		return nil
	}
	return o.db.Close()
}
