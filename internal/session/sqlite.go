package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteFile = "sessions.db"
	// fixed width so text ordering matches time ordering
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteStore keeps sessions in a single database file.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLiteStore opens <dir>/sessions.db, creating the schema if needed.
func OpenSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, sqliteFile))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	stmts := []string{
		`create table if not exists sessions (
			id text primary key,
			work_dir text not null,
			model text,
			created_at text not null,
			updated_at text not null
		);`,
		`create table if not exists messages (
			id integer primary key autoincrement,
			session_id text not null references sessions(id),
			role text not null,
			payload text not null,
			created_at text not null
		);`,
		`create index if not exists messages_session on messages(session_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, workDir, model string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	info := Info{ID: newID(), WorkDir: workDir, Model: model, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id,work_dir,model,created_at,updated_at) values(?,?,?,?,?)`,
		info.ID, info.WorkDir, info.Model,
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return Info{}, fmt.Errorf("create session: %w", err)
	}
	return info, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `update sessions set updated_at=? where id=?`, now.Format(timeLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	stamp(msgs, now)
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`insert into messages(session_id,role,payload,created_at) values(?,?,?,?)`,
			id, m.Role, string(payload), m.Timestamp.Format(timeLayout),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Info, []Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.info(ctx, id)
	if err != nil {
		return Info{}, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select payload from messages where session_id=? order by id`, id)
	if err != nil {
		return Info{}, nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return Info{}, nil, err
		}
		var m Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return Info{}, nil, err
	}
	info.Messages = len(msgs)
	info.Title = titleFrom(msgs)
	return info, LiveHistory(msgs), nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := `select s.id, s.work_dir, coalesce(s.model,''), s.created_at, s.updated_at,
			(select count(*) from messages m where m.session_id = s.id),
			coalesce((select m.payload from messages m where m.session_id = s.id and m.role = 'user' order by m.id limit 1), '')
		from sessions s order by s.updated_at desc, s.rowid desc`
	args := []any{}
	if limit > 0 {
		query += ` limit ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info             Info
			created, updated string
			firstUser        string
		)
		if err := rows.Scan(&info.ID, &info.WorkDir, &info.Model, &created, &updated, &info.Messages, &firstUser); err != nil {
			return nil, err
		}
		info.CreatedAt, _ = time.Parse(timeLayout, created)
		info.UpdatedAt, _ = time.Parse(timeLayout, updated)
		if firstUser != "" {
			var m Message
			if json.Unmarshal([]byte(firstUser), &m) == nil {
				info.Title = titleFrom([]Message{m})
			}
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) info(ctx context.Context, id string) (Info, error) {
	var (
		info             Info
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`select id, work_dir, coalesce(model,''), created_at, updated_at from sessions where id=?`, id,
	).Scan(&info.ID, &info.WorkDir, &info.Model, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}
	info.CreatedAt, _ = time.Parse(timeLayout, created)
	info.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return info, nil
}
