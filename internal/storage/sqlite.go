package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cheevobot/internal/challenge"
	logx "cheevobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u challenge.User) error {
	name := challenge.CanonicalName(u.Name)
	if name == "" {
		return errors.New("empty username")
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(name, created_at) VALUES(?,?)
		 ON CONFLICT(name) DO NOTHING`,
		name, created.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, name string) (challenge.User, bool, error) {
	var u challenge.User
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_at FROM users WHERE name = ?`,
		challenge.CanonicalName(name)).Scan(&u.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.User{}, false, nil
	}
	if err != nil {
		return challenge.User{}, false, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, true, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]challenge.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.User
	for rows.Next() {
		var u challenge.User
		var created string
		if err := rows.Scan(&u.Name, &created); err != nil {
			return nil, err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertChallenge(ctx context.Context, c challenge.Challenge) error {
	if !c.Period.Valid() {
		return fmt.Errorf("invalid period %v", c.Period)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO challenges(game_id, month, year, title, type, achievement_total)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(game_id, month, year) DO UPDATE SET
		   title = excluded.title,
		   type = excluded.type,
		   achievement_total = excluded.achievement_total`,
		c.GameID, int(c.Period.Month), c.Period.Year, c.Title, string(c.Type), c.AchievementTotal)
	return err
}

func (s *sqliteStore) ChallengeByGame(ctx context.Context, gameID int64, p challenge.Period) (challenge.Challenge, bool, error) {
	var c challenge.Challenge
	var month int
	var typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT game_id, month, year, title, type, achievement_total
		 FROM challenges WHERE game_id = ? AND month = ? AND year = ?`,
		gameID, int(p.Month), p.Year).Scan(&c.GameID, &month, &c.Period.Year, &c.Title, &typ, &c.AchievementTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Challenge{}, false, nil
	}
	if err != nil {
		return challenge.Challenge{}, false, err
	}
	c.Period.Month = time.Month(month)
	c.Type = challenge.ChallengeType(typ)
	return c, true, nil
}

func (s *sqliteStore) ChallengesForPeriod(ctx context.Context, p challenge.Period) ([]challenge.Challenge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id, month, year, title, type, achievement_total
		 FROM challenges WHERE month = ? AND year = ? ORDER BY type, game_id`,
		int(p.Month), p.Year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.Challenge
	for rows.Next() {
		var c challenge.Challenge
		var month int
		var typ string
		if err := rows.Scan(&c.GameID, &month, &c.Period.Year, &c.Title, &typ, &c.AchievementTotal); err != nil {
			return nil, err
		}
		c.Period.Month = time.Month(month)
		c.Type = challenge.ChallengeType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetAward(ctx context.Context, user string, gameID int64, p challenge.Period) (challenge.Award, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user, kind, game_id, month, year, tier, progress, points, reason, updated_at
		 FROM awards WHERE kind = 'game' AND user = ? AND game_id = ? AND month = ? AND year = ?`,
		challenge.CanonicalName(user), gameID, int(p.Month), p.Year)
	a, err := scanAward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Award{}, false, nil
	}
	if err != nil {
		return challenge.Award{}, false, err
	}
	return a, true, nil
}

func (s *sqliteStore) UpsertAward(ctx context.Context, a challenge.Award) error {
	if a.Kind != challenge.KindGame {
		return ErrNotGameAward
	}
	updated := a.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO awards(user, kind, game_id, month, year, tier, progress, points, reason, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,'',?)
		 ON CONFLICT(user, game_id, month, year) WHERE kind = 'game' DO UPDATE SET
		   tier = excluded.tier,
		   progress = excluded.progress,
		   points = excluded.points,
		   updated_at = excluded.updated_at`,
		challenge.CanonicalName(a.User), string(challenge.KindGame), a.GameID,
		int(a.Period.Month), a.Period.Year, a.Tier.String(), a.Progress, a.Points,
		updated.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) InsertManualAward(ctx context.Context, a challenge.Award) error {
	if a.Kind != challenge.KindManual {
		return ErrNotGameAward
	}
	updated := a.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO awards(user, kind, game_id, month, year, tier, progress, points, reason, updated_at)
		 VALUES(?,?,0,?,?,'none',0,?,?,?)`,
		challenge.CanonicalName(a.User), string(challenge.KindManual),
		int(a.Period.Month), a.Period.Year, a.Points, a.Reason,
		updated.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) AwardsForGame(ctx context.Context, gameID int64, p challenge.Period) ([]challenge.Award, error) {
	return s.queryAwards(ctx,
		`SELECT id, user, kind, game_id, month, year, tier, progress, points, reason, updated_at
		 FROM awards WHERE kind = 'game' AND game_id = ? AND month = ? AND year = ?
		 ORDER BY id`,
		gameID, int(p.Month), p.Year)
}

func (s *sqliteStore) AwardsForYear(ctx context.Context, year int) ([]challenge.Award, error) {
	return s.queryAwards(ctx,
		`SELECT id, user, kind, game_id, month, year, tier, progress, points, reason, updated_at
		 FROM awards WHERE year = ? ORDER BY id`,
		year)
}

func (s *sqliteStore) AwardsForUser(ctx context.Context, user string, year int) ([]challenge.Award, error) {
	return s.queryAwards(ctx,
		`SELECT id, user, kind, game_id, month, year, tier, progress, points, reason, updated_at
		 FROM awards WHERE user = ? AND year = ? ORDER BY id`,
		challenge.CanonicalName(user), year)
}

func (s *sqliteStore) queryAwards(ctx context.Context, q string, args ...any) ([]challenge.Award, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.Award
	for rows.Next() {
		a, err := scanAward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAward(r rowScanner) (challenge.Award, error) {
	var a challenge.Award
	var kind, tier, updated string
	var month int
	if err := r.Scan(&a.ID, &a.User, &kind, &a.GameID, &month, &a.Period.Year,
		&tier, &a.Progress, &a.Points, &a.Reason, &updated); err != nil {
		return challenge.Award{}, err
	}
	a.Kind = challenge.AwardKind(kind)
	a.Period.Month = time.Month(month)
	t, ok := challenge.ParseTier(tier)
	if !ok {
		return challenge.Award{}, fmt.Errorf("corrupt tier %q for award %d", tier, a.ID)
	}
	a.Tier = t
	a.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	return a, nil
}
