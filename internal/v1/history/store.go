// Package history persists finished matches and serves the aggregate
// queries behind the stats API. The store is a single sqlite file in WAL
// mode, safe for one writer and many concurrent readers.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    player1_id TEXT NOT NULL,
    player1_name TEXT NOT NULL,
    player2_id TEXT NOT NULL,
    player2_name TEXT NOT NULL,
    winner_id TEXT,
    start_time INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    turn_count INTEGER NOT NULL,
    deck1_id TEXT NOT NULL,
    deck2_id TEXT NOT NULL,
    created_at INTEGER DEFAULT (strftime('%s','now'))
);
CREATE TABLE IF NOT EXISTS players (
    player_id TEXT PRIMARY KEY,
    player_name TEXT NOT NULL,
    total_games INTEGER DEFAULT 0,
    wins INTEGER DEFAULT 0,
    losses INTEGER DEFAULT 0,
    draws INTEGER DEFAULT 0,
    total_turns INTEGER DEFAULT 0,
    last_seen INTEGER DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_matches_player1 ON matches(player1_id);
CREATE INDEX IF NOT EXISTS idx_matches_player2 ON matches(player2_id);
CREATE INDEX IF NOT EXISTS idx_matches_winner  ON matches(winner_id);
CREATE INDEX IF NOT EXISTS idx_matches_time    ON matches(end_time);
`

// Store wraps the sqlite database holding match history.
type Store struct {
	db *sql.DB
}

// MatchRecord is one finished match as the room coordinator reports it.
// Times are wall-clock milliseconds.
type MatchRecord struct {
	Player1ID   string
	Player1Name string
	Deck1ID     string
	Player2ID   string
	Player2Name string
	Deck2ID     string
	WinnerID    string // empty means draw
	StartTime   int64
	EndTime     int64
	TurnCount   int
}

// Stats is the aggregate summary served by /api/stats.
type Stats struct {
	TotalMatches     int     `json:"totalMatches"`
	TotalPlayers     int     `json:"totalPlayers"`
	AvgMatchDuration float64 `json:"avgMatchDuration"`
}

// LeaderboardEntry is one row of the /api/leaderboard response.
type LeaderboardEntry struct {
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	TotalGames int     `json:"total_games"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	WinRate    float64 `json:"win_rate"`
}

// Match is one row of the /api/matches/recent response.
type Match struct {
	ID          int64  `json:"id"`
	Player1ID   string `json:"player1_id"`
	Player1Name string `json:"player1_name"`
	Player2ID   string `json:"player2_id"`
	Player2Name string `json:"player2_name"`
	WinnerID    string `json:"winner_id"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	TurnCount   int    `json:"turn_count"`
	Deck1ID     string `json:"deck1_id"`
	Deck2ID     string `json:"deck2_id"`
}

// PlayerStats is the per-player totals row served by /api/player/{id}.
type PlayerStats struct {
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	TotalGames int     `json:"total_games"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	WinRate    float64 `json:"win_rate"`
}

// Open initialises the store at path, creating the parent directory and the
// schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordMatch appends a finished match and upserts both player rows in one
// transaction. Returns the new match row id.
func (s *Store) RecordMatch(ctx context.Context, m MatchRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var winner any
	if m.WinnerID != "" {
		winner = m.WinnerID
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches
		     (player1_id, player1_name, player2_id, player2_name, winner_id,
		      start_time, end_time, turn_count, deck1_id, deck2_id)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.Player1ID, m.Player1Name, m.Player2ID, m.Player2Name, winner,
		m.StartTime, m.EndTime, m.TurnCount, m.Deck1ID, m.Deck2ID,
	)
	if err != nil {
		return 0, err
	}
	matchID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, p := range []struct {
		id, name string
		won      bool
	}{
		{m.Player1ID, m.Player1Name, m.WinnerID == m.Player1ID && m.WinnerID != ""},
		{m.Player2ID, m.Player2Name, m.WinnerID == m.Player2ID && m.WinnerID != ""},
	} {
		var w, l, d int
		switch {
		case p.won:
			w = 1
		case m.WinnerID != "":
			l = 1
		default:
			d = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO players
			     (player_id, player_name, total_games, wins, losses, draws, total_turns)
			 VALUES (?,?,1,?,?,?,?)
			 ON CONFLICT(player_id) DO UPDATE SET
			     player_name = excluded.player_name,
			     total_games = total_games + 1,
			     wins        = wins + ?,
			     losses      = losses + ?,
			     draws       = draws + ?,
			     total_turns = total_turns + ?,
			     last_seen   = strftime('%s','now')`,
			p.id, p.name, w, l, d, m.TurnCount, w, l, d, m.TurnCount,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return matchID, nil
}

// Stats returns the aggregate match summary.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT player1_id) + COUNT(DISTINCT player2_id),
		       COALESCE(AVG(end_time - start_time), 0)
		FROM matches`)
	var st Stats
	if err := row.Scan(&st.TotalMatches, &st.TotalPlayers, &st.AvgMatchDuration); err != nil {
		return nil, err
	}
	return &st, nil
}

// Leaderboard returns the top 10 players with at least 3 games, ranked by
// wins then win-rate.
func (s *Store) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, player_name, total_games, wins, losses, draws,
		       ROUND(CAST(wins AS REAL) / NULLIF(total_games, 0) * 100, 1) AS win_rate
		FROM players
		WHERE total_games >= 3
		ORDER BY wins DESC, win_rate DESC
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.PlayerName, &e.TotalGames,
			&e.Wins, &e.Losses, &e.Draws, &e.WinRate); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentMatches returns the 20 most recent matches by end time.
func (s *Store) RecentMatches(ctx context.Context) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player1_id, player1_name, player2_id, player2_name,
		       COALESCE(winner_id, ''), start_time, end_time, turn_count,
		       deck1_id, deck2_id
		FROM matches ORDER BY end_time DESC LIMIT 20`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Player1ID, &m.Player1Name,
			&m.Player2ID, &m.Player2Name, &m.WinnerID,
			&m.StartTime, &m.EndTime, &m.TurnCount,
			&m.Deck1ID, &m.Deck2ID); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// PlayerStats returns the totals for one player, or nil if unknown.
func (s *Store) PlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT player_id, player_name, total_games, wins, losses, draws
		FROM players WHERE player_id = ?`, playerID)
	var p PlayerStats
	if err := row.Scan(&p.PlayerID, &p.PlayerName, &p.TotalGames,
		&p.Wins, &p.Losses, &p.Draws); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	games := p.TotalGames
	if games < 1 {
		games = 1
	}
	p.WinRate = math.Round(float64(p.Wins)/float64(games)*1000) / 10
	return &p, nil
}
