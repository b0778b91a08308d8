package directory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Postgres reads the account service's tables directly. The hub never
// writes to them.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the account database and verifies the link.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening group directory: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to group directory: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) GroupExists(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM api_studygroup WHERE id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("group lookup: %w", err)
	}
	return exists, nil
}

func (p *Postgres) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_membership
		WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return count > 0, nil
}
