package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type RecipientStore struct {
	db *sql.DB
}

func NewRecipientStore(db *sql.DB) *RecipientStore {
	return &RecipientStore{db: db}
}

func (s *RecipientStore) Recipients(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT recipient FROM device_recipients
WHERE device_id = ?
ORDER BY recipient;
`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("Recipients query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("Recipients scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
