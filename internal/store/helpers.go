package store

import (
	"database/sql"
	"fmt"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanSubmissions reads Submission rows selected in column order
// id, user_id, action, page_id, url, title, error, created_at.
func scanSubmissions(rows *sql.Rows) ([]Submission, error) {
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		var sub Submission
		var pageID, url, errText sql.NullString
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Action, &pageID, &url, &sub.Title, &errText, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission failed: %w", err)
		}
		sub.PageID = pageID.String
		sub.URL = url.String
		sub.Error = errText.String
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions failed: %w", err)
	}
	return out, nil
}
