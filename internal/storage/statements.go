package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// documentColumns is the select list shared by the SQL stores
const documentColumns = "id, user_id, blackbox_chat, gemini_chat, oracle_chat, created_at, updated_at"

// documentStatements returns the prepared statement set for the users table.
// Field statements are generated per history field; field names come only from AllHistoryFields.
func documentStatements() map[string]string {
	statements := map[string]string{
		"find_one": `
			SELECT ` + documentColumns + `
			FROM users
			WHERE user_id = ?
		`,
	}

	for _, field := range AllHistoryFields {
		column := string(field)
		statements["insert_"+column] = fmt.Sprintf(`
			INSERT INTO users (user_id, %s, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, column)
		statements["update_"+column] = fmt.Sprintf(`
			UPDATE users
			SET %s = ?, updated_at = ?
			WHERE id = ?
		`, column)
		statements["unset_"+column] = fmt.Sprintf(`
			UPDATE users
			SET %s = NULL, updated_at = ?
			WHERE user_id = ?
		`, column)
	}

	return statements
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one users row into a UserDocument
func scanDocument(row rowScanner) (*UserDocument, error) {
	var doc UserDocument
	columns := make([]sql.NullString, len(AllHistoryFields))

	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&columns[0],
		&columns[1],
		&columns[2],
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Fields = make(map[HistoryField]json.RawMessage)
	for i, field := range AllHistoryFields {
		if columns[i].Valid {
			doc.Fields[field] = json.RawMessage(columns[i].String)
		}
	}

	return &doc, nil
}

// statementName builds the prepared statement key for a field operation
func statementName(op string, field HistoryField) string {
	return op + "_" + strings.ToLower(string(field))
}
