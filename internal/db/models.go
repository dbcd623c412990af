// Package db persists chat sessions in a local SQLite key/value table.
package db

// SessionsKey names the slot holding the JSON array of saved sessions.
const SessionsKey = "chatHistory"

// MaxSessions is the number of sessions kept in the slot.
const MaxSessions = 10

const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updatedAt REAL NOT NULL
	);
`
