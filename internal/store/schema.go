package store

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation TEXT NOT NULL DEFAULT 'default',
	role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'tool')),
	content TEXT,
	model TEXT,
	provider TEXT,
	tool_calls TEXT,
	tool_call_id TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation, id);
`
