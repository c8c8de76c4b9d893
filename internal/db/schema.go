package db

import "fmt"

// schemaTemplate holds the schema; %d is the embedding dimension.
const schemaTemplate = `
    -- ==========================================================================
    -- CHUNK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS keywords ON chunk TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS embedder ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON chunk TYPE datetime DEFAULT time::now();

    -- One row per (source, seq): concurrent re-indexing of a source fails here
    DEFINE INDEX IF NOT EXISTS chunk_source_seq ON chunk FIELDS source_id, seq UNIQUE;
    DEFINE INDEX IF NOT EXISTS chunk_keywords ON chunk FIELDS keywords;
    DEFINE INDEX IF NOT EXISTS chunk_embedder ON chunk FIELDS embedder;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- CHAT SESSION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chat_session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS identity ON chat_session TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON chat_session TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON chat_session TYPE datetime;
    DEFINE FIELD IF NOT EXISTS messages ON chat_session TYPE array<object> FLEXIBLE;
    -- Redefined on every start so message objects of older schemas stay FLEXIBLE
    REMOVE FIELD IF EXISTS messages.* ON chat_session;
    DEFINE FIELD messages.* ON chat_session TYPE object FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS chat_session_identity ON chat_session FIELDS identity;
`

func schemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
