package store

// Schema contains the DDL for the contentvis database.
const Schema = `
CREATE TABLE IF NOT EXISTS url_metrics_posts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    slug       TEXT NOT NULL UNIQUE,
    url        TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS url_metrics (
    id             TEXT PRIMARY KEY,
    post_id        INTEGER NOT NULL REFERENCES url_metrics_posts(id) ON DELETE CASCADE,
    viewport_width INTEGER NOT NULL,
    data           TEXT NOT NULL,
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_url_metrics_post ON url_metrics(post_id, created_at DESC);

CREATE TABLE IF NOT EXISTS post_meta (
    post_id    INTEGER NOT NULL REFERENCES url_metrics_posts(id) ON DELETE CASCADE,
    meta_key   TEXT NOT NULL,
    meta_value TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (post_id, meta_key)
);
`
