package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"go-friendchat/internal/config"
)

type Database struct {
	Conn *sql.DB
}

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewDatabase(dsn string, opts Options) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)
	conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	return &Database{Conn: conn}, nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// AutoMigrate creates the schema under the configured table names and
// installs the row triggers that publish change records on notifyChannel.
func (d *Database) AutoMigrate(ctx context.Context, tables config.TablesConfig, notifyChannel string) error {
	for _, name := range []string{tables.Users, tables.Friends, tables.FriendRequests, notifyChannel} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	users, friends, requests := tables.Users, tables.Friends, tables.FriendRequests

	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + users + ` (
            id TEXT PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            latitude DOUBLE PRECISION,
            longitude DOUBLE PRECISION,
            is_location_sharing BOOLEAN NOT NULL DEFAULT FALSE,
            is_online BOOLEAN NOT NULL DEFAULT FALSE,
            last_seen TIMESTAMPTZ,
            location_updated_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS ` + friends + ` (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL REFERENCES ` + users + `(id) ON DELETE CASCADE,
            friend_id TEXT NOT NULL REFERENCES ` + users + `(id) ON DELETE CASCADE,
            user_username VARCHAR(50) NOT NULL,
            friend_username VARCHAR(50) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS ` + friends + `_user_id_idx ON ` + friends + ` (user_id)`,
		`CREATE INDEX IF NOT EXISTS ` + friends + `_friend_id_idx ON ` + friends + ` (friend_id)`,

		`CREATE TABLE IF NOT EXISTS ` + requests + ` (
            id TEXT PRIMARY KEY,
            sender_id TEXT NOT NULL REFERENCES ` + users + `(id) ON DELETE CASCADE,
            receiver_id TEXT NOT NULL REFERENCES ` + users + `(id) ON DELETE CASCADE,
            sender_username VARCHAR(50) NOT NULL,
            receiver_username VARCHAR(50) NOT NULL,
            status VARCHAR(10) CHECK (status IN ('PENDING', 'ACCEPTED')) DEFAULT 'PENDING',
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            participant1_id TEXT NOT NULL,
            participant2_id TEXT NOT NULL,
            last_message_text TEXT,
            last_message_timestamp TIMESTAMPTZ,
            last_message_sender_id TEXT,
            unread_count_user1 INT,
            unread_count_user2 INT,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS conversations_p1_idx ON conversations (participant1_id)`,
		`CREATE INDEX IF NOT EXISTS conversations_p2_idx ON conversations (participant2_id)`,

		// No FK to conversations: the message row is inserted before the
		// summary upsert in the same transaction. DeleteConversation removes both.
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL,
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            content TEXT NOT NULL,
            timestamp TIMESTAMPTZ NOT NULL,
            status VARCHAR(10) CHECK (status IN ('sent', 'delivered')) DEFAULT 'sent'
        )`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, timestamp DESC)`,

		`CREATE OR REPLACE FUNCTION notify_table_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify(TG_ARGV[0], json_build_object(
                'table', TG_TABLE_NAME,
                'kind', CASE TG_OP WHEN 'INSERT' THEN 'INSERT' WHEN 'UPDATE' THEN 'MODIFY' ELSE 'REMOVE' END,
                'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
                'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END
            )::text);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql`,
	}

	for _, table := range []string{users, friends, requests} {
		queries = append(queries,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_change ON %s`, table, table),
			fmt.Sprintf(`CREATE TRIGGER %s_change AFTER INSERT OR UPDATE OR DELETE ON %s
            FOR EACH ROW EXECUTE FUNCTION notify_table_change('%s')`, table, table, notifyChannel),
		)
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
