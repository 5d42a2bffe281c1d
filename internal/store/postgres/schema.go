package postgres

import "tradegate/internal/domain"

var schemaStatements = []string{
	`create table if not exists trade_intents (
		id uuid primary key,
		ticker text not null,
		direction text not null,
		confidence double precision not null default 0,
		strength double precision not null default 0,
		status text not null,
		card_state text not null,
		expires_at timestamptz not null,
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
	`create index if not exists trade_intents_live_idx on trade_intents (ticker, updated_at desc)`,
	`create table if not exists executions (
		id uuid primary key,
		ticker text not null,
		order_action text not null,
		quantity double precision not null,
		limit_price double precision not null default 0,
		delay_expires_at timestamptz not null,
		intent_id uuid,
		status text not null,
		executed_at timestamptz,
		error_message text not null default '',
		raw_payload text not null default '',
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
	`create index if not exists executions_due_idx on executions (status, delay_expires_at)`,
	`create table if not exists positions (
		id uuid primary key,
		ticker text not null,
		side text not null,
		quantity double precision not null,
		entry_price double precision not null,
		opened_at timestamptz not null,
		closed_at timestamptz
	)`,
	`create index if not exists positions_open_idx on positions (ticker) where closed_at is null`,
	`create table if not exists ticker_gates (
		ticker text primary key,
		enabled boolean not null default true,
		blocked_until timestamptz,
		updated_at timestamptz not null
	)`,
	`create table if not exists execution_settings (
		id integer primary key,
		execution_mode text not null,
		delay_seconds integer not null,
		broker_url text not null default '',
		broker_token_enc text not null default '',
		updated_at timestamptz not null,
		constraint execution_settings_singleton check (id = 1)
	)`,
	`create table if not exists mode_windows (
		id uuid primary key,
		label text not null default '',
		days integer[] not null,
		start_at text not null,
		end_at text not null,
		mode text not null,
		priority integer not null default 0
	)`,
	`create table if not exists webhook_logs (
		id uuid primary key,
		source text not null,
		payload text not null,
		status text not null,
		reason text not null default '',
		created_at timestamptz not null
	)`,
	`create index if not exists webhook_logs_created_idx on webhook_logs (created_at desc)`,
	`create table if not exists events (
		id uuid primary key,
		event_type text not null,
		ticker text not null default '',
		payload jsonb not null default '{}'::jsonb,
		created_at timestamptz not null
	)`,
	`create index if not exists events_created_idx on events (created_at desc)`,
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedSettings inserts the singleton row once; an existing row wins so a
// restart never clobbers operator changes.
func (s *Store) seedSettings(defaults domain.ExecutionSettings) error {
	stored := defaults.BrokerToken
	if s.box != nil && stored != "" {
		if enc, err := s.box.Encrypt(stored); err == nil {
			stored = enc
		}
	}
	_, err := s.db.Exec(
		`insert into execution_settings(id, execution_mode, delay_seconds, broker_url, broker_token_enc, updated_at)
		 values (1, $1, $2, $3, $4, now())
		 on conflict (id) do nothing`,
		string(defaults.Mode),
		defaults.DelaySeconds,
		defaults.BrokerURL,
		stored,
	)
	return err
}
