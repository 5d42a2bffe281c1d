package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tradegate/internal/domain"
	"tradegate/internal/security/secretbox"
	"tradegate/internal/store"
)

type Store struct {
	db  *sql.DB
	box *secretbox.Box
}

// NewStore opens the database, creates any missing tables and seeds the
// settings singleton. box may be nil, in which case the broker token is
// stored as-is.
func NewStore(databaseURL string, defaults domain.ExecutionSettings, box *secretbox.Box) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, box: box}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.seedSettings(defaults); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return s, nil
}

func (s *Store) CreateIntent(intent domain.TradeIntent) domain.TradeIntent {
	now := time.Now().UTC()
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Status == "" {
		intent.Status = domain.IntentPending
	}
	if intent.CardState == "" {
		intent.CardState = domain.CardActive
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.Ticker = strings.ToUpper(intent.Ticker)
	intent.UpdatedAt = now
	_, _ = s.db.Exec(
		`insert into trade_intents(id, ticker, direction, confidence, strength, status, card_state, expires_at, created_at, updated_at)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		intent.ID,
		intent.Ticker,
		string(intent.Direction),
		intent.Confidence,
		intent.Strength,
		string(intent.Status),
		string(intent.CardState),
		intent.ExpiresAt,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	return intent
}

func (s *Store) GetIntent(id string) (domain.TradeIntent, error) {
	return s.intentRow(`select id, ticker, direction, confidence, strength, status, card_state, expires_at, created_at, updated_at
		 from trade_intents where id = $1`, id)
}

func (s *Store) SetIntentStatus(id string, status domain.IntentStatus, card domain.CardState) (domain.TradeIntent, error) {
	var res sql.Result
	var err error
	if card != "" {
		res, err = s.db.Exec(
			`update trade_intents set status = $2, card_state = $3, updated_at = now() where id = $1`,
			id, string(status), string(card),
		)
	} else {
		res, err = s.db.Exec(
			`update trade_intents set status = $2, updated_at = now() where id = $1`,
			id, string(status),
		)
	}
	if err != nil {
		return domain.TradeIntent{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.TradeIntent{}, store.ErrNotFound
	}
	return s.GetIntent(id)
}

func (s *Store) TouchIntent(id string) error {
	res, err := s.db.Exec(`update trade_intents set updated_at = now() where id = $1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) LiveIntentForTicker(ticker string, now time.Time) (domain.TradeIntent, error) {
	return s.intentRow(
		`select id, ticker, direction, confidence, strength, status, card_state, expires_at, created_at, updated_at
		 from trade_intents
		 where ticker = $1 and expires_at > $2 and status not in ('swiped_deny', 'cancelled')
		 order by updated_at desc
		 limit 1`,
		strings.ToUpper(ticker), now,
	)
}

func (s *Store) ListIntents(limit int) []domain.TradeIntent {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`select id, ticker, direction, confidence, strength, status, card_state, expires_at, created_at, updated_at
		 from trade_intents order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		return []domain.TradeIntent{}
	}
	defer rows.Close()

	out := make([]domain.TradeIntent, 0, limit)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			continue
		}
		out = append(out, intent)
	}
	return out
}

func (s *Store) DeleteIntentsBefore(cutoff time.Time) int {
	res, err := s.db.Exec(
		`delete from trade_intents
		 where updated_at < $1 and (status <> 'pending' or expires_at < $1)`,
		cutoff,
	)
	if err != nil {
		return 0
	}
	affected, _ := res.RowsAffected()
	return int(affected)
}

func (s *Store) CreateExecution(exec domain.Execution) domain.Execution {
	now := time.Now().UTC()
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.Status == "" {
		exec.Status = domain.ExecutionPending
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.Ticker = strings.ToUpper(exec.Ticker)
	exec.UpdatedAt = now
	_, _ = s.db.Exec(
		`insert into executions(id, ticker, order_action, quantity, limit_price, delay_expires_at, intent_id, status, error_message, raw_payload, created_at, updated_at)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		exec.ID,
		exec.Ticker,
		string(exec.OrderAction),
		exec.Quantity,
		exec.LimitPrice,
		exec.DelayExpiresAt,
		nullString(exec.IntentID),
		string(exec.Status),
		exec.ErrorMessage,
		exec.RawPayload,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	return exec
}

func (s *Store) GetExecution(id string) (domain.Execution, error) {
	row := s.db.QueryRow(
		`select id, ticker, order_action, quantity, limit_price, delay_expires_at, intent_id, status, executed_at, error_message, raw_payload, created_at, updated_at
		 from executions where id = $1`,
		id,
	)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Execution{}, store.ErrNotFound
		}
		return domain.Execution{}, err
	}
	return exec, nil
}

func (s *Store) DueExecutions(now time.Time, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`select id, ticker, order_action, quantity, limit_price, delay_expires_at, intent_id, status, executed_at, error_message, raw_payload, created_at, updated_at
		 from executions
		 where status = 'pending' and delay_expires_at <= $1
		 order by delay_expires_at asc
		 limit $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Execution, 0, 16)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *Store) PendingExecutionCount() int {
	var n int
	if err := s.db.QueryRow(`select count(*) from executions where status = 'pending'`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *Store) LinkExecutionIntent(executionID, intentID string) error {
	res, err := s.db.Exec(
		`update executions set intent_id = $2, updated_at = now() where id = $1`,
		executionID, nullString(intentID),
	)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkExecutionExecuted(id string, executedAt time.Time) (domain.Execution, error) {
	return s.transition(id,
		`update executions set status = 'executed', executed_at = $2, updated_at = now()
		 where id = $1 and status = 'pending'`,
		executedAt)
}

func (s *Store) MarkExecutionCancelled(id, reason string) (domain.Execution, error) {
	return s.transition(id,
		`update executions set status = 'cancelled', error_message = $2, updated_at = now()
		 where id = $1 and status = 'pending'`,
		reason)
}

func (s *Store) MarkExecutionFailed(id, reason string) (domain.Execution, error) {
	return s.transition(id,
		`update executions set status = 'failed', error_message = $2, updated_at = now()
		 where id = $1 and status = 'pending'`,
		reason)
}

// transition runs one conditional pending->terminal update; zero affected
// rows means either a missing record or a record that already went terminal.
func (s *Store) transition(id, query string, arg interface{}) (domain.Execution, error) {
	res, err := s.db.Exec(query, id, arg)
	if err != nil {
		return domain.Execution{}, err
	}
	affected, _ := res.RowsAffected()
	exec, getErr := s.GetExecution(id)
	if affected == 0 {
		if getErr != nil {
			return domain.Execution{}, store.ErrNotFound
		}
		return exec, store.ErrConflict
	}
	return exec, getErr
}

func (s *Store) RecordExecutionError(id, message string) error {
	res, err := s.db.Exec(
		`update executions set error_message = $2, updated_at = now() where id = $1`,
		id, message,
	)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListExecutions(limit int) []domain.Execution {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`select id, ticker, order_action, quantity, limit_price, delay_expires_at, intent_id, status, executed_at, error_message, raw_payload, created_at, updated_at
		 from executions order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		return []domain.Execution{}
	}
	defer rows.Close()

	out := make([]domain.Execution, 0, limit)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			continue
		}
		out = append(out, exec)
	}
	return out
}

func (s *Store) DeleteExecutionsBefore(cutoff time.Time) int {
	res, err := s.db.Exec(
		`delete from executions where updated_at < $1 and status <> 'pending'`,
		cutoff,
	)
	if err != nil {
		return 0
	}
	affected, _ := res.RowsAffected()
	return int(affected)
}

func (s *Store) CreatePosition(position domain.Position) domain.Position {
	if position.ID == "" {
		position.ID = uuid.NewString()
	}
	if position.OpenedAt.IsZero() {
		position.OpenedAt = time.Now().UTC()
	}
	position.Ticker = strings.ToUpper(position.Ticker)
	_, _ = s.db.Exec(
		`insert into positions(id, ticker, side, quantity, entry_price, opened_at)
		 values ($1,$2,$3,$4,$5,$6)`,
		position.ID,
		position.Ticker,
		string(position.Side),
		position.Quantity,
		position.EntryPrice,
		position.OpenedAt,
	)
	return position
}

func (s *Store) OpenPositionForTicker(ticker string) (domain.Position, error) {
	row := s.db.QueryRow(
		`select id, ticker, side, quantity, entry_price, opened_at, closed_at
		 from positions
		 where ticker = $1 and closed_at is null
		 order by opened_at desc
		 limit 1`,
		strings.ToUpper(ticker),
	)
	return scanPosition(row)
}

func (s *Store) OpenPositionCount() int {
	var n int
	if err := s.db.QueryRow(`select count(*) from positions where closed_at is null`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *Store) SetPositionQuantity(id string, quantity float64) (domain.Position, error) {
	res, err := s.db.Exec(
		`update positions set quantity = $2 where id = $1 and closed_at is null`,
		id, quantity,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.positionConflict(id)
	}
	return s.getPosition(id)
}

func (s *Store) ClosePosition(id string, closedAt time.Time) (domain.Position, error) {
	res, err := s.db.Exec(
		`update positions set closed_at = $2 where id = $1 and closed_at is null`,
		id, closedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.positionConflict(id)
	}
	return s.getPosition(id)
}

func (s *Store) positionConflict(id string) (domain.Position, error) {
	position, err := s.getPosition(id)
	if err != nil {
		return domain.Position{}, store.ErrNotFound
	}
	return position, store.ErrConflict
}

func (s *Store) getPosition(id string) (domain.Position, error) {
	row := s.db.QueryRow(
		`select id, ticker, side, quantity, entry_price, opened_at, closed_at from positions where id = $1`,
		id,
	)
	return scanPosition(row)
}

func (s *Store) ListPositions(includeClosed bool, limit int) []domain.Position {
	if limit <= 0 {
		limit = 50
	}
	query := `select id, ticker, side, quantity, entry_price, opened_at, closed_at
		 from positions where closed_at is null order by opened_at desc limit $1`
	if includeClosed {
		query = `select id, ticker, side, quantity, entry_price, opened_at, closed_at
		 from positions order by opened_at desc limit $1`
	}
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return []domain.Position{}
	}
	defer rows.Close()

	out := make([]domain.Position, 0, limit)
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			continue
		}
		out = append(out, position)
	}
	return out
}

func (s *Store) GetGate(ticker string) (domain.TickerGate, error) {
	row := s.db.QueryRow(
		`select ticker, enabled, blocked_until, updated_at from ticker_gates where ticker = $1`,
		strings.ToUpper(ticker),
	)
	return scanGate(row)
}

func (s *Store) SetGateEnabled(ticker string, enabled bool) domain.TickerGate {
	ticker = strings.ToUpper(ticker)
	now := time.Now().UTC()
	_, _ = s.db.Exec(
		`insert into ticker_gates(ticker, enabled, blocked_until, updated_at)
		 values ($1, $2, null, $3)
		 on conflict (ticker) do update
		 set enabled = excluded.enabled,
		     blocked_until = null,
		     updated_at = excluded.updated_at`,
		ticker, enabled, now,
	)
	return domain.TickerGate{Ticker: ticker, Enabled: enabled, UpdatedAt: now}
}

func (s *Store) SetGateCooldown(ticker string, until time.Time) domain.TickerGate {
	ticker = strings.ToUpper(ticker)
	now := time.Now().UTC()
	_, _ = s.db.Exec(
		`insert into ticker_gates(ticker, enabled, blocked_until, updated_at)
		 values ($1, true, $2, $3)
		 on conflict (ticker) do update
		 set blocked_until = excluded.blocked_until,
		     updated_at = excluded.updated_at`,
		ticker, until, now,
	)
	gate, err := s.GetGate(ticker)
	if err != nil {
		return domain.TickerGate{Ticker: ticker, Enabled: true, BlockedUntil: until, UpdatedAt: now}
	}
	return gate
}

// ClearCooldown nulls the timed block only; enabled is untouched so an
// indefinite manual block survives the sweep.
func (s *Store) ClearCooldown(ticker string) error {
	res, err := s.db.Exec(
		`update ticker_gates set blocked_until = null, updated_at = now() where ticker = $1`,
		strings.ToUpper(ticker),
	)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExpiredCooldowns(now time.Time) []domain.TickerGate {
	rows, err := s.db.Query(
		`select ticker, enabled, blocked_until, updated_at
		 from ticker_gates
		 where blocked_until is not null and blocked_until <= $1
		 order by ticker asc`,
		now,
	)
	if err != nil {
		return []domain.TickerGate{}
	}
	defer rows.Close()

	out := make([]domain.TickerGate, 0, 4)
	for rows.Next() {
		gate, err := scanGate(rows)
		if err != nil {
			continue
		}
		out = append(out, gate)
	}
	return out
}

func (s *Store) TimedBlockCount() int {
	var n int
	if err := s.db.QueryRow(`select count(*) from ticker_gates where blocked_until is not null`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *Store) ListGates() []domain.TickerGate {
	rows, err := s.db.Query(`select ticker, enabled, blocked_until, updated_at from ticker_gates order by ticker asc`)
	if err != nil {
		return []domain.TickerGate{}
	}
	defer rows.Close()

	out := make([]domain.TickerGate, 0, 16)
	for rows.Next() {
		gate, err := scanGate(rows)
		if err != nil {
			continue
		}
		out = append(out, gate)
	}
	return out
}

func (s *Store) ReviveAllGates() int {
	res, err := s.db.Exec(
		`update ticker_gates set enabled = true, blocked_until = null, updated_at = now()
		 where enabled = false or blocked_until is not null`,
	)
	if err != nil {
		return 0
	}
	affected, _ := res.RowsAffected()
	return int(affected)
}

func (s *Store) GetSettings() (domain.ExecutionSettings, error) {
	var settings domain.ExecutionSettings
	var mode, tokenEnc string
	err := s.db.QueryRow(
		`select execution_mode, delay_seconds, broker_url, broker_token_enc, updated_at
		 from execution_settings where id = 1`,
	).Scan(&mode, &settings.DelaySeconds, &settings.BrokerURL, &tokenEnc, &settings.UpdatedAt)
	if err != nil {
		return domain.ExecutionSettings{}, err
	}
	settings.Mode = domain.ExecutionMode(mode)
	settings.BrokerToken = tokenEnc
	if s.box != nil && tokenEnc != "" {
		plain, err := s.box.Decrypt(tokenEnc)
		if err != nil {
			return domain.ExecutionSettings{}, fmt.Errorf("decrypt broker token: %w", err)
		}
		settings.BrokerToken = plain
	}
	return settings, nil
}

func (s *Store) SaveSettings(settings domain.ExecutionSettings) domain.ExecutionSettings {
	settings.UpdatedAt = time.Now().UTC()
	stored := settings.BrokerToken
	if s.box != nil && stored != "" {
		if enc, err := s.box.Encrypt(stored); err == nil {
			stored = enc
		}
	}
	_, _ = s.db.Exec(
		`insert into execution_settings(id, execution_mode, delay_seconds, broker_url, broker_token_enc, updated_at)
		 values (1, $1, $2, $3, $4, $5)
		 on conflict (id) do update
		 set execution_mode = excluded.execution_mode,
		     delay_seconds = excluded.delay_seconds,
		     broker_url = excluded.broker_url,
		     broker_token_enc = excluded.broker_token_enc,
		     updated_at = excluded.updated_at`,
		string(settings.Mode),
		settings.DelaySeconds,
		settings.BrokerURL,
		stored,
		settings.UpdatedAt,
	)
	return settings
}

func (s *Store) ListModeWindows() []domain.ModeWindow {
	rows, err := s.db.Query(
		`select id, label, days, start_at, end_at, mode, priority
		 from mode_windows order by priority desc, id asc`,
	)
	if err != nil {
		return []domain.ModeWindow{}
	}
	defer rows.Close()

	out := make([]domain.ModeWindow, 0, 8)
	for rows.Next() {
		var w domain.ModeWindow
		var mode string
		var days []int64
		if err := rows.Scan(&w.ID, &w.Label, pq.Array(&days), &w.Start, &w.End, &mode, &w.Priority); err != nil {
			continue
		}
		w.Mode = domain.ExecutionMode(mode)
		w.Days = make([]int, 0, len(days))
		for _, d := range days {
			w.Days = append(w.Days, int(d))
		}
		out = append(out, w)
	}
	return out
}

func (s *Store) ReplaceModeWindows(windows []domain.ModeWindow) []domain.ModeWindow {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return s.ListModeWindows()
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`delete from mode_windows`); err != nil {
		return s.ListModeWindows()
	}
	for i := range windows {
		if windows[i].ID == "" {
			windows[i].ID = uuid.NewString()
		}
		days := make([]int64, 0, len(windows[i].Days))
		for _, d := range windows[i].Days {
			days = append(days, int64(d))
		}
		if _, err := tx.Exec(
			`insert into mode_windows(id, label, days, start_at, end_at, mode, priority)
			 values ($1,$2,$3,$4,$5,$6,$7)`,
			windows[i].ID,
			windows[i].Label,
			pq.Array(days),
			windows[i].Start,
			windows[i].End,
			string(windows[i].Mode),
			windows[i].Priority,
		); err != nil {
			return s.ListModeWindows()
		}
	}
	_ = tx.Commit()
	return s.ListModeWindows()
}

func (s *Store) AppendWebhookLog(entry domain.WebhookLog) domain.WebhookLog {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, _ = s.db.Exec(
		`insert into webhook_logs(id, source, payload, status, reason, created_at)
		 values ($1,$2,$3,$4,$5,$6)`,
		entry.ID, entry.Source, entry.Payload, string(entry.Status), entry.Reason, entry.CreatedAt,
	)
	return entry
}

func (s *Store) ListWebhookLogs(limit int) []domain.WebhookLog {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, source, payload, status, reason, created_at
		 from webhook_logs order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		return []domain.WebhookLog{}
	}
	defer rows.Close()

	out := make([]domain.WebhookLog, 0, limit)
	for rows.Next() {
		var entry domain.WebhookLog
		var status string
		if err := rows.Scan(&entry.ID, &entry.Source, &entry.Payload, &status, &entry.Reason, &entry.CreatedAt); err != nil {
			continue
		}
		entry.Status = domain.WebhookStatus(status)
		out = append(out, entry)
	}
	return out
}

func (s *Store) DeleteWebhookLogsBefore(cutoff time.Time) int {
	res, err := s.db.Exec(`delete from webhook_logs where created_at < $1`, cutoff)
	if err != nil {
		return 0
	}
	affected, _ := res.RowsAffected()
	return int(affected)
}

func (s *Store) AppendEvent(eventType domain.EventType, ticker string, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Ticker:    strings.ToUpper(ticker),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, _ := json.Marshal(payload)
	_, _ = s.db.Exec(
		`insert into events(id, event_type, ticker, payload, created_at)
		 values ($1, $2, $3, $4::jsonb, $5)`,
		event.ID, string(eventType), event.Ticker, string(raw), event.CreatedAt,
	)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, event_type, ticker, payload, created_at
		 from events order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var e domain.Event
		var eventType string
		var payloadRaw []byte
		if err := rows.Scan(&e.ID, &eventType, &e.Ticker, &payloadRaw, &e.CreatedAt); err != nil {
			continue
		}
		e.Type = domain.EventType(eventType)
		_ = json.Unmarshal(payloadRaw, &e.Payload)
		if e.Payload == nil {
			e.Payload = map[string]interface{}{}
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) DeleteEventsBefore(cutoff time.Time) int {
	res, err := s.db.Exec(`delete from events where created_at < $1`, cutoff)
	if err != nil {
		return 0
	}
	affected, _ := res.RowsAffected()
	return int(affected)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) intentRow(query string, args ...interface{}) (domain.TradeIntent, error) {
	intent, err := scanIntent(s.db.QueryRow(query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TradeIntent{}, store.ErrNotFound
		}
		return domain.TradeIntent{}, err
	}
	return intent, nil
}

func scanIntent(row scanner) (domain.TradeIntent, error) {
	var intent domain.TradeIntent
	var direction, status, card string
	err := row.Scan(
		&intent.ID,
		&intent.Ticker,
		&direction,
		&intent.Confidence,
		&intent.Strength,
		&status,
		&card,
		&intent.ExpiresAt,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	intent.Direction = domain.OrderAction(direction)
	intent.Status = domain.IntentStatus(status)
	intent.CardState = domain.CardState(card)
	return intent, nil
}

func scanExecution(row scanner) (domain.Execution, error) {
	var exec domain.Execution
	var action, status string
	var intentID sql.NullString
	var executedAt sql.NullTime
	err := row.Scan(
		&exec.ID,
		&exec.Ticker,
		&action,
		&exec.Quantity,
		&exec.LimitPrice,
		&exec.DelayExpiresAt,
		&intentID,
		&status,
		&executedAt,
		&exec.ErrorMessage,
		&exec.RawPayload,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	exec.OrderAction = domain.OrderAction(action)
	exec.Status = domain.ExecutionStatus(status)
	exec.IntentID = intentID.String
	if executedAt.Valid {
		exec.ExecutedAt = executedAt.Time
	}
	return exec, nil
}

func scanPosition(row scanner) (domain.Position, error) {
	var position domain.Position
	var side string
	var closedAt sql.NullTime
	err := row.Scan(
		&position.ID,
		&position.Ticker,
		&side,
		&position.Quantity,
		&position.EntryPrice,
		&position.OpenedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, store.ErrNotFound
		}
		return domain.Position{}, err
	}
	position.Side = domain.PositionSide(side)
	if closedAt.Valid {
		position.ClosedAt = closedAt.Time
	}
	return position, nil
}

func scanGate(row scanner) (domain.TickerGate, error) {
	var gate domain.TickerGate
	var blockedUntil sql.NullTime
	err := row.Scan(&gate.Ticker, &gate.Enabled, &blockedUntil, &gate.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TickerGate{}, store.ErrNotFound
		}
		return domain.TickerGate{}, err
	}
	if blockedUntil.Valid {
		gate.BlockedUntil = blockedUntil.Time
	}
	return gate, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
