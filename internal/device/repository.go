package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository defines the interface for device state persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Save inserts or replaces the persisted record for one device.
	Save(ctx context.Context, state State) error

	// LoadAll returns every persisted device state.
	LoadAll(ctx context.Context) ([]State, error)
}

// SQLiteRepository implements Repository using the device_states table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save upserts the state keyed by device EUI. A write carrying a lower
// message count than the stored row is ignored, so a late flush can't
// move a device backwards.
func (r *SQLiteRepository) Save(ctx context.Context, state State) error {
	id := NormalizeID(state.DeviceID)
	if id == "" {
		return ErrInvalidDeviceID
	}

	fields := state.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	dataJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshalling decoded data: %w", err)
	}

	now := time.Now().UTC()
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO device_states (
			device_eui, device_name, device_profile, application_id, last_seen,
			decoded_data, message_count, rssi, snr, gateway_id, frequency,
			spreading_factor, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_eui) DO UPDATE SET
			device_name = excluded.device_name,
			device_profile = excluded.device_profile,
			application_id = excluded.application_id,
			last_seen = excluded.last_seen,
			decoded_data = excluded.decoded_data,
			message_count = excluded.message_count,
			rssi = excluded.rssi,
			snr = excluded.snr,
			gateway_id = excluded.gateway_id,
			frequency = excluded.frequency,
			spreading_factor = excluded.spreading_factor,
			updated_at = excluded.updated_at
		WHERE excluded.message_count >= device_states.message_count`

	_, err = r.db.ExecContext(ctx, query,
		id,
		state.DeviceName,
		state.DeviceProfile,
		state.ApplicationID,
		formatTime(state.LastSeen),
		string(dataJSON),
		state.MessageCount,
		nullableFloat(state.RSSI),
		nullableFloat(state.SNR),
		nullableString(state.GatewayID),
		nullableInt64(state.Frequency),
		nullableInt(state.SpreadingFactor),
		formatTime(createdAt),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrPersistence, id, err)
	}
	return nil
}

// LoadAll returns every persisted state ordered by device EUI.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]State, error) {
	query := `
		SELECT device_eui, device_name, device_profile, application_id, last_seen,
			decoded_data, message_count, rssi, snr, gateway_id, frequency,
			spreading_factor, created_at, updated_at
		FROM device_states
		ORDER BY device_eui`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying device states: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}

	return states, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanState scans one device_states row into a State.
func scanState(scanner rowScanner) (State, error) {
	var st State
	var lastSeen, dataJSON, createdAt, updatedAt string
	var rssi, snr sql.NullFloat64
	var gatewayID sql.NullString
	var frequency, sf sql.NullInt64

	err := scanner.Scan(
		&st.DeviceID,
		&st.DeviceName,
		&st.DeviceProfile,
		&st.ApplicationID,
		&lastSeen,
		&dataJSON,
		&st.MessageCount,
		&rssi,
		&snr,
		&gatewayID,
		&frequency,
		&sf,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return State{}, err
	}

	if rssi.Valid {
		st.RSSI = &rssi.Float64
	}
	if snr.Valid {
		st.SNR = &snr.Float64
	}
	if gatewayID.Valid {
		st.GatewayID = &gatewayID.String
	}
	if frequency.Valid {
		st.Frequency = &frequency.Int64
	}
	if sf.Valid {
		v := int(sf.Int64)
		st.SpreadingFactor = &v
	}

	var parseErr error
	if st.LastSeen, parseErr = parseTimestamp(lastSeen); parseErr != nil {
		return State{}, fmt.Errorf("parsing last_seen: %w", parseErr)
	}
	if st.CreatedAt, parseErr = parseTimestamp(createdAt); parseErr != nil {
		return State{}, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if st.UpdatedAt, parseErr = parseTimestamp(updatedAt); parseErr != nil {
		return State{}, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(dataJSON), &st.Fields); err != nil {
		return State{}, fmt.Errorf("unmarshalling decoded_data: %w", err)
	}
	if st.Fields == nil {
		st.Fields = map[string]any{}
	}

	return st, nil
}

// formatTime renders a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp accepts RFC3339 with or without fractional seconds and the
// space-separated layout older rows were written with.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateTime, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
