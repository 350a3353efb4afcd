package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

func validateDeviceStatus(status string) error {
	switch status {
	case DeviceStatusApproved, DeviceStatusBlocked:
		return nil
	default:
		return fmt.Errorf("invalid device status %q", status)
	}
}

// AddDevice inserts a new device row.
func (s *Store) AddDevice(device Device) error {
	if device.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if device.DeviceName == "" {
		return errors.New("device_name is required")
	}
	if err := validateDeviceStatus(device.Status); err != nil {
		return err
	}
	if device.AddedTimestamp == 0 {
		device.AddedTimestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO devices (
			device_id,
			device_name,
			status,
			added_timestamp,
			last_seen_timestamp,
			last_known_addr
		) VALUES (?, ?, ?, ?, ?, ?)`,
		device.DeviceID,
		device.DeviceName,
		device.Status,
		device.AddedTimestamp,
		nullInt64(device.LastSeenTimestamp),
		nullString(device.LastKnownAddr),
	)
	if err != nil {
		return fmt.Errorf("insert device %q: %w", device.DeviceID, err)
	}

	return nil
}

// GetDevice fetches a device by ID. Returns (nil, nil) when unknown.
func (s *Store) GetDevice(deviceID string) (*Device, error) {
	row := s.db.QueryRow(
		`SELECT
			device_id,
			device_name,
			status,
			added_timestamp,
			last_seen_timestamp,
			last_known_addr
		FROM devices
		WHERE device_id = ?`,
		deviceID,
	)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query device %q: %w", deviceID, err)
	}
	return device, nil
}

// ListDevices returns all device records ordered by name.
func (s *Store) ListDevices() ([]Device, error) {
	rows, err := s.db.Query(
		`SELECT
			device_id,
			device_name,
			status,
			added_timestamp,
			last_seen_timestamp,
			last_known_addr
		FROM devices
		ORDER BY device_name, device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}

// SetDeviceStatus updates a device's approval status.
func (s *Store) SetDeviceStatus(deviceID, status string) error {
	if err := validateDeviceStatus(status); err != nil {
		return err
	}

	result, err := s.db.Exec(
		`UPDATE devices SET status = ? WHERE device_id = ?`,
		status, deviceID,
	)
	if err != nil {
		return fmt.Errorf("update device %q status: %w", deviceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update device %q status: %w", deviceID, err)
	}
	if affected == 0 {
		return fmt.Errorf("device %q not found", deviceID)
	}
	return nil
}

// TouchDevice records a sighting of a device at an address.
func (s *Store) TouchDevice(deviceID, addr string) error {
	_, err := s.db.Exec(
		`UPDATE devices
		SET last_seen_timestamp = ?, last_known_addr = COALESCE(?, last_known_addr)
		WHERE device_id = ?`,
		nowUnixMilli(), nullString(addr), deviceID,
	)
	if err != nil {
		return fmt.Errorf("touch device %q: %w", deviceID, err)
	}
	return nil
}

// RemoveDevice deletes a device record.
func (s *Store) RemoveDevice(deviceID string) error {
	if _, err := s.db.Exec(`DELETE FROM devices WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete device %q: %w", deviceID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var device Device
	var lastSeen sql.NullInt64
	var lastAddr sql.NullString

	if err := row.Scan(
		&device.DeviceID,
		&device.DeviceName,
		&device.Status,
		&device.AddedTimestamp,
		&lastSeen,
		&lastAddr,
	); err != nil {
		return nil, err
	}

	device.LastSeenTimestamp = lastSeen.Int64
	device.LastKnownAddr = lastAddr.String
	return &device, nil
}
