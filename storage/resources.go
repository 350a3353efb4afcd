package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

func validateResourceKind(kind string) error {
	switch kind {
	case ResourceKindCollection, ResourceKindFlat:
		return nil
	default:
		return fmt.Errorf("invalid resource kind %q", kind)
	}
}

// RegisterResource ensures a row exists for a named resource. Existing
// rows keep their document and timestamp.
func (s *Store) RegisterResource(name, kind string) error {
	if name == "" {
		return errors.New("resource name is required")
	}
	if err := validateResourceKind(kind); err != nil {
		return err
	}

	document := `{}`
	if kind == ResourceKindCollection {
		document = `{"items":[],"updatedAt":0}`
	}

	_, err := s.db.Exec(
		`INSERT INTO resources (name, kind, document, updated_at)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(name) DO NOTHING`,
		name, kind, document,
	)
	if err != nil {
		return fmt.Errorf("register resource %q: %w", name, err)
	}
	return nil
}

// GetResource fetches a resource by name. Returns (nil, nil) when unknown.
func (s *Store) GetResource(name string) (*Resource, error) {
	row := s.db.QueryRow(
		`SELECT name, kind, document, updated_at FROM resources WHERE name = ?`,
		name,
	)

	var resource Resource
	if err := row.Scan(&resource.Name, &resource.Kind, &resource.Document, &resource.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query resource %q: %w", name, err)
	}
	return &resource, nil
}

// ListResources returns all registered resources ordered by name.
func (s *Store) ListResources() ([]Resource, error) {
	rows, err := s.db.Query(`SELECT name, kind, document, updated_at FROM resources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var resource Resource
		if err := rows.Scan(&resource.Name, &resource.Kind, &resource.Document, &resource.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}

	return resources, nil
}

// PutLocal stores a locally mutated document. Collection timestamps are
// monotonically non-decreasing: the new updatedAt is the later of now and
// the stored value. Flat resources carry no timestamp. The mutation hook
// fires after a successful write.
func (s *Store) PutLocal(name, document string) error {
	existing, err := s.GetResource(name)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("resource %q is not registered", name)
	}

	updatedAt := int64(0)
	if existing.Kind == ResourceKindCollection {
		updatedAt = nowUnixMilli()
		if updatedAt < existing.UpdatedAt {
			updatedAt = existing.UpdatedAt
		}
	}

	_, err = s.db.Exec(
		`UPDATE resources SET document = ?, updated_at = ? WHERE name = ?`,
		document, updatedAt, name,
	)
	if err != nil {
		return fmt.Errorf("put resource %q: %w", name, err)
	}

	s.notifyMutation(name)
	return nil
}

// ApplyRemote overwrites a resource with a remote replica's document and
// timestamp. The sync engine performs the timestamp comparison; this only
// stores. Remote applies do not fire the mutation hook, so a pulled
// change never re-triggers a push.
func (s *Store) ApplyRemote(name, document string, updatedAt int64) error {
	result, err := s.db.Exec(
		`UPDATE resources SET document = ?, updated_at = ? WHERE name = ?`,
		document, updatedAt, name,
	)
	if err != nil {
		return fmt.Errorf("apply remote resource %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply remote resource %q: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("resource %q is not registered", name)
	}
	return nil
}
