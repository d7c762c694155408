package metadata

import (
	"context"
	"database/sql"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// PutEntity registers an entity's parent in the ownership hierarchy (spec
// §5.2 "entity registry"), distinct from ACL tuples: used by the
// hierarchical "parent" relation rewrite rule to climb from a file to its
// owning workspace, tenant, or other containing object without a tuple for
// every ancestor link.
func (s *Store) PutEntity(ctx context.Context, e Entity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, entity_id, parent_type, parent_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET parent_type = excluded.parent_type, parent_id = excluded.parent_id`,
		e.EntityType, e.EntityID, e.ParentType, e.ParentID)
	if err != nil {
		return errtypes.Internal("put entity: " + err.Error())
	}
	return nil
}

// GetParent returns the registered parent of an entity, if any.
func (s *Store) GetParent(ctx context.Context, entityType, entityID string) (Entity, error) {
	var e Entity
	e.EntityType, e.EntityID = entityType, entityID
	row := s.db.QueryRowContext(ctx, `SELECT parent_type, parent_id FROM entities WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	if err := row.Scan(&e.ParentType, &e.ParentID); err != nil {
		if err == sql.ErrNoRows {
			return Entity{}, errtypes.NotFound(entityID)
		}
		return Entity{}, errtypes.Internal("get parent: " + err.Error())
	}
	return e, nil
}

// DeleteEntity removes an entity's hierarchy registration.
func (s *Store) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	if err != nil {
		return errtypes.Internal("delete entity: " + err.Error())
	}
	return nil
}
