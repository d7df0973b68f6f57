// Package types provides the value types shared across sponsor packages.
package types

import "time"

// Entity carries creation and update timestamps.
// Embed this in persisted domain types.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a new Entity with current timestamps.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt creates an Entity stamped with the given time.
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// Touch updates the UpdatedAt timestamp to now.
func (e *Entity) Touch() {
	e.TouchAt(time.Now())
}

// TouchAt updates the UpdatedAt timestamp to t.
func (e *Entity) TouchAt(t time.Time) {
	e.UpdatedAt = t.UTC()
}

// Age returns how long ago the entity was created.
func (e Entity) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// IsStale returns true if the entity hasn't been updated in the specified duration.
func (e Entity) IsStale(staleDuration time.Duration) bool {
	return time.Since(e.UpdatedAt) > staleDuration
}
