package sponsor

import "github.com/xraph/sponsor/id"

// ID is the primary identifier type for bills and users.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
