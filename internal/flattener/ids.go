package flattener

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out record identifiers. Implementations must be safe
// for concurrent use and never repeat an ID within a run.
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator returns random version 4 UUIDs as 32 lowercase hex digits
type UUIDGenerator struct{}

// NextID implements IDGenerator
func (UUIDGenerator) NextID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SequenceGenerator returns zero-padded hex counters starting at 1. IDs are
// unique within one generator only.
type SequenceGenerator struct {
	n atomic.Uint64
}

// NextID implements IDGenerator
func (s *SequenceGenerator) NextID() string {
	return fmt.Sprintf("%032x", s.n.Add(1))
}
