package writer

import "fmt"

// ChunkError reports a chunk whose writes could not be applied. The chunk was
// rolled back, every element in it was invalidated, and no later chunk was attempted.
type ChunkError struct {
	ScopeID int64
	Index   int
	Stage   string
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d of scope %d failed during %s: %v", e.Index, e.ScopeID, e.Stage, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
