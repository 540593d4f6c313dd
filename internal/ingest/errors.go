package ingest

import "fmt"

// PersistError wraps a bulk-insert or transaction failure. No rows are
// visible when it is returned: the whole relational transaction rolled back.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist records: %v", e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// HashError wraps a post-commit hashing or ledger failure. The content rows
// for the upload are already committed and stay committed; only the ledger
// entry is missing. Callers see this window, it is not hidden.
type HashError struct {
	Err error
}

func (e *HashError) Error() string { return fmt.Sprintf("record upload after commit: %v", e.Err) }
func (e *HashError) Unwrap() error { return e.Err }
