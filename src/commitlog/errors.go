package commitlog

import "fmt"

// StoreErrType classifies log store failures.
type StoreErrType uint32

const (
	// KeyNotFound means the key has no log.
	KeyNotFound StoreErrType = iota
	// PassedIndex means an offset pointed beyond the end of the log.
	PassedIndex
)

// StoreErr qualifies a store failure with the key and offset involved.
type StoreErr struct {
	key     string
	errType StoreErrType
	offset  int64
}

// NewStoreErr returns a StoreErr for key.
func NewStoreErr(key string, errType StoreErrType, offset int64) StoreErr {
	return StoreErr{
		key:     key,
		errType: errType,
		offset:  offset,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case PassedIndex:
		m = "Passed Index"
	}

	return fmt.Sprintf("%s, %d, %s", e.key, e.offset, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
