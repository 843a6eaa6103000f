package registry

import (
	"bytes"

	"github.com/google/uuid"
)

var (
	servicePrefix = []byte("svc/")
	classPrefix   = []byte("cls/")
)

// serviceKey is svc/<class id>/<instance name>.
func serviceKey(classID uuid.UUID, name string) []byte {
	k := make([]byte, 0, len(servicePrefix)+len(classID)+1+len(name))
	k = append(k, servicePrefix...)
	k = append(k, classID[:]...)
	k = append(k, '/')
	return append(k, name...)
}

// serviceSpan returns the bounds covering one class, or every service when
// classID is uuid.Nil.
func serviceSpan(classID uuid.UUID) (lower, upper []byte) {
	if classID == uuid.Nil {
		return servicePrefix, prefixEnd(servicePrefix)
	}
	lower = serviceKey(classID, "")
	return lower, prefixEnd(lower)
}

func classKey(classID uuid.UUID) []byte {
	return append(bytes.Clone(classPrefix), classID[:]...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := bytes.Clone(p)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
