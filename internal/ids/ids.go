package ids

import "github.com/segmentio/ksuid"

// New returns a K-sortable unique id suitable for primary keys.
func New() string {
	return ksuid.New().String()
}
