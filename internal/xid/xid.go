package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed unique id such as "sale-5f0c...". Time-ordered
// UUIDv7 is used so ids sort roughly by creation.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
