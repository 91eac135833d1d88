package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered identifier such as PUR-0190f6c2-....
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d", strings.ToUpper(prefix), time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", strings.ToUpper(prefix), id.String())
}
