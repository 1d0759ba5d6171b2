package ids

import "github.com/google/uuid"

// New returns "<prefix>_<uuid v4>". Random v4 ids stay unique across
// processes, which the nanosecond clock does not guarantee.
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
