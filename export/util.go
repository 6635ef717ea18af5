package export

import (
	"fmt"
	"os"
)

// formatMode renders permission bits as the octal string the manifest
// schema expects.
func formatMode(mode os.FileMode) string {
	return fmt.Sprintf("%04o", uint32(mode.Perm()))
}
