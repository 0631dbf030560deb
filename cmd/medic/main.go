// medic watches a fleet of autonomous agents and recovers the ones that stall.
package main

import (
	"os"

	"github.com/steveyegge/medic/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
