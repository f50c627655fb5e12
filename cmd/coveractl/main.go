// Command coveractl administers the auth database: migrations, identities and module grants.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coveractl: %v\n", err)
		os.Exit(1)
	}
}
