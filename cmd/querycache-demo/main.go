// Command querycache-demo walks through the query client against an
// in-memory user repository: request deduplication, staleness, optimistic
// mutations with rollback, snapshots and repository queries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
