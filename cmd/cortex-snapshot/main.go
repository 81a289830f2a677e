// Command cortex-snapshot is a smoke-test binary: with --snapshot it
// prints an empty registry snapshot JSON and exits 0 without standing
// up a swarm, identity, or Control API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cortexmesh/cortex-id/internal/registry"
)

func main() {
	snapshot := flag.Bool("snapshot", false, "print an empty registry snapshot and exit")
	flag.Parse()

	if !*snapshot {
		fmt.Fprintln(os.Stderr, "usage: cortex-snapshot --snapshot")
		os.Exit(1)
	}

	reg := registry.New()
	data, err := reg.SnapshotJSON(time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "rendering snapshot failed:", err)
		os.Exit(1)
	}

	fmt.Println(string(data))
	os.Exit(0)
}
