// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/luxfi/horizon/cmd/horizon-sim/sim"
)

func main() {
	if err := sim.Command().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "horizon-sim failed: %v\n", err)
		os.Exit(1)
	}
}
