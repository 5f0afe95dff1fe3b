/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package build

import "fmt"

var (
	Major    = 0
	Minor    = 1
	Revision = 0

	// Overridden by release builds with -ldflags "-X .../build.Version=...".
	Version = fmt.Sprintf("%d.%d.%d", Major, Minor, Revision)
)
