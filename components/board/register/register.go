// Package register registers all relevant boards.
package register

import (
	// for boards.
	_ "github.com/gitsim/gitsim/components/board/cdev"
	_ "github.com/gitsim/gitsim/components/board/fake"
	_ "github.com/gitsim/gitsim/components/board/genericlinux"
	_ "github.com/gitsim/gitsim/components/board/rpio"
)
