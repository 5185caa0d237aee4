// Package all is a meta-package that imports all store implementations.
//
// Import it for side effects wherever the full backend registry is needed.
package all

import (
	_ "github.com/uvensys/linkgate/lib/store/bbolt"
	_ "github.com/uvensys/linkgate/lib/store/memory"
	_ "github.com/uvensys/linkgate/lib/store/valkey"
)
