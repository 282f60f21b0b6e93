package blockstore

import "errors"

// ErrNoSpace is returned by Allocate when the image has no free blocks left.
var ErrNoSpace = errors.New("blockstore: no free blocks")
