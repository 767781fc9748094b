package replay

import "errors"

// ErrInvalidOrdering is returned when the source yields a block at a height
// other than the one requested.
var ErrInvalidOrdering = errors.New("blocks are not in height order")
