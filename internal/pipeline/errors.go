package pipeline

import "errors"

// ErrStateConflict is returned when a state save loses a CAS race against
// a concurrent mutation (spec §4.2 step 5).
var ErrStateConflict = errors.New("state_conflict")
