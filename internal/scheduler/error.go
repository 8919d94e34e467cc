package scheduler

import "errors"

var ErrAlreadyRunning = errors.New("job is already running")
