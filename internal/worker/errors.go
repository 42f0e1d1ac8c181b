package worker

import "errors"

var errNativeCompileWithExecution = errors.New("worker: a worker advertising native compilation must not also advertise execution")
