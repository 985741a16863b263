package worker

import "fmt"

// PanicError is returned for a task that panicked
type PanicError struct {
	TaskID string
	Value  interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Value)
}
