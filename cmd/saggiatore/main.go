package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess     = 0 // Batch completed
	ExitBatchFailed = 1 // Batch finished failed or cancelled
	ExitError       = 2 // Configuration or runtime error
)

// BatchFailureError indicates that the run executed, but the batch ended
// failed or cancelled.
type BatchFailureError struct {
	Message string
}

func (e *BatchFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var batchErr *BatchFailureError
		if errors.As(err, &batchErr) {
			os.Exit(ExitBatchFailed)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
