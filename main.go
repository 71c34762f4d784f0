package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/soocke/qrdial-go/failure"
)

// reportedError marks an error the notification sink already showed.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func handleCmdError(err error) {
	var r reportedError
	if errors.As(err, &r) {
		return
	}
	fmt.Fprintln(os.Stderr, "Error: "+failure.Message(err))
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}
