// Command spectramerge joins RNA-Seq expression, hyperspectral reflectance and
// fieldbook metadata tables and writes one CSV per transcript.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"spectramerge/internal/merge"
)

// Exit statuses.
const (
	exitOK        = 0
	exitFailure   = 1
	exitInputRead = 3
	exitSchema    = 4
	exitWrite     = 5
)

var exitFunc = os.Exit

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "spectramerge: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps a run error onto the documented exit status.
func exitCode(err error) int {
	var (
		readErr   *merge.InputReadError
		schemaErr *merge.SchemaError
		writeErr  *merge.WriteError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &readErr):
		return exitInputRead
	case errors.As(err, &schemaErr):
		return exitSchema
	case errors.As(err, &writeErr):
		return exitWrite
	default:
		return exitFailure
	}
}
