package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/wateraudit/internal/logging"
)

// Exit codes by failure kind.
const (
	exitCodeCredential = 2
	exitCodeBadInput   = 3
	exitCodeAPIError   = 4
	exitCodeBadOutput  = 5
)

// exitError carries a process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var (
	configPath string
	verbose    bool
	flushLogs  func()
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and returns the process exit code. Logs are
// flushed on every path, including failed runs.
func execute(args []string, stdout, stderr io.Writer) int {
	defer func() {
		if flushLogs != nil {
			flushLogs()
			flushLogs = nil
		}
	}()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintln(stderr, errorStyle.Render("✗ "+err.Error()))
		return code
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wateraudit",
		Short:         "Audit a water photo for visible contamination and write a safety report",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			flush, err := logging.Init(verbose)
			if err != nil {
				return err
			}
			flushLogs = flush
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newReportCmd(), newOptionsCmd())
	return root
}
