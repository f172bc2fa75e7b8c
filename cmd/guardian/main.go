package main

import (
	"errors"
	"fmt"
	"os"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
)

// exitConfig is EX_CONFIG from sysexits.h
const exitConfig = 78

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if guarderrors.CategoryOf(err) == guarderrors.ErrorCategoryConfiguration {
		return exitConfig
	}
	return 1
}

// exitError carries a specific process exit code
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
