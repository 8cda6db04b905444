// Package main is surveyctl, a command-line tool for checking survey plan
// files before they are uploaded.
//
//	surveyctl validate -plans plans.yaml
//	surveyctl eval -plans plans.yaml -event purchase -value 3
//	surveyctl eval -plans plans.yaml -page pricing -mode all
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

const usage = `usage:
  surveyctl validate -plans FILE
  surveyctl eval -plans FILE (-event NAME [-value V] | -page NAME) [-mode any|all]
`

var errUsage = errors.New("invalid usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		fs.SetOutput(errOut)
		cfg, perr := parseValidateConfig(fs, args[1:])
		if perr != nil {
			return exitCode(perr, errOut)
		}
		err = runValidate(cfg, out)
	case "eval":
		fs := flag.NewFlagSet("eval", flag.ContinueOnError)
		fs.SetOutput(errOut)
		cfg, perr := parseEvalConfig(fs, args[1:])
		if perr != nil {
			return exitCode(perr, errOut)
		}
		err = runEval(cfg, out, errOut)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(out, usage)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command %q\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

// exitCode reports a flag parsing failure. The flag package has already
// printed its own message for errors it produced.
func exitCode(err error, errOut io.Writer) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(errOut, "Error: %v\n%s", err, usage)
	}
	return 2
}
