package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StartupErrorFile is the name of the file written by WriteStartupErrorFile.
const StartupErrorFile = "startup-error.log"

// WriteStartupErrorFile records a startup failure in logDir so that it is
// visible when the logger is not initialized yet, e.g. a launchd job whose
// configuration does not parse. The file is overwritten on each call so that
// only the most recent error is kept. It returns the file path.
func WriteStartupErrorFile(logDir string, err error, args []string) (string, error) {
	if mkErr := os.MkdirAll(logDir, 0755); mkErr != nil {
		return "", mkErr
	}

	path := filepath.Join(logDir, StartupErrorFile)
	f, ferr := os.Create(path)
	if ferr != nil {
		return "", ferr
	}
	defer f.Close()

	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] STARTUP ERROR\n", ts)
	if len(args) > 0 {
		fmt.Fprintf(f, "command: %s\n", strings.Join(args, " "))
	}
	fmt.Fprintf(f, "%v\n", err)
	return path, nil
}
