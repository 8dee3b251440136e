package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/temirov/ctxload/internal/orchestrator"
)

const progressLineFormat = "\rIndexing %d/%d files"

// progressReporter returns a progress line on stderr when stderr is a terminal.
func (app *application) progressReporter() orchestrator.ProgressFunc {
	stderrFile, isFile := app.stderr().(*os.File)
	if !isFile || !term.IsTerminal(int(stderrFile.Fd())) {
		return nil
	}
	return newProgressLine(stderrFile)
}

// newProgressLine rewrites a single line of writer whenever the completed
// percentage changes and ends the line once every file is done.
func newProgressLine(writer io.Writer) orchestrator.ProgressFunc {
	lastPercent := -1
	return func(completed int, total int) {
		percent := 100
		if total > 0 {
			percent = completed * 100 / total
		}
		if percent == lastPercent && completed != total {
			return
		}
		lastPercent = percent
		fmt.Fprintf(writer, progressLineFormat, completed, total)
		if completed == total {
			fmt.Fprintln(writer)
		}
	}
}
