package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/types"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	stdout   io.Writer
	stderr   io.Writer
	warnings []types.CLIWarning
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:   format,
		quiet:    quiet,
		verbose:  verbose,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		warnings: []types.CLIWarning{},
	}
}

func newOutput() *OutputWriter {
	return NewOutputWriter(globalFlags.OutputFormat, globalFlags.Quiet, globalFlags.Verbose)
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	if w.format == types.OutputFormatTable {
		w.flushWarnings()
		return w.writeTable(data)
	}
	return w.writeJSON(types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          data,
		Warnings:      w.warnings,
		Errors:        []types.CLIError{},
	})
}

// WriteResult writes data alongside the error of a command that partly
// succeeded, such as a batch with failed paths.
func (w *OutputWriter) WriteResult(command string, data interface{}, cliErr types.CLIError) error {
	if w.format == types.OutputFormatTable {
		w.flushWarnings()
		if err := w.writeTable(data); err != nil {
			return err
		}
		w.printError(cliErr)
		return nil
	}
	return w.writeJSON(types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          data,
		Warnings:      w.warnings,
		Errors:        []types.CLIError{cliErr},
	})
}

// WriteError writes an error result
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	if w.format == types.OutputFormatTable {
		w.flushWarnings()
		w.printError(cliErr)
		return nil
	}
	return w.writeJSON(types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          nil,
		Warnings:      w.warnings,
		Errors:        []types.CLIError{cliErr},
	})
}

func (w *OutputWriter) printError(cliErr types.CLIError) {
	fmt.Fprintf(w.stderr, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	if action, ok := cliErr.Context["suggestedAction"]; ok {
		fmt.Fprintf(w.stderr, "Hint: %v\n", action)
	}
	if paths, ok := cliErr.Context["failedPaths"].([]string); ok {
		for _, p := range paths {
			fmt.Fprintf(w.stderr, "  failed: %s\n", p)
		}
	}
}

func (w *OutputWriter) flushWarnings() {
	for _, warn := range w.warnings {
		fmt.Fprintf(w.stderr, "Warning: %s\n", warn.Message)
	}
	w.warnings = w.warnings[:0]
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeTable(data interface{}) error {
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	// no table form
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(w.stdout, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(w.stdout)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// reportedError carries a failure that was already written to the output,
// so Execute only has to turn it into an exit code.
type reportedError struct {
	cliErr types.CLIError
}

func (e *reportedError) Error() string {
	return fmt.Sprintf("%s: %s", e.cliErr.Code, e.cliErr.Message)
}

// fail writes err as the command's error envelope.
func (w *OutputWriter) fail(command string, err error) error {
	cliErr := wserrors.ToCLIError(err)
	logger.Error("Command failed", logging.F("command", command), logging.F("code", cliErr.Code), logging.F("error", err.Error()))
	if writeErr := w.WriteError(command, cliErr); writeErr != nil {
		return writeErr
	}
	return &reportedError{cliErr: cliErr}
}

// finish writes data and, when err is set, the error next to it.
func (w *OutputWriter) finish(command string, data interface{}, err error) error {
	if err == nil {
		return w.WriteSuccess(command, data)
	}
	cliErr := wserrors.ToCLIError(err)
	logger.Warn("Command finished with errors", logging.F("command", command), logging.F("code", cliErr.Code))
	if writeErr := w.WriteResult(command, data, cliErr); writeErr != nil {
		return writeErr
	}
	return &reportedError{cliErr: cliErr}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
