package types

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	Profile      string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	Config       string
	LogFile      string
	Root         string
	JSON         bool
}

// CLIOutput is the JSON envelope written for every command.
type CLIOutput struct {
	SchemaVersion string       `json:"schemaVersion"`
	TraceID       string       `json:"traceId"`
	Command       string       `json:"command"`
	Data          interface{}  `json:"data"`
	Warnings      []CLIWarning `json:"warnings"`
	Errors        []CLIError   `json:"errors"`
}

type CLIWarning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// CLIError is the stable, machine-readable error shape.
type CLIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"httpStatus,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

type TableRenderer interface {
	Headers() []string
	Rows() [][]string
	EmptyMessage() string
}

type TableRenderable interface {
	AsTableRenderer() TableRenderer
}
