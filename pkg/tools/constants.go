package tools

// Tool name constants - use these instead of magic strings.
const (
	ToolRunTerminalCommand  = "run-terminal-command"
	ToolCreateOrUpdateFiles = "create-or-update-files"
	ToolReadFiles           = "read-files"
)

// Durable step names used by the tools. Renaming one breaks replay of runs
// recorded under the old name.
const (
	StepTerminal            = "terminal"
	StepCreateOrUpdateFiles = "create-or-update-files"
	StepReadFiles           = "readFiles"
)

// CodeAgentTools is the tool set of the coding agent, in advertisement order.
//
//nolint:gochecknoglobals // read-only list
var CodeAgentTools = []string{
	ToolRunTerminalCommand,
	ToolCreateOrUpdateFiles,
	ToolReadFiles,
}
