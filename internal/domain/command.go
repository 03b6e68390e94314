package domain

// Command is one remote-control request from a transport (chat bot, CLI, HTTP).
type Command struct {
	ID     string
	Name   string
	Args   []string
	Caller string
}

// CommandResult is returned to the transport after handling a Command.
type CommandResult struct {
	Success      bool   `json:"success"`
	StateChanged bool   `json:"state_changed"`
	Action       string `json:"action"`
	Message      string `json:"message"`
}
