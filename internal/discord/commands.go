package discord

import (
	"strings"
)

const commandPrefix = "!"

type command struct {
	name string
	args []string
}

// parseCommand reads "!name arg..." case-insensitively. Anything not
// starting with the prefix is not a command.
func parseCommand(content string) (command, bool) {
	fields := strings.Fields(content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], commandPrefix) {
		return command{}, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], commandPrefix))
	if name == "" {
		return command{}, false
	}
	return command{name: name, args: fields[1:]}, true
}

// devOnly commands are ignored unless the bot runs in dev mode.
var devOnly = map[string]bool{
	"add":      true,
	"subtract": true,
	"shutdown": true,
}
