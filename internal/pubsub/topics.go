package pubsub

// DocUpdateTopic names the channel carrying serialized update deltas for one
// document.
func DocUpdateTopic(projectID, filePath string) string {
	return "doc-update:" + projectID + ":" + filePath
}

// TerminalOutputTopic names the channel carrying raw output chunks for one
// terminal.
func TerminalOutputTopic(projectID, terminalID string) string {
	return "terminal-output:" + projectID + ":" + terminalID
}
