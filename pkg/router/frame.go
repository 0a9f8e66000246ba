package router

// Frame is one data-channel message: the routed, multipart envelope of
// §4.2/§6.3 — `[routing_token, node_id, command, payload]`.
type Frame struct {
	RoutingToken string
	NodeID       string
	Command      Command
	Payload      []byte
}

// Command is one of the three data-channel commands (§4.2).
type Command string

const (
	CommandJob    Command = "job"
	CommandUpdate Command = "update"
	CommandError  Command = "error"
)

// NeedUpdateSentinel is the literal payload sent on the "job" channel when
// a job is postponed because the worker has a pending update to send
// first (§4.5, §6.3).
const NeedUpdateSentinel = "NEED_UPDATE"
