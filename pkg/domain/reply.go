package domain

// ReplyKind tags the CommandReply variant.
type ReplyKind int

const (
	ReplyPong ReplyKind = iota + 1
	ReplyEphemeral
	ReplyAttachment
	ReplyError
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyPong:
		return "pong"
	case ReplyEphemeral:
		return "ephemeral"
	case ReplyAttachment:
		return "attachment"
	case ReplyError:
		return "error"
	default:
		return "invalid"
	}
}

// Attachment is a generated text file sent alongside a public reply.
type Attachment struct {
	Filename    string
	Description string
	Content     []byte
}

// CommandReply is the single outcome produced for an interaction.
//
// Text is the chat message for ReplyEphemeral and ReplyAttachment and the
// error message for ReplyError. Status is only set for ReplyError.
type CommandReply struct {
	Kind       ReplyKind
	Text       string
	Attachment *Attachment
	Status     int
}

// Pong acknowledges a handshake.
func Pong() CommandReply {
	return CommandReply{Kind: ReplyPong}
}

// Ephemeral is a chat message only the invoking user sees.
func Ephemeral(text string) CommandReply {
	return CommandReply{Kind: ReplyEphemeral, Text: text}
}

// PublicWithAttachment is a channel message carrying one file.
func PublicWithAttachment(text string, attachment Attachment) CommandReply {
	return CommandReply{Kind: ReplyAttachment, Text: text, Attachment: &attachment}
}

// ErrorReply is a bare protocol-level error with no chat message.
func ErrorReply(status int, message string) CommandReply {
	return CommandReply{Kind: ReplyError, Text: message, Status: status}
}
