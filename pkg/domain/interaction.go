package domain

import (
	"encoding/json"
	"errors"
)

// Interaction and channel type codes as delivered by the platform.
const (
	interactionTypePing               = 1
	interactionTypeApplicationCommand = 2

	channelTypeDM      = 1
	channelTypeGroupDM = 3
)

// InteractionKind classifies an authenticated interaction.
type InteractionKind int

const (
	// InteractionUnsupported covers every interaction type the webhook does not handle.
	InteractionUnsupported InteractionKind = iota
	// InteractionHandshake is the platform's ping.
	InteractionHandshake
	// InteractionCommand is a slash command invocation.
	InteractionCommand
)

func (k InteractionKind) String() string {
	switch k {
	case InteractionHandshake:
		return "handshake"
	case InteractionCommand:
		return "command"
	default:
		return "unsupported"
	}
}

// ChannelKind is the coarse channel classification used by the scope policy.
type ChannelKind int

const (
	ChannelGuild ChannelKind = iota
	ChannelDirectMessage
	ChannelGroupDirectMessage
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelDirectMessage:
		return "dm"
	case ChannelGroupDirectMessage:
		return "group_dm"
	default:
		return "guild"
	}
}

// ChannelRef identifies where a command was invoked. Name is empty when the
// platform did not send one.
type ChannelRef struct {
	Kind ChannelKind
	Name string
}

// Interaction is a parsed inbound event. Command and Channel are only
// meaningful when Kind is InteractionCommand.
type Interaction struct {
	Kind    InteractionKind
	Type    int
	Command string
	Channel ChannelRef
}

// Handshake returns a ping interaction.
func Handshake() Interaction {
	return Interaction{Kind: InteractionHandshake, Type: interactionTypePing}
}

// CommandInvocation returns a slash command interaction.
func CommandInvocation(name string, channel ChannelRef) Interaction {
	return Interaction{
		Kind:    InteractionCommand,
		Type:    interactionTypeApplicationCommand,
		Command: name,
		Channel: channel,
	}
}

type wireInteraction struct {
	Type int `json:"type"`
	Data *struct {
		Name string `json:"name"`
	} `json:"data"`
	Channel *struct {
		Type int    `json:"type"`
		Name string `json:"name"`
	} `json:"channel"`
}

// ParseInteraction decodes an interaction body. It must only be called on
// bytes that have already been authenticated; errors wrap ErrMalformedPayload.
func ParseInteraction(body []byte) (Interaction, error) {
	var wire wireInteraction
	if err := json.Unmarshal(body, &wire); err != nil {
		return Interaction{}, NewMalformedPayloadError(err)
	}

	switch wire.Type {
	case interactionTypePing:
		return Handshake(), nil
	case interactionTypeApplicationCommand:
		if wire.Data == nil || wire.Data.Name == "" {
			return Interaction{}, NewMalformedPayloadError(errors.New("command interaction without data.name"))
		}
		channel := ChannelRef{Kind: ChannelGuild}
		if wire.Channel != nil {
			channel.Name = wire.Channel.Name
			switch wire.Channel.Type {
			case channelTypeDM:
				channel.Kind = ChannelDirectMessage
			case channelTypeGroupDM:
				channel.Kind = ChannelGroupDirectMessage
			}
		}
		return CommandInvocation(wire.Data.Name, channel), nil
	default:
		return Interaction{Kind: InteractionUnsupported, Type: wire.Type}, nil
	}
}
