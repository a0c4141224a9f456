// Package event defines the inbound chat event envelope and its structural
// validation. The transport layer parses request bodies into an Envelope;
// everything downstream assumes a validated envelope.
package event

import (
	"teamdigest/internal/apperrors"
)

// Reaction is an emoji reaction attached to a message.
type Reaction struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// MessageRef carries the fields of an edited or deleted message as delivered
// inside message_changed / message_deleted subtypes.
type MessageRef struct {
	Channel  string `json:"channel,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	User     string `json:"user,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ItemRef points at the message a reaction event targets.
type ItemRef struct {
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// Inner is the event payload nested inside the envelope.
type Inner struct {
	Type            string      `json:"type"`
	Subtype         string      `json:"subtype,omitempty"`
	Channel         string      `json:"channel,omitempty"`
	User            string      `json:"user,omitempty"`
	Text            string      `json:"text,omitempty"`
	TS              string      `json:"ts,omitempty"`
	ThreadTS        string      `json:"thread_ts,omitempty"`
	Reactions       []Reaction  `json:"reactions,omitempty"`
	Message         *MessageRef `json:"message,omitempty"`
	PreviousMessage *MessageRef `json:"previous_message,omitempty"`
	Item            *ItemRef    `json:"item,omitempty"`
	Reaction        string      `json:"reaction,omitempty"`
	DeletedTS       string      `json:"deleted_ts,omitempty"`
}

// Envelope is the raw inbound event as delivered by the chat platform.
type Envelope struct {
	EventID   string `json:"event_id"`
	EventTime int64  `json:"event_time,omitempty"`
	EventTS   string `json:"event_ts,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	Type      string `json:"type"`
	Event     Inner  `json:"event"`
}

const (
	TypeMessage         = "message"
	TypeReactionAdded   = "reaction_added"
	TypeReactionRemoved = "reaction_removed"

	SubtypeMessageChanged = "message_changed"
	SubtypeMessageDeleted = "message_deleted"
)

// RootTS resolves the thread root for a plain message event: a reply carries
// thread_ts, a root message starts its own thread at ts.
func (e *Inner) RootTS() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// Validate rejects structurally incomplete envelopes before any persistence.
func (env *Envelope) Validate() error {
	if env.EventID == "" {
		return apperrors.Validation("event_id is required")
	}
	if env.Event.Type == "" {
		return apperrors.Validation("event.type is required")
	}
	switch env.Event.Type {
	case TypeMessage:
		switch env.Event.Subtype {
		case SubtypeMessageChanged:
			if env.Event.Message == nil || env.Event.Message.TS == "" {
				return apperrors.Validation("message_changed requires event.message.ts")
			}
		case SubtypeMessageDeleted:
			if env.Event.DeletedTS == "" && (env.Event.PreviousMessage == nil || env.Event.PreviousMessage.TS == "") {
				return apperrors.Validation("message_deleted requires deleted_ts or previous_message.ts")
			}
		default:
			if env.Event.Channel == "" || env.Event.TS == "" {
				return apperrors.Validation("message requires event.channel and event.ts")
			}
		}
	case TypeReactionAdded, TypeReactionRemoved:
		if env.Event.Reaction == "" {
			return apperrors.Validation("reaction events require event.reaction")
		}
		if env.Event.Item == nil || env.Event.Item.Channel == "" || env.Event.Item.TS == "" {
			return apperrors.Validation("reaction events require event.item.channel and event.item.ts")
		}
	default:
		return apperrors.Validation("unsupported event type %q", env.Event.Type)
	}
	return nil
}

// HasReaction reports whether any reaction with the given name is attached.
func (e *Inner) HasReaction(name string) bool {
	for _, r := range e.Reactions {
		if r.Name == name {
			return true
		}
	}
	return false
}
