package blivedm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// PopularityTag is the tag of commands synthesized from popularity packets.
const PopularityTag = "_popularity"

// Command is one decoded event from the stream. Tag is the command name
// ("DANMU_MSG", "SEND_GIFT", ...); Payload is the whole decoded JSON object.
type Command struct {
	Tag     string
	Payload map[string]any

	raw json.RawMessage
}

// UnmarshalPayload decodes the command body into the provided value.
func (c Command) UnmarshalPayload(v any) error {
	if c.raw == nil {
		if c.Payload == nil {
			return errors.New("command has no payload")
		}
		b, err := json.Marshal(c.Payload)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, v)
	}
	return json.Unmarshal(c.raw, v)
}

// Raw returns the undecoded JSON body, or nil for synthesized commands.
func (c Command) Raw() json.RawMessage {
	return c.raw
}

// Dispatch turns a decoded packet into at most one Command. Popularity
// packets become a PopularityTag command; plain packets must hold a JSON
// object, whose "cmd" field up to the first ':' is the tag. A JSON object
// without a tag yields no command.
func Dispatch(p Packet) (Command, bool, error) {
	switch p.Version {
	case ProtoPopularity:
		return popularityCommand(p.Payload)
	case ProtoPlain:
	default:
		return Command{}, false, newProtocolError(ErrCodeBadVersion, "dispatch of "+p.Version.String()+" packet", nil)
	}

	var body map[string]any
	if err := json.Unmarshal(p.Payload, &body); err != nil {
		return Command{}, false, newProtocolError(ErrCodeBadPayload, "message body", err)
	}

	cmd, _ := body["cmd"].(string)
	if cmd == "" {
		return Command{}, false, nil
	}
	tag, _, _ := strings.Cut(cmd, ":")

	return Command{
		Tag:     tag,
		Payload: body,
		raw:     json.RawMessage(p.Payload),
	}, true, nil
}

func popularityCommand(payload []byte) (Command, bool, error) {
	v, err := Popularity(payload)
	if err != nil {
		return Command{}, false, err
	}
	return Command{
		Tag:     PopularityTag,
		Payload: map[string]any{"value": v},
	}, true, nil
}

// generateID returns a new unique client ID.
func generateID() string {
	return uuid.New().String()
}
