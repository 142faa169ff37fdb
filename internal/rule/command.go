package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/message"
)

// DefaultCommandStart is used when a CommandSpec names no prefixes.
var DefaultCommandStart = []string{"/"}

// CommandSpec configures a command rule.
type CommandSpec struct {
	Command string
	Aliases []string
	// Prefixes are the command start strings. Nil means DefaultCommandStart.
	Prefixes []string
	// Reply allows the message to open with a reply segment.
	Reply bool
	// NoArgs requires the message to be exactly the command.
	NoArgs bool
}

type command struct {
	spec CommandSpec
}

// Command builds a rule matching chat commands. On a match it rewrites the
// message in place: the bot mention and the prefix are removed and an alias
// is replaced by the command name, so "/h extra" becomes "help extra".
func Command(spec CommandSpec) (Rule, error) {
	if spec.Prefixes == nil {
		spec.Prefixes = DefaultCommandStart
	}
	spec.Aliases = append([]string(nil), spec.Aliases...)
	spec.Prefixes = append([]string(nil), spec.Prefixes...)

	if spec.Command == "" {
		return Rule{}, fmt.Errorf("%w: command is empty", ErrInvalidRule)
	}
	for _, name := range append([]string{spec.Command}, spec.Aliases...) {
		if err := validateName(name, spec.Prefixes); err != nil {
			return Rule{}, err
		}
	}
	for _, alias := range spec.Aliases {
		if alias == spec.Command {
			return Rule{}, fmt.Errorf("%w: command %q cannot also be an alias", ErrInvalidRule, spec.Command)
		}
	}

	return Rule{kind: KindCommand, cmd: &command{spec: spec}}, nil
}

func validateName(name string, prefixes []string) error {
	if name == "" {
		return fmt.Errorf("%w: alias is empty", ErrInvalidRule)
	}
	if strings.ContainsAny(name, message.ReservedChars) {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidRule, name)
	}
	for _, p := range prefixes {
		if p != "" && strings.Contains(name, p) {
			return fmt.Errorf("%w: %q contains command prefix %q", ErrInvalidRule, name, p)
		}
	}
	return nil
}

// candidates lists every accepted message opening. A mention of the bot
// makes the prefix optional.
func (c *command) candidates(isAt bool) []string {
	s := c.spec
	out := make([]string, 0, len(s.Prefixes)*(1+len(s.Aliases))+1+len(s.Aliases))
	for _, p := range s.Prefixes {
		out = append(out, p+s.Command)
	}
	if isAt {
		out = append(out, s.Command)
		out = append(out, s.Aliases...)
	}
	for _, a := range s.Aliases {
		for _, p := range s.Prefixes {
			out = append(out, p+a)
		}
	}
	return out
}

func (c *command) match(ev event.Event) bool {
	msg, ok := ev.(*event.Message)
	if !ok {
		log.WithComponent("rule").Warn("event is not a message, cannot match command",
			"command", c.spec.Command, "event_type", ev.Type())
		return false
	}

	segments := msg.Message.Clone()

	var reply *message.Segment
	if c.spec.Reply && len(segments) > 0 && segments[0].Is(message.TypeReply) {
		reply = &segments[0]
		segments = segments[1:]
	}

	isAt := false
	self := strconv.FormatInt(msg.SelfID(), 10)
	if len(segments) > 0 && segments[0].Is(message.TypeAt) && segments[0].Data["qq"] == self {
		segments = segments[1:]
		isAt = true
	}

	text := strings.TrimLeft(segments.String(), " ")

	rewritten, ok := c.rewrite(text, c.candidates(isAt))
	if !ok {
		return false
	}

	out := message.Parse(rewritten)
	if reply != nil {
		out = append(message.Message{*reply}, out...)
	}
	msg.SetMessage(out)
	return true
}

// rewrite finds the longest candidate opening text and replaces it with the
// bare command name.
func (c *command) rewrite(text string, cands []string) (string, bool) {
	best := -1
	for i, cand := range cands {
		var hit bool
		if c.spec.NoArgs {
			hit = text == cand
		} else {
			hit = strings.HasPrefix(text, cand)
		}
		if hit && (best < 0 || len(cand) > len(cands[best])) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return c.spec.Command + text[len(cands[best]):], true
}
