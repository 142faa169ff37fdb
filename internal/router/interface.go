package router

import (
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/matcher"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/rule"
)

// Registrar binds plugins to event types.
type Registrar interface {
	// OnEvent returns a new Matcher receiving events of type t (and its
	// descendants) for owner, gated by rules and ordered by priority among
	// the owner's other Matchers for t.
	OnEvent(owner plugin.Info, t event.Type, priority int, rules ...rule.Rule) *matcher.Matcher
}
