package profile

import (
	"github.com/quadracode/quadracode/runtime/mail"
)

type (
	// OrchestratorPolicy is the default orchestrator routing. Replies follow
	// reply_to when given; the human is looped back in once non-human work
	// is complete, and is the fallback when nothing else is addressed.
	OrchestratorPolicy struct{}

	// AutonomousOrchestratorPolicy consults the payload's autonomous
	// directive instead of always looping the human back in. The human is
	// only addressed when the directive asks for delivery or escalation, or
	// when the list would otherwise be empty.
	AutonomousOrchestratorPolicy struct{}

	// AgentPolicy is the worker-agent routing. Agents always answer their
	// caller, never address the human directly, and always keep the
	// orchestrator in the loop.
	AgentPolicy struct{}
)

// ResolveRecipients implements the default orchestrator routing.
func (OrchestratorPolicy) ResolveRecipients(env mail.Envelope, payload map[string]any) []string {
	human := humanFor(payload)
	replyTo := ReplyTo(payload)

	list := seedRecipients(replyTo, env.Sender, false, human)
	if len(replyTo) > 0 {
		// Reply paths are exclusive: an explicit reply_to overrides the
		// human fallback.
		list = remove(list, human)
	}
	if env.Sender != human || len(replyTo) > 0 {
		list = ensure(list, human)
	}
	return list
}

// ResolveRecipients implements the autonomous orchestrator routing.
func (AutonomousOrchestratorPolicy) ResolveRecipients(env mail.Envelope, payload map[string]any) []string {
	human := humanFor(payload)

	list := seedRecipients(ReplyTo(payload), env.Sender, false, human)
	directive := ParseDirective(payload["autonomous"])
	includeHuman := directive.DeliverToHuman || directive.Escalate

	nonHuman := remove(list, human)
	switch {
	case len(nonHuman) > 0:
		if includeHuman {
			nonHuman = ensure(nonHuman, human)
		}
		return nonHuman
	case includeHuman:
		return []string{human}
	default:
		// Empty list with no delivery requested: fall back to the human so
		// the in-flight work is never dropped.
		return []string{human}
	}
}

// ResolveRecipients implements the worker-agent routing.
func (AgentPolicy) ResolveRecipients(env mail.Envelope, payload map[string]any) []string {
	list := seedRecipients(ReplyTo(payload), env.Sender, true, OrchestratorRecipient)
	list = remove(list, HumanRecipient)
	if supervisor := supervisorOf(payload); supervisor != "" {
		list = remove(list, supervisor)
	}
	return ensure(list, OrchestratorRecipient)
}

// ReplyTo extracts the explicit recipient override from a payload. A string
// yields a one-element list; a list yields its string elements with empty
// entries dropped. Anything else yields nil.
func ReplyTo(payload map[string]any) []string {
	switch v := payload["reply_to"].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// seedRecipients implements the shared seeding steps: reply_to first, then
// the sender when the policy includes it, then the fallback, de-duplicated
// preserving first-seen order.
func seedRecipients(replyTo []string, sender string, includeSender bool, fallback string) []string {
	list := append([]string(nil), replyTo...)
	if len(list) == 0 && includeSender && sender != "" {
		list = append(list, sender)
	}
	if len(list) == 0 {
		list = append(list, fallback)
	}
	return dedupe(list)
}

// humanFor returns the effective human identity for an envelope: the
// payload's supervisor override when present, the deployment constant
// otherwise.
func humanFor(payload map[string]any) string {
	if supervisor := supervisorOf(payload); supervisor != "" {
		return supervisor
	}
	return HumanRecipient
}

func supervisorOf(payload map[string]any) string {
	s, _ := payload["supervisor"].(string)
	return s
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, r := range list {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func remove(list []string, target string) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}

func ensure(list []string, target string) []string {
	for _, r := range list {
		if r == target {
			return list
		}
	}
	return append(list, target)
}
