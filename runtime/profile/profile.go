// Package profile defines the runtime roles and their routing policies. A
// profile fixes the base system prompt, the default identity and the policy
// that computes the ordered outbound recipient list for each inbound
// envelope. Profiles are immutable records; autonomous mode is a
// construction-time branch inside the orchestrator factory, not a separate
// profile.
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/quadracode/quadracode/runtime/mail"
)

// Deployment-wide fixed identities. Routing logic references these
// symbolically, never by string-match on user data.
const (
	// HumanRecipient is the supervising human identity.
	HumanRecipient = "human"
	// HumanCloneRecipient is the identity of the human's stand-in agent.
	HumanCloneRecipient = "human-clone"
	// OrchestratorRecipient is the orchestrator identity.
	OrchestratorRecipient = "orchestrator"
)

// Profile names accepted by Load.
const (
	NameOrchestrator = "orchestrator"
	NameAgent        = "agent"
)

// Environment variables probed by Load.
const (
	EnvMode           = "QUADRACODE_MODE"
	EnvAutonomousMode = "QUADRACODE_AUTONOMOUS_MODE"
	EnvHumanObsolete  = "HUMAN_OBSOLETE_MODE"
)

// ErrUnknownProfile is returned by Load for profile names it does not know.
var ErrUnknownProfile = errors.New("unknown profile")

type (
	// Policy computes the ordered recipient list for the response to an
	// inbound envelope. Implementations are pure functions of the envelope
	// and its decoded payload.
	Policy interface {
		ResolveRecipients(env mail.Envelope, payload map[string]any) []string
	}

	// Profile is an immutable runtime role record.
	Profile struct {
		// Name is the profile name as accepted by Load.
		Name string
		// DefaultIdentity is the identity claimed when QUADRACODE_ID is
		// unset.
		DefaultIdentity string
		// SystemPrompt is the base prompt framed into every graph
		// invocation.
		SystemPrompt string
		// Policy derives outbound recipients from inbound envelopes.
		Policy Policy
	}
)

const (
	orchestratorPrompt = "You are the orchestrator of a multi-agent runtime. " +
		"You receive work from the human and from worker agents, decide what " +
		"to do next, and delegate or answer. Keep responses actionable and " +
		"state clearly which agent should handle follow-up work."

	agentPrompt = "You are a worker agent in a multi-agent runtime. You " +
		"receive tasks from the orchestrator, complete them using the tools " +
		"available to you, and report results back. Never address the human " +
		"directly; the orchestrator relays your results."
)

// Load resolves a profile by name. "orchestrator" probes the autonomous-mode
// environment at call time and returns either the default or the autonomous
// routing variant; "agent" returns the agent profile. Any other name fails
// with ErrUnknownProfile.
func Load(name string) (Profile, error) {
	switch name {
	case NameOrchestrator:
		return Profile{
			Name:            NameOrchestrator,
			DefaultIdentity: OrchestratorRecipient,
			SystemPrompt:    orchestratorPrompt,
			Policy:          orchestratorPolicy(AutonomousModeEnabled()),
		}, nil
	case NameAgent:
		return Profile{
			Name:            NameAgent,
			DefaultIdentity: "agent",
			SystemPrompt:    agentPrompt,
			Policy:          AgentPolicy{},
		}, nil
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

func orchestratorPolicy(autonomous bool) Policy {
	if autonomous {
		return AutonomousOrchestratorPolicy{}
	}
	return OrchestratorPolicy{}
}

// AutonomousModeEnabled reports whether the environment selects the
// autonomous orchestrator routing variant. QUADRACODE_MODE triggers on the
// values "autonomous" or "human_obsolete" (case-insensitive); the dedicated
// flags trigger on the usual truthy values.
func AutonomousModeEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvMode))) {
	case "autonomous", "human_obsolete":
		return true
	}
	return Truthy(os.Getenv(EnvAutonomousMode)) || Truthy(os.Getenv(EnvHumanObsolete))
}

// Truthy reports whether a configuration value means "enabled": one of
// 1, true, yes or on, case-insensitive.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
