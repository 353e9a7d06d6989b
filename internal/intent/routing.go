package intent

import (
	"sort"

	"github.com/brendan721/flipsync-agents/internal/registry"
)

// categoryForIntent maps a classified intent to its primary target category.
var categoryForIntent = map[Intent]registry.Category{
	IntentMarketQuery:     registry.CategoryMarket,
	IntentAnalyticsQuery:  registry.CategorySpecialist,
	IntentLogisticsQuery:  registry.CategoryLogistics,
	IntentContentQuery:    registry.CategoryContent,
	IntentExecutiveQuery:  registry.CategoryExecutive,
	IntentInventoryCheck:  registry.CategoryLogistics,
	IntentInventoryUpdate: registry.CategoryLogistics,
	IntentGeneralQuery:    registry.CategoryUtility,
}

// compatibilityFallback lists, per primary category, the categories tried
// next if no healthy agent is available in the primary one.
var compatibilityFallback = map[registry.Category][]registry.Category{
	registry.CategoryMarket:     {registry.CategorySpecialist, registry.CategoryExecutive},
	registry.CategorySpecialist: {registry.CategoryMarket, registry.CategoryExecutive},
	registry.CategoryExecutive:  {registry.CategoryMarket, registry.CategorySpecialist},
	registry.CategoryLogistics:  {registry.CategoryExecutive},
	registry.CategoryContent:    {registry.CategoryExecutive},
}

// finalFallback is the last-resort category when nothing else is healthy.
const finalFallback = registry.CategoryUtility

// Loader reports an agent's current active-task load for the fewest-tasks
// selection rule shared with the task delegator and pipeline controller.
type Loader interface {
	ActiveTaskCount(agentID string) int
}

// SelectAgent picks a healthy, load-aware agent for the given intent,
// walking the compatibility fallback matrix and finally the general
// assistant category if nothing else is available.
func SelectAgent(reg *registry.Registry, loader Loader, in Intent) (registry.Agent, bool) {
	primary := categoryForIntent[in]
	if agent, ok := pickFromCategory(reg, loader, primary); ok {
		return agent, true
	}
	for _, fallback := range compatibilityFallback[primary] {
		if agent, ok := pickFromCategory(reg, loader, fallback); ok {
			return agent, true
		}
	}
	if primary != finalFallback {
		if agent, ok := pickFromCategory(reg, loader, finalFallback); ok {
			return agent, true
		}
	}
	return registry.Agent{}, false
}

func pickFromCategory(reg *registry.Registry, loader Loader, category registry.Category) (registry.Agent, bool) {
	candidates := reg.FindByType(category)
	var healthy []registry.Agent
	for _, a := range candidates {
		if a.Healthy() {
			healthy = append(healthy, a)
		}
	}
	if len(healthy) == 0 {
		return registry.Agent{}, false
	}
	sort.Slice(healthy, func(i, j int) bool {
		li, lj := loader.ActiveTaskCount(healthy[i].ID), loader.ActiveTaskCount(healthy[j].ID)
		if li != lj {
			return li < lj
		}
		return healthy[i].ID < healthy[j].ID
	})
	return healthy[0], true
}

// DetectHandoff compares the conversation's currently assigned agent against
// the newly selected target and, if they differ, builds the handoff context
// the downstream agent should receive.
func DetectHandoff(conv Conversation, target registry.Agent, reason string, confidence float64, recent []ChatMessage) (HandoffContext, bool) {
	if conv.AssignedAgentID == target.ID {
		return HandoffContext{}, false
	}
	return HandoffContext{
		From:                conv.AssignedAgentID,
		To:                  target.ID,
		Reason:              reason,
		IntentConfidence:    confidence,
		ConversationSummary: summarize(recent),
	}, true
}

func summarize(recent []ChatMessage) string {
	n := len(recent)
	if n > 3 {
		recent = recent[n-3:]
	}
	summary := ""
	for _, m := range recent {
		if summary != "" {
			summary += " | "
		}
		summary += string(m.Sender) + ": " + m.Content
	}
	return summary
}
