package intent

import "strings"

// workflowTrigger maps a catalog of trigger phrases to the pipeline
// template they launch and the agent categories the acknowledgement
// message names as participants.
type workflowTrigger struct {
	phrase       string
	templateID   string
	participants []string
}

var workflowTriggers = []workflowTrigger{
	{"analyze this product", "full_marketplace_cycle", []string{"Executive", "Content", "Market", "Logistics"}},
	{"optimize my listing", "content_generation", []string{"Executive", "Content", "Market"}},
	{"help me decide", "pricing_update", []string{"Executive", "Market"}},
	{"pricing strategy", "pricing_update", []string{"Executive", "Market"}},
	{"market research", "content_generation", []string{"Executive", "Content", "Market"}},
	{"sync my inventory", "inventory_sync", []string{"Executive", "Market", "Logistics"}},
}

// DetectWorkflowTrigger returns the first matching trigger, if any, for a
// case-insensitive substring match of text against the trigger catalog.
func DetectWorkflowTrigger(text string) (workflowTrigger, bool) {
	lower := strings.ToLower(text)
	for _, trig := range workflowTriggers {
		if strings.Contains(lower, trig.phrase) {
			return trig, true
		}
	}
	return workflowTrigger{}, false
}

// AcknowledgementText builds the immediate reply sent back to the
// conversation when a workflow trigger fires, naming its participants and a
// rough time estimate.
func AcknowledgementText(trig workflowTrigger) string {
	return "I'll analyze this with agents " + strings.Join(trig.participants, ", ") + "; estimated 30-60 seconds."
}
