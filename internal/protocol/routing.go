package protocol

// Route describes how a Communication Manager should deliver a Message,
// derived purely from its envelope fields.
type Route struct {
	// Targeted is true when the message must go to exactly one agent.
	Targeted bool
	// TargetID is set when Targeted is true.
	TargetID string
	// BroadcastByCategory is true for target-absent Alert/Update messages,
	// which must be delivered to every subscriber matching a category filter
	// supplied by the publisher.
	BroadcastByCategory bool
}

// Resolve derives the routing rule for m. A target-present message always
// routes to that single agent regardless of kind. A target-absent Alert or
// Update is a broadcast candidate; any other target-absent kind has no
// well-defined route and is left to the caller to reject.
func Resolve(m Message) Route {
	if m.ReceiverID != "" {
		return Route{Targeted: true, TargetID: m.ReceiverID}
	}
	if m.Kind == KindAlert || m.Kind == KindUpdate {
		return Route{BroadcastByCategory: true}
	}
	return Route{}
}

// ValidateResponse reports whether resp correctly references request: it
// must carry the original request id and the same correlation id.
func ValidateResponse(request, resp Message) bool {
	if resp.Kind != KindResponse {
		return false
	}
	if resp.RequestID != request.ID {
		return false
	}
	return resp.CorrelationID == request.CorrelationID
}
