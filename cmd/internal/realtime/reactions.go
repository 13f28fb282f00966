package realtime

// allowedReactions is the emoji allow-list for toggle-reaction.
// Order is stable for deterministic listings.
var allowedReactions = []string{"👍", "❤️", "😂", "🔥", "👏", "😮"}

var allowedReactionSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(allowedReactions))
	for _, e := range allowedReactions {
		m[e] = struct{}{}
	}
	return m
}()

// IsAllowedReaction reports whether emoji is in the reaction allow-list.
func IsAllowedReaction(emoji string) bool {
	_, ok := allowedReactionSet[emoji]
	return ok
}

// AllowedReactions returns the reaction allow-list in stable order.
func AllowedReactions() []string {
	return append([]string(nil), allowedReactions...)
}
