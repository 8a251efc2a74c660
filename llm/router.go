package llm

// Tier labels map task kinds onto model price classes.
const (
	TierCheap     = "cheap"
	TierMid       = "mid"
	TierExpensive = "expensive"
)

// taskTiers routes task labels to tiers. Unknown labels default to mid.
var taskTiers = map[string]string{
	"intent_detection": TierCheap,
	"query_generation": TierCheap,
	"linking":          TierCheap,
	"summarization":    TierCheap,
	"extraction":       TierMid,
	"writing":          TierMid,
	"contradiction":    TierExpensive,
	"deep_reasoning":   TierExpensive,
}

// TierModels names one provider's model per tier.
type TierModels struct {
	Cheap     string
	Mid       string
	Expensive string
}

// Router picks the model name for a task label.
type Router struct {
	models TierModels
}

// NewRouter builds a router; empty tier names fall back to Mid.
func NewRouter(models TierModels) *Router {
	if models.Cheap == "" {
		models.Cheap = models.Mid
	}
	if models.Expensive == "" {
		models.Expensive = models.Mid
	}
	return &Router{models: models}
}

// TierForTask returns the tier for a task label, mid for unknown labels.
func TierForTask(task string) string {
	if tier, ok := taskTiers[task]; ok {
		return tier
	}
	return TierMid
}

// ModelForTask resolves a task label to a concrete model name.
func (r *Router) ModelForTask(task string) string {
	switch TierForTask(task) {
	case TierCheap:
		return r.models.Cheap
	case TierExpensive:
		return r.models.Expensive
	default:
		return r.models.Mid
	}
}
