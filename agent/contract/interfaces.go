package contract

import "context"

// ClassifierResult is produced fresh per Classify call. SelectedAgent is nil
// when no agent matched.
type ClassifierResult struct {
	SelectedAgent Agent
	Confidence    float64
	// Raw is the backend's unparsed output, if the classifier kept it.
	Raw string
}

type Classifier interface {
	SetAgents(agents []Agent)
	Classify(ctx context.Context, input string, history []Message) (ClassifierResult, error)
}
