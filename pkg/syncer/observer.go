package syncer

// Outcome classifies what happened to a message.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeApplied   Outcome = "applied"
	OutcomeQueued    Outcome = "queued"
	OutcomeStale     Outcome = "stale"
	OutcomeEcho      Outcome = "echo"
	OutcomeForeign   Outcome = "foreign"
	OutcomeFailed    Outcome = "failed"
)

// Event describes one observed message.
type Event struct {
	Key     string
	Area    string
	Origin  string
	Version uint64
	Outcome Outcome
}

// Observer receives sync outcomes. Implementations must not block.
type Observer interface {
	ObserveSync(Event)
}

// ObserverFunc allows plain functions to satisfy Observer.
type ObserverFunc func(Event)

func (fn ObserverFunc) ObserveSync(event Event) {
	if fn != nil {
		fn(event)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveSync(Event) {}
