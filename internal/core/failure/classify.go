package failure

// Action is the recovery path chosen for a failed item.
type Action int

const (
	// ActionNone means there is nothing to recover.
	ActionNone Action = iota
	// ActionRedeliver keeps the item uncommitted and processes it again after a backoff.
	ActionRedeliver
	// ActionDeadLetter forwards the original item to the business dead-letter stream.
	ActionDeadLetter
	// ActionPersistCorrupt stores the raw payload and forwards it to the transport dead-letter stream.
	ActionPersistCorrupt
	// ActionPropagate surfaces the error to the caller as a system-level incident.
	ActionPropagate
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRedeliver:
		return "redeliver"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionPersistCorrupt:
		return "persist_corrupt"
	case ActionPropagate:
		return "propagate"
	default:
		return "unknown"
	}
}

// Classify maps an error to its recovery action. It depends only on the kind
// found in err's chain.
func Classify(err error) Action {
	if err == nil {
		return ActionNone
	}

	switch KindOf(err) {
	case KindDeserialization:
		return ActionPersistCorrupt
	case KindValidation, KindNotFound:
		return ActionDeadLetter
	case KindTransient, KindPublish:
		return ActionRedeliver
	default:
		// FatalProvider and anything unclassified.
		return ActionPropagate
	}
}
