package download

// State этап обработки запроса на загрузку.
type State int

// Этапы обработки. Rejected и Failed конечные состояния отказа.
const (
	StatePending State = iota
	StateAdmitted
	StateExtracting
	StateTransferring
	StateCompleted
	StateRejected
	StateFailed
)

var stateNames = map[State]string{
	StatePending:      "pending",
	StateAdmitted:     "admitted",
	StateExtracting:   "extracting",
	StateTransferring: "transferring",
	StateCompleted:    "completed",
	StateRejected:     "rejected",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal сообщает, что обработка завершена.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}
