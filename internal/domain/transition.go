package domain

// TransitionSuggestion is the engine's decision for one adjacent shot pair.
type TransitionSuggestion struct {
	FromShotID int64          `json:"from_shot_id"`
	ToShotID   int64          `json:"to_shot_id"`
	Type       TransitionType `json:"suggested_type"`
	Duration   float64        `json:"suggested_duration"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}
