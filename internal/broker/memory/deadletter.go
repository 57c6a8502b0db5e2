package memory

import (
	"encoding/json"

	"github.com/webitel/journal-sync/internal/domain/model"
)

func marshalDeadLetter(d model.DeadLetter) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDeadLetter decodes a dead-letter queue message body produced by
// sendDeadLetter, for consumers draining broker.DeadLetters().
func UnmarshalDeadLetter(body []byte) (model.DeadLetter, error) {
	var d model.DeadLetter
	err := json.Unmarshal(body, &d)
	return d, err
}
