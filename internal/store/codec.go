package store

import (
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// encodeJSON returns nil for a nil interface so the column stays NULL.
func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodePayload(kind models.Kind, data []byte) (models.Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case models.KindGenerate:
		var p models.GeneratePayload
		err := json.Unmarshal(data, &p)
		return p, err
	case models.KindEdit:
		var p models.EditPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case models.KindBatch:
		var p models.BatchPayload
		err := json.Unmarshal(data, &p)
		return p, err
	}
	return nil, fmt.Errorf("unknown job kind %q", kind)
}

func decodeResult(kind models.Kind, data []byte) (models.Result, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case models.KindGenerate:
		var r models.GenerateResult
		err := json.Unmarshal(data, &r)
		return r, err
	case models.KindEdit:
		var r models.EditResult
		err := json.Unmarshal(data, &r)
		return r, err
	case models.KindBatch:
		var r models.BatchResult
		err := json.Unmarshal(data, &r)
		return r, err
	}
	return nil, fmt.Errorf("unknown job kind %q", kind)
}
