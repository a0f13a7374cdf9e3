// Package turncodec serializes the JSON columns shared by the turn stores.
package turncodec

import (
	"encoding/json"
	"fmt"

	models "advisor/internal/domain/models/agent"
)

// EncodeTurn serializes the JSON columns of a turn
func EncodeTurn(turn *models.Turn) (output, rawItems, metadata string, err error) {
	events := turn.Output
	if events == nil {
		events = []models.Event{}
	}
	items := turn.RawItems
	if items == nil {
		items = models.Items{}
	}
	meta := turn.Metadata
	if meta.Tags == nil {
		meta.Tags = []string{}
	}

	b, err := json.Marshal(events)
	if err != nil {
		return "", "", "", fmt.Errorf("encode output: %w", err)
	}
	output = string(b)

	if b, err = json.Marshal(items); err != nil {
		return "", "", "", fmt.Errorf("encode raw items: %w", err)
	}
	rawItems = string(b)

	if b, err = json.Marshal(meta); err != nil {
		return "", "", "", fmt.Errorf("encode metadata: %w", err)
	}
	metadata = string(b)
	return output, rawItems, metadata, nil
}

// DecodeState parses the replayable columns of a turn. Rows that fail to decode
// are an error: silently dropping history is worse than failing the request.
func DecodeState(rawItems, rawMetadata []byte) (models.Items, models.TurnMetadata, error) {
	items := models.Items{}
	if len(rawItems) > 0 {
		if err := json.Unmarshal(rawItems, &items); err != nil {
			return nil, models.TurnMetadata{}, fmt.Errorf("decode raw items: %w", err)
		}
	}

	var metadata models.TurnMetadata
	if len(rawMetadata) > 0 {
		if err := json.Unmarshal(rawMetadata, &metadata); err != nil {
			return nil, models.TurnMetadata{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return items, metadata, nil
}

// DecodeOutput parses a persisted event log
func DecodeOutput(data []byte) ([]models.Event, error) {
	events := []models.Event{}
	if len(data) == 0 {
		return events, nil
	}
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return events, nil
}
