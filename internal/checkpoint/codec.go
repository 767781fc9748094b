package checkpoint

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"utxo-cohort-lab/internal/engine"
)

// Encode serializes an engine snapshot.
func Encode(s *engine.Snapshot) ([]byte, error) {
	data, err := sonnet.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses an engine snapshot.
func Decode(data []byte) (*engine.Snapshot, error) {
	var s engine.Snapshot
	if err := sonnet.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(s.Chain) == 0 {
		return nil, fmt.Errorf("decode snapshot: empty chain state")
	}
	return &s, nil
}
