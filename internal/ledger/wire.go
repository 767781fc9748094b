package ledger

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"utxo-cohort-lab/internal/domain"
)

// wireBlock is the JSON form of a block on both the file and websocket feeds.
//
//	{"height":100,"timestamp":1231006505,"price":2000000,
//	 "created":[{"amount":50000,"type":"p2wpkh"}],
//	 "spent":[{"height":12,"amount":700,"type":"p2pkh"}]}
//
// price is in cents and omitted at heights without a price.
type wireBlock struct {
	Height    uint64        `json:"height"`
	Timestamp int64         `json:"timestamp"`
	Price     *int64        `json:"price,omitempty"`
	Created   []wireCreated `json:"created,omitempty"`
	Spent     []wireSpent   `json:"spent,omitempty"`
}

type wireCreated struct {
	Amount uint64 `json:"amount"`
	Type   string `json:"type"`
}

type wireSpent struct {
	Height uint64 `json:"height"`
	Amount uint64 `json:"amount"`
	Type   string `json:"type"`
}

// DecodeBlock parses one JSON block.
func DecodeBlock(data []byte) (*domain.Block, error) {
	var w wireBlock
	if err := sonnet.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	b := &domain.Block{
		Height:    domain.Height(w.Height),
		Timestamp: w.Timestamp,
	}
	if w.Price != nil {
		b.Price = domain.SomeCents(domain.Cents(*w.Price))
	}
	if len(w.Created) > 0 {
		b.Created = make([]domain.CreatedOutput, len(w.Created))
	}
	for i, c := range w.Created {
		typ, err := domain.ParseOutputType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d created[%d]: %v", ErrInvalidFeed, w.Height, i, err)
		}
		b.Created[i] = domain.CreatedOutput{Amount: domain.Sats(c.Amount), Type: typ}
	}
	if len(w.Spent) > 0 {
		b.Spent = make([]domain.SpentOutput, len(w.Spent))
	}
	for i, s := range w.Spent {
		typ, err := domain.ParseOutputType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d spent[%d]: %v", ErrInvalidFeed, w.Height, i, err)
		}
		b.Spent[i] = domain.SpentOutput{
			CreatedHeight: domain.Height(s.Height),
			Amount:        domain.Sats(s.Amount),
			Type:          typ,
		}
	}
	return b, nil
}

// EncodeBlock renders a block as one JSON line without the trailing newline.
func EncodeBlock(b *domain.Block) ([]byte, error) {
	w := wireBlock{Height: uint64(b.Height), Timestamp: b.Timestamp}
	if b.Price.Valid {
		p := int64(b.Price.Value)
		w.Price = &p
	}
	for _, c := range b.Created {
		w.Created = append(w.Created, wireCreated{Amount: uint64(c.Amount), Type: c.Type.String()})
	}
	for _, s := range b.Spent {
		w.Spent = append(w.Spent, wireSpent{Height: uint64(s.CreatedHeight), Amount: uint64(s.Amount), Type: s.Type.String()})
	}
	return sonnet.Marshal(&w)
}
