package domain

import "fmt"

// CreatedOutput is an output created in a block and still unspent at the end of it.
type CreatedOutput struct {
	Amount Sats
	Type   OutputType
}

// SpentOutput references an output created at an earlier height and spent in this block.
type SpentOutput struct {
	CreatedHeight Height // height of the block that created the output
	Amount        Sats
	Type          OutputType
}

// Block is one height of the ledger feed.
type Block struct {
	Height    Height
	Timestamp int64         // block time, unix seconds
	Price     OptionalCents // fiat price at this height, absent without a price feed
	Created   []CreatedOutput
	Spent     []SpentOutput
}

// Validate checks the feed contract for a single block.
func (b *Block) Validate() error {
	if b == nil {
		return fmt.Errorf("nil block")
	}
	if b.Price.Valid && b.Price.Value <= 0 {
		return fmt.Errorf("block %d: non-positive price %d", b.Height, b.Price.Value)
	}
	for i, c := range b.Created {
		if !c.Type.Valid() {
			return fmt.Errorf("block %d: created[%d]: invalid output type %d", b.Height, i, c.Type)
		}
	}
	for i, s := range b.Spent {
		if !s.Type.Valid() {
			return fmt.Errorf("block %d: spent[%d]: invalid output type %d", b.Height, i, s.Type)
		}
		if s.CreatedHeight >= b.Height {
			return fmt.Errorf("block %d: spent[%d]: created at height %d, not before this block",
				b.Height, i, s.CreatedHeight)
		}
	}
	return nil
}

// CreatedSupply returns the sum of created amounts.
func (b *Block) CreatedSupply() Sats {
	var total Sats
	for _, c := range b.Created {
		total += c.Amount
	}
	return total
}

// SpentSupply returns the sum of spent amounts.
func (b *Block) SpentSupply() Sats {
	var total Sats
	for _, s := range b.Spent {
		total += s.Amount
	}
	return total
}
