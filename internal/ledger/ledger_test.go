package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"utxo-cohort-lab/internal/domain"
)

func sampleBlocks(n int) []*domain.Block {
	blocks := make([]*domain.Block, n)
	for i := range blocks {
		b := &domain.Block{
			Height:    domain.Height(i),
			Timestamp: 1_600_000_000 + int64(i)*600,
			Created:   []domain.CreatedOutput{{Amount: domain.Sats(1000 + i), Type: domain.OutputP2WPKH}},
		}
		if i%2 == 0 {
			b.Price = domain.SomeCents(domain.Cents(2_000_000 + i))
		}
		if i > 0 {
			b.Spent = []domain.SpentOutput{{CreatedHeight: domain.Height(i - 1), Amount: domain.Sats(999 + i), Type: domain.OutputP2WPKH}}
		}
		blocks[i] = b
	}
	return blocks
}

func TestDecodeBlock(t *testing.T) {
	line := []byte(`{"height":100,"timestamp":1231006505,"price":2000000,` +
		`"created":[{"amount":50000,"type":"p2wpkh"}],"spent":[{"height":12,"amount":700,"type":"p2pkh"}]}`)
	b, err := DecodeBlock(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Height != 100 || b.Timestamp != 1231006505 {
		t.Errorf("header = %d/%d", b.Height, b.Timestamp)
	}
	if !b.Price.Valid || b.Price.Value != 2_000_000 {
		t.Errorf("price = %v", b.Price)
	}
	if len(b.Created) != 1 || b.Created[0].Type != domain.OutputP2WPKH || b.Created[0].Amount != 50_000 {
		t.Errorf("created = %+v", b.Created)
	}
	if len(b.Spent) != 1 || b.Spent[0].CreatedHeight != 12 || b.Spent[0].Type != domain.OutputP2PKH {
		t.Errorf("spent = %+v", b.Spent)
	}

	unpriced, err := DecodeBlock([]byte(`{"height":1,"timestamp":5}`))
	if err != nil {
		t.Fatalf("decode unpriced: %v", err)
	}
	if unpriced.Price.Valid {
		t.Error("missing price decoded as present")
	}

	if _, err := DecodeBlock([]byte(`{"height":1,"created":[{"amount":1,"type":"op_return"}]}`)); !errors.Is(err, ErrInvalidFeed) {
		t.Errorf("unknown type: error = %v, want ErrInvalidFeed", err)
	}
	if _, err := DecodeBlock([]byte(`{"height":`)); !errors.Is(err, ErrInvalidFeed) {
		t.Errorf("truncated: error = %v, want ErrInvalidFeed", err)
	}
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource(sampleBlocks(3))
	b, err := src.Block(ctx, 2)
	if err != nil || b.Height != 2 {
		t.Fatalf("block 2 = %v, %v", b, err)
	}
	if _, err := src.Block(ctx, 3); !errors.Is(err, ErrEndOfFeed) {
		t.Errorf("past end: error = %v, want ErrEndOfFeed", err)
	}
}

func writeFeed(t *testing.T, blocks []*domain.Block) string {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteFile(&buf, blocks); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestFileSource_SequentialAndRewind(t *testing.T) {
	ctx := context.Background()
	blocks := sampleBlocks(5)
	src, err := OpenFile(writeFeed(t, blocks), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	for h := domain.Height(0); h < 5; h++ {
		b, err := src.Block(ctx, h)
		if err != nil {
			t.Fatalf("block %d: %v", h, err)
		}
		if b.Height != h || b.Price != blocks[h].Price || len(b.Spent) != len(blocks[h].Spent) {
			t.Errorf("block %d = %+v", h, b)
		}
	}
	if _, err := src.Block(ctx, 5); !errors.Is(err, ErrEndOfFeed) {
		t.Errorf("past end: error = %v, want ErrEndOfFeed", err)
	}

	b, err := src.Block(ctx, 1)
	if err != nil || b.Height != 1 {
		t.Fatalf("rewind to 1 = %v, %v", b, err)
	}
	b, err = src.Block(ctx, 3)
	if err != nil || b.Height != 3 {
		t.Fatalf("skip to 3 = %v, %v", b, err)
	}
}

func TestFileSource_Gap(t *testing.T) {
	blocks := sampleBlocks(4)
	path := writeFeed(t, []*domain.Block{blocks[0], blocks[1], blocks[3]})
	src, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	if _, err := src.Block(ctx, 1); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	if _, err := src.Block(ctx, 2); !errors.Is(err, ErrInvalidFeed) {
		t.Errorf("gap: error = %v, want ErrInvalidFeed", err)
	}
}

func TestSynthetic_Deterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Blocks = 200
	a, b := Synthetic(cfg), Synthetic(cfg)
	if len(a) != 200 {
		t.Fatalf("blocks = %d", len(a))
	}
	for i := range a {
		la, _ := EncodeBlock(a[i])
		lb, _ := EncodeBlock(b[i])
		if !bytes.Equal(la, lb) {
			t.Fatalf("block %d differs between runs", i)
		}
		if err := a[i].Validate(); err != nil {
			t.Fatalf("block %d invalid: %v", i, err)
		}
	}
	if a[0].Price.Valid {
		t.Error("height 0 priced before PriceFrom")
	}
}
