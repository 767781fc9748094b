package verification

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"utxo-cohort-lab/internal/storage"
)

// Digest computes a deterministic SHA256 over a series' version, width and
// its first n rows. Rows beyond the stored length are ignored.
// Returns hex-encoded hash (64 characters).
func Digest(ctx context.Context, store storage.ColumnStore, name string, n uint64) (string, error) {
	h, err := store.Header(ctx, name)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", name, err)
	}
	n = min(n, h.Len)

	sum := sha256.New()
	var hdr [24]byte
	binary.BigEndian.PutUint64(hdr[0:], h.Version)
	binary.BigEndian.PutUint64(hdr[8:], uint64(h.Width))
	binary.BigEndian.PutUint64(hdr[16:], n)
	sum.Write(hdr[:])

	for from := uint64(0); from < n; from += chunk {
		rows, err := store.ReadRange(ctx, name, from, min(from+chunk, n))
		if err != nil {
			return "", fmt.Errorf("digest %s: %w", name, err)
		}
		for _, row := range rows {
			sum.Write(row)
		}
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// DigestAll digests every series of a store up to n rows each.
func DigestAll(ctx context.Context, store storage.ColumnStore, n uint64) (map[string]string, error) {
	names, err := store.Names(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		d, err := Digest(ctx, store, name, n)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	return out, nil
}

// CompareDigests reports every series whose digest differs between want and
// got, including series present on one side only.
func CompareDigests(want, got map[string]string) []Divergence {
	names := make(map[string]struct{}, len(want)+len(got))
	for n := range want {
		names[n] = struct{}{}
	}
	for n := range got {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var out []Divergence
	for _, n := range sorted {
		w, wok := want[n]
		g, gok := got[n]
		switch {
		case !wok:
			out = append(out, Divergence{Check: CheckDigest, Series: n, Expected: "missing", Actual: g})
		case !gok:
			out = append(out, Divergence{Check: CheckDigest, Series: n, Expected: w, Actual: "missing"})
		case w != g:
			out = append(out, Divergence{Check: CheckDigest, Series: n, Expected: w, Actual: g})
		}
	}
	return out
}
