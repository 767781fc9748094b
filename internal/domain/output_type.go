package domain

import "fmt"

// OutputType is the script type of an unspent output.
// Unspendable outputs (OP_RETURN) never enter the UTXO set and have no variant.
type OutputType uint8

const (
	OutputP2PK65 OutputType = iota
	OutputP2PK33
	OutputP2PKH
	OutputP2MS
	OutputP2SH
	OutputP2WPKH
	OutputP2WSH
	OutputP2TR
	OutputP2A
	OutputEmpty
	OutputUnknown
)

// OutputTypeCount is the number of trackable output types.
const OutputTypeCount = int(OutputUnknown) + 1

var outputTypeNames = [OutputTypeCount]string{
	"p2pk65", "p2pk33", "p2pkh", "p2ms", "p2sh",
	"p2wpkh", "p2wsh", "p2tr", "p2a", "empty", "unknown",
}

// AllOutputTypes returns every trackable output type in declaration order.
func AllOutputTypes() []OutputType {
	out := make([]OutputType, OutputTypeCount)
	for i := range out {
		out[i] = OutputType(i)
	}
	return out
}

func (t OutputType) String() string {
	if int(t) < OutputTypeCount {
		return outputTypeNames[t]
	}
	return fmt.Sprintf("OutputType(%d)", uint8(t))
}

// Valid reports whether t is a trackable output type.
func (t OutputType) Valid() bool {
	return int(t) < OutputTypeCount
}

// ParseOutputType parses the lowercase name of an output type.
func ParseOutputType(s string) (OutputType, error) {
	for i, name := range outputTypeNames {
		if name == s {
			return OutputType(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported output type %q", s)
}
