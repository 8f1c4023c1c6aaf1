package bitmask

// MARK is the sentinel command-class identifier terminating a
// variable-length CC list (spec.md GLOSSARY, "MARK").
const MARK = 0xEF

// EncodeCCList serializes an ordered list of command-class identifiers,
// appending the MARK terminator.
func EncodeCCList(ccs []byte) []byte {
	out := make([]byte, 0, len(ccs)+1)
	out = append(out, ccs...)
	out = append(out, MARK)
	return out
}

// DecodeCCList parses a MARK-terminated command-class list starting at
// offset 0 of data, returning the CCs before the MARK and the number of
// bytes consumed (including the MARK, if present). If no MARK is found,
// every byte in data is treated as a CC identifier.
func DecodeCCList(data []byte) (ccs []byte, n int) {
	for i, b := range data {
		if b == MARK {
			return append([]byte(nil), data[:i]...), i + 1
		}
	}
	return append([]byte(nil), data...), len(data)
}
