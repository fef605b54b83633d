package budget

import "strconv"

// encodeMicro/decodeMicro mirror the decimal-ASCII encoding the cache
// backends use internally for counters, so a value written by Set and
// later mutated by Incr/DecrBounded round-trips consistently regardless
// of which backend is active.
func encodeMicro(v int64) []byte { return []byte(strconv.FormatInt(v, 10)) }

func decodeMicro(b []byte) int64 {
	v, _ := strconv.ParseInt(string(b), 10, 64)
	return v
}
