// Package conv formats numbers into caller-owned buffers so MCU log
// paths never touch fmt or strconv.
package conv

// Utoa writes the base-10 form of n into the tail of buf and returns the
// used slice. buf needs 20 bytes for the full uint64 range; a short buf
// truncates high digits rather than growing.
func Utoa(buf []byte, n uint64) []byte {
	if len(buf) == 0 {
		return buf[:0]
	}
	i := len(buf)
	if n == 0 {
		i--
		buf[i] = '0'
		return buf[i:]
	}
	for n > 0 && i > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return buf[i:]
}

// Itoa is Utoa plus a sign. The magnitude negation wraps for MinInt64,
// which lands on the right unsigned value.
func Itoa(buf []byte, n int64) []byte {
	mag := uint64(n)
	if n < 0 {
		mag = -mag
	}
	s := Utoa(buf, mag)
	if n >= 0 || len(s) == len(buf) {
		return s
	}
	i := len(buf) - len(s) - 1
	buf[i] = '-'
	return buf[i:]
}
