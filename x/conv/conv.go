// Package conv formats integers into caller buffers for the watch face,
// which redraws often and must not allocate.
package conv

// Utoa writes n right-aligned into buf and returns the digits. Digits that
// do not fit are dropped from the left.
func Utoa(buf []byte, n uint64) []byte {
	i := len(buf)
	if i == 0 {
		return buf
	}
	if n == 0 {
		buf[i-1] = '0'
		return buf[i-1:]
	}
	for ; n > 0 && i > 0; n /= 10 {
		i--
		buf[i] = byte('0' + n%10)
	}
	return buf[i:]
}

// Itoa is Utoa with a leading minus for negative n.
func Itoa(buf []byte, n int64) []byte {
	if n >= 0 {
		return Utoa(buf, uint64(n))
	}
	if len(buf) < 2 {
		return buf[:0]
	}
	d := Utoa(buf[1:], uint64(-n))
	i := len(buf) - len(d) - 1
	buf[i] = '-'
	return buf[i:]
}
