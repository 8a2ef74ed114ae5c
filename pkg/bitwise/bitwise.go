package bitwise

// Unsigned covers the integer types flag words are stored in.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

func Unset[T Unsigned](n T, k int) T {
	return n &^ (1 << k) // AND NOT
}

func Set[T Unsigned](n T, k int) T {
	return n | (1 << k) // OR
}

func IsSet[T Unsigned](n T, k int) bool {
	return n&(1<<k) != 0
}
