package memremote

import "strconv"

func encodeCursor(offset int) string { return strconv.Itoa(offset) }

func decodeCursor(cursor string) int {
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
