package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// QueryKey identifies a (sql, database) pair. The NUL separator keeps
// ("a", "bc") and ("ab", "c") apart.
func QueryKey(sql, database string) string {
	return HashString(database + "\x00" + sql)
}
