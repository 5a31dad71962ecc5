// go-common local proxy functions

package fat

import (
	"github.com/rstms/fatfs"
)

func Fatal(err error) error {
	return fatfs.Fatal(err)
}

func Fatalf(format string, args ...interface{}) error {
	return fatfs.Fatalf(format, args...)
}
