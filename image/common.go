// go-common local proxy functions

package image

import (
	"github.com/rstms/go-common"

	"github.com/rstms/fatfs"
)

func Fatal(err error) error {
	return fatfs.Fatal(err)
}

func Fatalf(format string, args ...interface{}) error {
	return fatfs.Fatalf(format, args...)
}

func IsFile(filename string) bool {
	return common.IsFile(filename)
}
