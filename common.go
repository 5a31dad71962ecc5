// go-common local proxy functions

package fatfs

import (
	"fmt"

	"github.com/rstms/go-common"
)

// tracedError carries the go-common decorated message and keeps the
// decorated error reachable through errors.Is and errors.As.
type tracedError struct {
	msg string
	err error
}

func (e *tracedError) Error() string {
	return e.msg
}

func (e *tracedError) Unwrap() error {
	return e.err
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	decorated := common.Fatal(err)
	if decorated == nil {
		return err
	}
	return &tracedError{msg: decorated.Error(), err: err}
}

func Fatalf(format string, args ...interface{}) error {
	return Fatal(fmt.Errorf(format, args...))
}
