package ramfs

import (
	"errors"
	"io/fs"
	"syscall"
)

// Error is a sentinel engine error. Adapters match it with errors.Is and
// translate it to a protocol status with [Errno].
type Error struct {
	msg   string
	errno syscall.Errno
	// compat is an io/fs sentinel the error also matches, if any
	compat error
}

func (e *Error) Error() string {
	return e.msg
}

// Is lets ErrNotFound and ErrAlreadyExists match fs.ErrNotExist / fs.ErrExist
// through errors.Is, including when wrapped with %w
func (e *Error) Is(target error) bool {
	return e.compat != nil && target == e.compat
}

var (
	ErrNotFound       = &Error{msg: "not found", errno: syscall.ENOENT, compat: fs.ErrNotExist}
	ErrNotADirectory  = &Error{msg: "not a directory", errno: syscall.ENOTDIR}
	ErrAlreadyExists  = &Error{msg: "already exists", errno: syscall.EEXIST, compat: fs.ErrExist}
	ErrNotImplemented = &Error{msg: "not implemented", errno: syscall.ENOSYS}
	ErrIsDirectory    = &Error{msg: "is a directory", errno: syscall.EISDIR}
	ErrNotEmpty       = &Error{msg: "directory not empty", errno: syscall.ENOTEMPTY}
	ErrInvalidName    = &Error{msg: "invalid name", errno: syscall.EINVAL}
	ErrInvalidMove    = &Error{msg: "cannot move a directory into itself", errno: syscall.EINVAL}
	ErrInvalidOffset  = &Error{msg: "invalid offset", errno: syscall.EINVAL}
	ErrFileTooLarge   = &Error{msg: "file too large", errno: syscall.EFBIG}
)

// Errno maps an engine error to the errno a kernel protocol expects.
// nil maps to 0; errors outside the taxonomy map to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.errno
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
