package ramfs

import (
	"errors"
	"fmt"
)

// Engine operations replace and erase without asking. The helpers below put
// the unlink(2), rmdir(2) and rename(2) checks in front of them for adapters
// serving a kernel client.

// RenameFlags mirror the renameat2(2) flags an adapter may pass through
type RenameFlags uint32

const (
	RenameNoReplace RenameFlags = 1 << iota
	RenameExchange
)

// Unlink removes name from parent. kind restricts what may be removed:
// KindFile refuses directories, KindDir refuses files, and 0 accepts either.
// Directories must be empty.
func Unlink(op Operator, parent Handle, name string, kind Kind) error {
	attr, err := childAttr(op, parent, name)
	if err != nil {
		return err
	}
	switch {
	case kind == KindFile && attr.IsDir():
		return fmt.Errorf("%w: %q", ErrIsDirectory, name)
	case kind == KindDir && !attr.IsDir():
		return fmt.Errorf("%w: %q", ErrNotADirectory, name)
	}
	if attr.IsDir() {
		if err := checkEmpty(op, attr.Handle); err != nil {
			return err
		}
	}
	return op.Remove(parent, name)
}

// Rename moves name from srcParent to dstParent/newName. An existing
// destination is replaced only if it has the same kind as the source and,
// for a directory, is empty. Renaming a node onto itself succeeds without
// change.
func Rename(op Operator, srcParent Handle, name string, dstParent Handle, newName string, flags RenameFlags) error {
	if flags&RenameExchange != 0 {
		return fmt.Errorf("%w: exchange is not supported", ErrInvalidName)
	}
	src, err := childAttr(op, srcParent, name)
	if err != nil {
		return err
	}
	dst, err := childAttr(op, dstParent, newName)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case dst.Handle == src.Handle:
		return nil
	case flags&RenameNoReplace != 0:
		return fmt.Errorf("%w: %q", ErrAlreadyExists, newName)
	case src.IsDir() && !dst.IsDir():
		return fmt.Errorf("%w: %q", ErrNotADirectory, newName)
	case !src.IsDir() && dst.IsDir():
		return fmt.Errorf("%w: %q", ErrIsDirectory, newName)
	case dst.IsDir():
		if err := checkEmpty(op, dst.Handle); err != nil {
			return err
		}
	}
	return op.Move(srcParent, name, dstParent, newName)
}

func childAttr(op Operator, parent Handle, name string) (Attr, error) {
	h, err := op.Lookup(parent, name)
	if err != nil {
		return Attr{}, err
	}
	return op.GetAttributes(h)
}

func checkEmpty(op Operator, dir Handle) error {
	children, err := op.ListChildren(dir)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: handle %d", ErrNotEmpty, dir)
	}
	return nil
}
