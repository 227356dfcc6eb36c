package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/ramfs"
)

// MockOperator implements ramfs.Operator for adapter tests across packages
type MockOperator struct {
	mock.Mock
}

var _ ramfs.Operator = (*MockOperator)(nil)

func (m *MockOperator) Resolve(path string) (ramfs.Handle, error) {
	args := m.Called(path)
	return args.Get(0).(ramfs.Handle), args.Error(1)
}

func (m *MockOperator) ResolveParent(path string) (ramfs.Handle, string, error) {
	args := m.Called(path)
	return args.Get(0).(ramfs.Handle), args.String(1), args.Error(2)
}

func (m *MockOperator) Lookup(parent ramfs.Handle, name string) (ramfs.Handle, error) {
	args := m.Called(parent, name)
	return args.Get(0).(ramfs.Handle), args.Error(1)
}

func (m *MockOperator) GetAttributes(h ramfs.Handle) (ramfs.Attr, error) {
	args := m.Called(h)

	// Handle function return types (for attributes derived from the handle)
	if fn, ok := args.Get(0).(func(ramfs.Handle) ramfs.Attr); ok {
		return fn(h), args.Error(1)
	}
	return args.Get(0).(ramfs.Attr), args.Error(1)
}

func (m *MockOperator) ListChildren(h ramfs.Handle) ([]ramfs.DirEntry, error) {
	args := m.Called(h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ramfs.DirEntry), args.Error(1)
}

func (m *MockOperator) CreateFile(parent ramfs.Handle, name string, mode uint32) (ramfs.Handle, error) {
	args := m.Called(parent, name, mode)
	return args.Get(0).(ramfs.Handle), args.Error(1)
}

func (m *MockOperator) CreateDirectory(parent ramfs.Handle, name string, mode uint32) (ramfs.Handle, error) {
	args := m.Called(parent, name, mode)
	return args.Get(0).(ramfs.Handle), args.Error(1)
}

func (m *MockOperator) Remove(parent ramfs.Handle, name string) error {
	return m.Called(parent, name).Error(0)
}

func (m *MockOperator) Rename(parent ramfs.Handle, name, newName string) error {
	return m.Called(parent, name, newName).Error(0)
}

func (m *MockOperator) Move(srcParent ramfs.Handle, name string, dstParent ramfs.Handle, newName string) error {
	return m.Called(srcParent, name, dstParent, newName).Error(0)
}

func (m *MockOperator) ReadContent(h ramfs.Handle, offset int64, maxLength int) ([]byte, error) {
	args := m.Called(h, offset, maxLength)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockOperator) WriteContent(h ramfs.Handle, offset int64, data []byte) (int, error) {
	args := m.Called(h, offset, data)
	return args.Int(0), args.Error(1)
}

func (m *MockOperator) Truncate(h ramfs.Handle, size int64) error {
	return m.Called(h, size).Error(0)
}

func (m *MockOperator) SetMode(h ramfs.Handle, perm uint32) error {
	return m.Called(h, perm).Error(0)
}

func (m *MockOperator) GetXattr(h ramfs.Handle, name string) ([]byte, error) {
	args := m.Called(h, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockOperator) ListXattr(h ramfs.Handle) ([]string, error) {
	args := m.Called(h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockOperator) SetXattr(h ramfs.Handle, name string, value []byte) error {
	return m.Called(h, name, value).Error(0)
}

func (m *MockOperator) RemoveXattr(h ramfs.Handle, name string) error {
	return m.Called(h, name).Error(0)
}

func (m *MockOperator) Stats() ramfs.Stats {
	return m.Called().Get(0).(ramfs.Stats)
}
