package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusError(t *testing.T) {
	err := NewBusError("can0", io.EOF)
	assert.ErrorIs(t, err, ErrBus)
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "can0")

	// Wrapping twice keeps the first source.
	again := NewBusError("other", fmt.Errorf("receive: %w", err))
	var be *BusError
	assert.True(t, errors.As(again, &be))
	assert.Equal(t, "can0", be.Source)

	assert.NoError(t, NewBusError("can0", nil))
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("write", cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBus)

	var se *StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "write", se.Op)
	assert.Same(t, err, NewStorageError("close", err))

	assert.NoError(t, NewStorageError("write", nil))
}
