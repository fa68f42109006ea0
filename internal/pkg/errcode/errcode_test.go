package errcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodesAreStable(t *testing.T) {
	assert.Equal(t, 10000001, ErrUnauthorized)
	assert.Equal(t, 10000010, ErrDependency)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "similar content unavailable", Message(ErrRetrieval))
	assert.Equal(t, "unknown error", Message(42))
}
