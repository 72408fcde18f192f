package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type dummy struct{ name string }

func TestRegisterAndCreate(t *testing.T) {
	r := New[*dummy]()
	r.Register("hello", func() *dummy { return &dummy{name: "hello"} })

	got, ok := r.Create("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", got.name)
}

func TestCreateUnknownName(t *testing.T) {
	r := New[*dummy]()
	_, ok := r.Create("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := New[*dummy]()
	r.Register("a", func() *dummy { return &dummy{} })
	assert.Panics(t, func() {
		r.Register("a", func() *dummy { return &dummy{} })
	})
}
