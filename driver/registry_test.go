package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlite/mapreduce-lite/mrlite"
)

type nopMapper struct{}

func (nopMapper) Start(mrlite.Emitter)             {}
func (nopMapper) Flush(mrlite.Emitter)             {}
func (nopMapper) Map(_, _ []byte, _ mrlite.Emitter) {}

func TestMapperRegistryRegisterAndCreate(t *testing.T) {
	name := "driver-test-nop-mapper"
	Mappers.Register(name, func() mrlite.Mapper { return nopMapper{} })

	m, ok := Mappers.Create(name)
	require.True(t, ok)
	assert.IsType(t, nopMapper{}, m)

	_, ok = Mappers.Create("never-registered")
	assert.False(t, ok)
}
