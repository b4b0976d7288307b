package brokers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("paper", func() Broker { return NewPaperBroker() }))

	first, err := r.Create("paper")
	require.NoError(t, err)
	second, err := r.Create("paper")
	require.NoError(t, err)

	// Each Create returns a fresh adapter instance.
	assert.NotSame(t, first, second)
	assert.Equal(t, "paper", first.Name())
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("paper", func() Broker { return NewPaperBroker() }))

	err := r.Register("paper", func() Broker { return NewPaperBroker() })
	assert.ErrorIs(t, err, ErrBrokerRegistered)
}

func TestRegistryUnknownBroker(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("ghost")
	assert.ErrorIs(t, err, ErrUnknownBroker)
}

func TestRegistryAvailableSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("nexa", func() Broker { return NewNexaBroker() }))
	require.NoError(t, r.Register("flux", func() Broker { return NewFluxBroker() }))
	require.NoError(t, r.Register("paper", func() Broker { return NewPaperBroker() }))

	assert.Equal(t, []string{"flux", "nexa", "paper"}, r.Available())
}
