package orderitem

import (
	"testing"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Validate([]OrderItem{{ProductID: "p1", Quantity: 1}}))

	require.ErrorIs(t, Validate(nil), apperr.ErrValidation)
	require.ErrorIs(t, Validate([]OrderItem{{ProductID: "", Quantity: 1}}), apperr.ErrValidation)
	require.ErrorIs(t, Validate([]OrderItem{{ProductID: "p1", Quantity: 0}}), apperr.ErrValidation)
	require.ErrorIs(t, Validate([]OrderItem{{ProductID: "p1", Quantity: -3}}), apperr.ErrValidation)
}

func TestDemandMergesDuplicates(t *testing.T) {
	demand := Demand([]OrderItem{
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 4},
	})

	assert.Equal(t, []OrderItem{
		{ProductID: "b", Quantity: 5},
		{ProductID: "a", Quantity: 2},
	}, demand)
}
