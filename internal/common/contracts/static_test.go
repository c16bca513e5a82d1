package contracts

import (
	"context"
	"testing"

	"rfq-workers/internal/common/config"
	"rfq-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLookup(t *testing.T) {
	ten, five := 10.0, 5.0
	lookup := NewStaticLookup(map[string]map[string]config.StaticContract{
		"s1": {
			"location_service": {Endpoints: "http://a", ContractValue: &ten},
			"notification":     {ContractValue: &five},
			"billing_service":  {Endpoints: "http://ignored", ContractValue: &ten},
		},
	})

	rec, err := lookup.Lookup(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", rec.StackID)
	assert.True(t, rec.Service(models.CategoryLocation).Dispatchable())
	assert.False(t, rec.Service(models.CategoryNotification).Dispatchable())
	assert.Len(t, rec.Services, 2)

	_, err = lookup.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrStackNotFound)
}
