package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Execute(t *testing.T) {
	r := registry.NewRegistry()
	r.Register("greet", func(ctx context.Context, req registry.Request) (registry.Result, error) {
		return registry.Result{
			Variables: domain.Variables{"greeted": "yes"},
			Messages:  []string{"Hello " + req.Variables["name"]},
		}, nil
	})

	res, err := r.Execute(context.Background(), "greet", registry.Request{Variables: domain.Variables{"name": "Ana"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello Ana"}, res.Messages)
	assert.Equal(t, "yes", res.Variables["greeted"])
	assert.Equal(t, []string{"greet"}, r.Names())

	_, err = r.Execute(context.Background(), "missing", registry.Request{})
	assert.Error(t, err)
}
