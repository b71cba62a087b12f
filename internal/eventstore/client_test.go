package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_AppliesDefaults(t *testing.T) {
	client, err := Connect(context.Background(), Config{URI: "mongodb://127.0.0.1:1"})
	require.NoError(t, err)
	defer func() { _ = client.Close(context.Background()) }()

	coll := client.Collection()
	assert.Equal(t, DefaultCollection, coll.Name())
	assert.Equal(t, DefaultDatabase, coll.Database().Name())
	assert.Equal(t, DefaultTimeout, client.cfg.ConnectTimeout)
}

func TestConnect_InvalidURI(t *testing.T) {
	_, err := Connect(context.Background(), Config{URI: "not-a-mongo-uri"})
	assert.Error(t, err)
}
