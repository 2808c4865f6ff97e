package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryKey(t *testing.T) {
	assert.Equal(t, QueryKey("SELECT 1", "edw_prod"), QueryKey("SELECT 1", "edw_prod"))
	assert.NotEqual(t, QueryKey("SELECT 1", "edw_prod"), QueryKey("SELECT 1", "edw_dev"))
	assert.NotEqual(t, QueryKey("bc", "a"), QueryKey("c", "ab"))
	assert.Len(t, QueryKey("", ""), 32)
}
