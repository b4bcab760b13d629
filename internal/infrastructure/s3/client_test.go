package s3infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZoneKey(t *testing.T) {
	assert.Equal(t, "zones/t1/example.com.zone", ZoneKey("t1", "Example.COM"))
}
