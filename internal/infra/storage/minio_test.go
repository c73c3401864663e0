package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000/snapshots/uploads/a.json", objectURL(false, "minio:9000", "snapshots", "uploads/a.json"))
	assert.Equal(t, "https://s3.local/b/k", objectURL(true, "s3.local", "b", "k"))
}
