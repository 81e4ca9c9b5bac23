package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectNameLayout(t *testing.T) {
	a := &GCSArchiver{
		bucket: "b",
		now: func() time.Time {
			return time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC)
		},
	}

	assert.Equal(t,
		"sync/2024-03-15/acc-1/transactions_093005.json",
		a.objectName("acc-1", "transactions"))
}
