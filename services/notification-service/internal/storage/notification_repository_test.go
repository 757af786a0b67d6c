package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertQuery(t *testing.T) {
	query, args, err := insertQuery(Notification{
		EventID:   "evt-1",
		Channel:   ChannelEmail,
		Recipient: "ada@example.com",
		Template:  "payment_receipt",
		Status:    StatusSent,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, `INSERT INTO "notifications"`), query)
	assert.Contains(t, query, "$1")
	assert.Contains(t, query, "NULL")
	assert.Len(t, args, 6)
	assert.Contains(t, args, "evt-1")
	assert.Contains(t, args, "ada@example.com")
}
