package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("urist")
	require.NoError(t, err)
	assert.Equal(t, "urist", u.Name)
	assert.True(t, u.Active)
	assert.False(t, u.Admin)
	assert.False(t, u.ID.IsZero())
}

func TestValidateUserName(t *testing.T) {
	assert.NoError(t, ValidateUserName("Ünsal_1.x-y"))
	for _, bad := range []string{"", "has space", "semi;colon"} {
		assert.ErrorIs(t, ValidateUserName(bad), ErrInvalidUserName, bad)
	}
}
