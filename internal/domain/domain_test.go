package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("employee")
	assert.NoError(t, err)
	assert.Equal(t, RoleEmployee, r)

	r, err = ParseRole("user")
	assert.NoError(t, err)
	assert.Equal(t, RoleBuyer, r)

	_, err = ParseRole("root")
	assert.Error(t, err)
}

func TestPreviewTruncatesRunes(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))

	long := strings.Repeat("é", 150)
	assert.Equal(t, PreviewLength, len([]rune(Preview(long))))
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("message %s not found", "m1"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrAuthorization))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, "message m1 not found", MessageOf(err))

	foreign := errors.New("disk on fire")
	assert.Equal(t, CodeInternal, CodeOf(foreign))
	assert.Equal(t, ErrInternal.Message, MessageOf(foreign))
}

func TestAgentAverageRating(t *testing.T) {
	a := &Agent{}
	assert.Zero(t, a.AverageRating())
	a.RatingSum, a.RatingCount = 9, 2
	assert.InDelta(t, 4.5, a.AverageRating(), 0.001)
}
