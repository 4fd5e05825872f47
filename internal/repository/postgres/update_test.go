package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/Kerhoff/wishsync/internal/apperr"
)

func TestUpdateBuilder(t *testing.T) {
	var b updateBuilder
	assert.True(t, b.empty())

	b.set("name", "Birthday")
	b.set("category", "events")
	b.raw("revision = revision + 1")

	query, args := b.build("lists", "l1")
	assert.Equal(t, "UPDATE lists SET name = $1, category = $2, revision = revision + 1 WHERE id = $3", query)
	assert.Equal(t, []any{"Birthday", "events", "l1"}, args)
}

func TestClassify(t *testing.T) {
	denied := &pq.Error{Code: codeInsufficientPrivilege}
	assert.True(t, apperr.Is(classify("update", denied), apperr.KindRemoteWrite))

	conn := &pq.Error{Code: "08006"}
	assert.True(t, apperr.Is(classify("update", conn), apperr.KindNetwork))

	other := errors.New("syntax")
	assert.Equal(t, apperr.KindUnknown, apperr.KindOf(classify("update", other)))
	assert.Nil(t, classify("update", nil))

	assert.True(t, isUniqueViolation(&pq.Error{Code: codeUniqueViolation}))
}
