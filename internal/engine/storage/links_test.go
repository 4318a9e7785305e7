package storage

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-api/strata/internal/engine/schema"
)

func tagsRel(t *testing.T, s *Store) *relFixture {
	t.Helper()
	articles, _ := s.Registry().Get("articles")
	rel, ok := articles.Relationship("tags")
	require.True(t, ok)
	comments, cok := articles.Relationship("comments")
	require.True(t, cok)
	return &relFixture{tags: rel, comments: comments}
}

type relFixture struct {
	tags     *schema.Relationship
	comments *schema.Relationship
}

func TestPivotKeys(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT tag_id FROM article_taggings WHERE article_id = $1",
	)).WithArgs("1").WillReturnRows(
		sqlmock.NewRows([]string{"tag_id"}).AddRow(int64(100)).AddRow(int64(101)),
	)

	keys, err := s.PivotKeys(context.Background(), fx.tags, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "101"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPivotAttach(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	// One insert per link row; the this-side key is filled in.
	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO article_taggings (article_id, tag_id) VALUES ($1, $2) RETURNING id",
	)).WithArgs("1", "100").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(50)))
	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO article_taggings (article_id, position, tag_id) VALUES ($1, $2, $3) RETURNING id",
	)).WithArgs("1", 3, "101").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(51)))

	err := s.PivotAttach(context.Background(), fx.tags, "1", []map[string]interface{}{
		{"tag_id": "100"},
		{"tag_id": "101", "position": 3},
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPivotDetach(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM article_taggings WHERE article_id = $1 AND tag_id IN ($2, $3)",
	)).WithArgs("1", "100", "101").WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.PivotDetach(context.Background(), fx.tags, "1", []string{"100", "101"}, nil)
	require.NoError(t, err)

	// Empty detach issues no SQL.
	require.NoError(t, s.PivotDetach(context.Background(), fx.tags, "1", nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPivotClear(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM article_taggings WHERE article_id = $1",
	)).WithArgs("1").WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.PivotClear(context.Background(), fx.tags, "1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChildKeys(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id FROM comments WHERE article_id = $1",
	)).WithArgs("1").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(int64(10)).AddRow(int64(11)),
	)

	keys, err := s.ChildKeys(context.Background(), fx.comments, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdoptChildren(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE comments SET article_id = $1 WHERE id IN ($2, $3)",
	)).WithArgs("1", "10", "11").WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.AdoptChildren(context.Background(), fx.comments, "1", []string{"10", "11"}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseChildren(t *testing.T) {
	s, mock := testStore(t)
	fx := tagsRel(t, s)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE comments SET article_id = NULL WHERE article_id = $1 AND id IN ($2)",
	)).WithArgs("1", "10").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ReleaseChildren(context.Background(), fx.comments, "1", []string{"10"}, nil)
	require.NoError(t, err)

	// Empty release issues no SQL.
	require.NoError(t, s.ReleaseChildren(context.Background(), fx.comments, "1", nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
